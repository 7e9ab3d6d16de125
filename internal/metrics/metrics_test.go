package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	before := testutil.ToFloat64(reservationOperations.WithLabelValues("reserve", "full"))
	r.ObserveOperation("reserve", "full")
	assert.Equal(t, before+1, testutil.ToFloat64(reservationOperations.WithLabelValues("reserve", "full")))

	before = testutil.ToFloat64(waitlistPromotions.WithLabelValues("promoted"))
	r.ObservePromotion("promoted")
	assert.Equal(t, before+1, testutil.ToFloat64(waitlistPromotions.WithLabelValues("promoted")))

	r.ObserveLedgerWait("reserve", 3*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(ledgerWait))
}

func TestObserveHTTP(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/classes", "200"))

	ObserveHTTP("GET", "/classes", 200, 12*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/classes", "200")))
}
