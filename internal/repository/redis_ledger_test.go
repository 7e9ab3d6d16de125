package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedisLedger() (*RedisLedger, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewRedisLedger(db), mock
}

func TestRedisLedger_TryReserveSeat_Success(t *testing.T) {
	ledger, mock := setupTestRedisLedger()
	defer mock.ClearExpected()

	mock.ExpectEval(reserveSeatScript, []string{"class:seats:c1"}).SetVal(int64(3))

	tok, err := ledger.TryReserveSeat(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, "c1", tok.ClassID)
	assert.Equal(t, 3, tok.HeldCount)
	assert.False(t, tok.IssuedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_TryReserveSeat_Full(t *testing.T) {
	ledger, mock := setupTestRedisLedger()
	defer mock.ClearExpected()

	mock.ExpectEval(reserveSeatScript, []string{"class:seats:c1"}).SetVal(int64(scriptFull))

	_, err := ledger.TryReserveSeat(context.Background(), "c1")

	assert.ErrorIs(t, err, ErrClassFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_TryReserveSeat_UnknownClass(t *testing.T) {
	ledger, mock := setupTestRedisLedger()
	defer mock.ClearExpected()

	mock.ExpectEval(reserveSeatScript, []string{"class:seats:c1"}).SetVal(int64(scriptMissing))

	_, err := ledger.TryReserveSeat(context.Background(), "c1")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_TryReserveSeat_RedisError(t *testing.T) {
	ledger, mock := setupTestRedisLedger()
	defer mock.ClearExpected()

	mock.ExpectEval(reserveSeatScript, []string{"class:seats:c1"}).SetErr(errors.New("READONLY replica"))

	_, err := ledger.TryReserveSeat(context.Background(), "c1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserve seat")
	assert.NotErrorIs(t, err, ErrClassFull)
}

func TestRedisLedger_ReleaseSeat(t *testing.T) {
	ledger, mock := setupTestRedisLedger()
	defer mock.ClearExpected()

	mock.ExpectEval(releaseSeatScript, []string{"class:seats:c1"}).SetVal(int64(0))
	mock.ExpectEval(releaseSeatScript, []string{"class:seats:c2"}).SetVal(int64(scriptMissing))

	held, err := ledger.ReleaseSeat(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, held)

	_, err = ledger.ReleaseSeat(context.Background(), "c2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_Counter(t *testing.T) {
	ledger, mock := setupTestRedisLedger()
	defer mock.ClearExpected()

	mock.ExpectHMGet("class:seats:c1", "capacity", "held").SetVal([]interface{}{"20", "7"})

	counter, err := ledger.Counter(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, model.CapacityCounter{ClassID: "c1", Capacity: 20, Held: 7}, counter)
	assert.Equal(t, 13, counter.Remaining())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_Counters_SkipsUnknown(t *testing.T) {
	ledger, mock := setupTestRedisLedger()
	defer mock.ClearExpected()

	mock.ExpectHMGet("class:seats:c1", "capacity", "held").SetVal([]interface{}{"10", nil})
	mock.ExpectHMGet("class:seats:c2", "capacity", "held").SetVal([]interface{}{nil, nil})

	counters, err := ledger.Counters(context.Background(), []string{"c1", "c2"})

	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, 10, counters["c1"].Capacity)
	assert.Equal(t, 0, counters["c1"].Held)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_Track(t *testing.T) {
	ledger, mock := setupTestRedisLedger()
	defer mock.ClearExpected()

	mock.ExpectHSet("class:seats:c1", "capacity", 20).SetVal(1)
	mock.ExpectHSetNX("class:seats:c1", "held", 4).SetVal(true)

	err := ledger.Track(context.Background(), model.ClassInstance{ID: "c1", Capacity: 20}, 4)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseCounter_BadValue(t *testing.T) {
	_, err := parseCounter("c1", []any{"twenty", "1"})
	assert.Error(t, err)

	_, err = parseCounter("c1", []any{int64(5), 1.5})
	assert.Error(t, err)
}
