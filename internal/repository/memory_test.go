package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMemoryClass(t *testing.T, capacity int) (*MemoryBackend, *model.ClassInstance) {
	t.Helper()
	mem := NewMemoryBackend()
	ctx := context.Background()

	start := time.Now().Add(24 * time.Hour)
	class, err := mem.Classes.Publish(ctx, model.PublishClassRequest{
		Name:     "Spin",
		StartsAt: start,
		EndsAt:   start.Add(time.Hour),
		Capacity: capacity,
	})
	require.NoError(t, err)
	require.NoError(t, mem.Ledger.Track(ctx, *class, 0))
	return mem, class
}

func TestMemoryLedger_ReserveUntilFull(t *testing.T) {
	mem, class := setupMemoryClass(t, 2)
	ctx := context.Background()

	tok, err := mem.Ledger.TryReserveSeat(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tok.HeldCount)
	assert.Equal(t, class.ID, tok.ClassID)

	tok, err = mem.Ledger.TryReserveSeat(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, tok.HeldCount)

	_, err = mem.Ledger.TryReserveSeat(ctx, class.ID)
	assert.ErrorIs(t, err, ErrClassFull)

	counter, err := mem.Ledger.Counter(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counter.Held)
	assert.Equal(t, 0, counter.Remaining())
	assert.False(t, counter.Available())
}

func TestMemoryLedger_UnknownClass(t *testing.T) {
	mem := NewMemoryBackend()

	_, err := mem.Ledger.TryReserveSeat(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mem.Ledger.ReleaseSeat(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedger_ReleaseFloorsAtZero(t *testing.T) {
	mem, class := setupMemoryClass(t, 1)
	ctx := context.Background()

	_, err := mem.Ledger.TryReserveSeat(ctx, class.ID)
	require.NoError(t, err)

	held, err := mem.Ledger.ReleaseSeat(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, held)

	held, err = mem.Ledger.ReleaseSeat(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, held)
}

func TestMemoryLedger_LockTimeout(t *testing.T) {
	mem, class := setupMemoryClass(t, 5)

	unlock, err := mem.Ledger.st.lockClass(context.Background(), class.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = mem.Ledger.TryReserveSeat(ctx, class.ID)
	assert.ErrorIs(t, err, ErrTimeout)

	counter, err := mem.Ledger.Counter(context.Background(), class.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, counter.Held)
}

func TestMemoryLedger_ConcurrentReservesNeverOverbook(t *testing.T) {
	const capacity, callers = 5, 50
	mem, class := setupMemoryClass(t, capacity)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		full    atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mem.Ledger.TryReserveSeat(context.Background(), class.ID)
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrClassFull):
				full.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, capacity, granted.Load())
	assert.EqualValues(t, callers-capacity, full.Load())
}

func TestMemoryLedger_TrackKeepsHeld(t *testing.T) {
	mem, class := setupMemoryClass(t, 3)
	ctx := context.Background()

	_, err := mem.Ledger.TryReserveSeat(ctx, class.ID)
	require.NoError(t, err)

	require.NoError(t, mem.Ledger.Track(ctx, *class, 0))

	counter, err := mem.Ledger.Counter(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.Held)

	other := *class
	other.ID = "seeded"
	require.NoError(t, mem.Ledger.Track(ctx, other, 2))
	counter, err = mem.Ledger.Counter(ctx, "seeded")
	require.NoError(t, err)
	assert.Equal(t, 2, counter.Held)

	counters, err := mem.Ledger.Counters(ctx, []string{class.ID, "seeded", "missing"})
	require.NoError(t, err)
	assert.Len(t, counters, 2)
}

func TestMemoryReservations_OneHeldPerUser(t *testing.T) {
	mem, class := setupMemoryClass(t, 3)
	ctx := context.Background()
	seat := model.SeatToken{ClassID: class.ID, HeldCount: 1}

	res, err := mem.Reservations.Create(ctx, seat, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusHeld, res.Status)

	_, err = mem.Reservations.Create(ctx, seat, "alice")
	assert.ErrorIs(t, err, ErrDuplicate)

	held, err := mem.Reservations.FindHeld(ctx, "alice", class.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, held.ID)

	n, err := mem.Reservations.CountHeld(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryReservations_Transition(t *testing.T) {
	mem, class := setupMemoryClass(t, 3)
	ctx := context.Background()

	res, err := mem.Reservations.Create(ctx, model.SeatToken{ClassID: class.ID}, "alice")
	require.NoError(t, err)

	cancelled, err := mem.Reservations.Transition(ctx, res.ID, model.StatusHeld, model.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	_, err = mem.Reservations.Transition(ctx, res.ID, model.StatusHeld, model.StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = mem.Reservations.Transition(ctx, "missing", model.StatusHeld, model.StatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mem.Reservations.FindHeld(ctx, "alice", class.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A cancelled reservation frees the pair for a new one.
	again, err := mem.Reservations.Create(ctx, model.SeatToken{ClassID: class.ID}, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, res.ID, again.ID)

	mine, err := mem.Reservations.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, again.ID, mine[0].ID)

	byClass, err := mem.Reservations.ListByClass(ctx, class.ID)
	require.NoError(t, err)
	require.Len(t, byClass, 2)
	assert.Equal(t, res.ID, byClass[0].ID)
}

func TestMemoryWaitlist_FIFOAndDuplicates(t *testing.T) {
	mem, class := setupMemoryClass(t, 1)
	ctx := context.Background()

	a, err := mem.Waitlist.Join(ctx, class.ID, "alice")
	require.NoError(t, err)
	b, err := mem.Waitlist.Join(ctx, class.ID, "bob")
	require.NoError(t, err)
	assert.Less(t, a.Seq, b.Seq)

	_, err = mem.Waitlist.Join(ctx, class.ID, "alice")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = mem.Waitlist.Join(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := mem.Waitlist.Entries(ctx, class.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].UserID)
	assert.Equal(t, "bob", entries[1].UserID)
}

func TestMemoryWaitlist_JoinRejectsHeldUser(t *testing.T) {
	mem, class := setupMemoryClass(t, 1)
	ctx := context.Background()

	_, err := mem.Reservations.Create(ctx, model.SeatToken{ClassID: class.ID}, "alice")
	require.NoError(t, err)

	_, err = mem.Waitlist.Join(ctx, class.ID, "alice")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryWaitlist_LeaveRemoveRequeue(t *testing.T) {
	mem, class := setupMemoryClass(t, 1)
	ctx := context.Background()

	a, err := mem.Waitlist.Join(ctx, class.ID, "alice")
	require.NoError(t, err)
	_, err = mem.Waitlist.Join(ctx, class.ID, "bob")
	require.NoError(t, err)

	left, err := mem.Waitlist.Leave(ctx, class.ID, "carol")
	require.NoError(t, err)
	assert.False(t, left)

	removed, err := mem.Waitlist.Remove(ctx, *a)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = mem.Waitlist.Remove(ctx, *a)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, mem.Waitlist.Requeue(ctx, *a))
	require.NoError(t, mem.Waitlist.Requeue(ctx, *a))

	entries, err := mem.Waitlist.Entries(ctx, class.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].UserID)

	left, err = mem.Waitlist.Leave(ctx, class.ID, "bob")
	require.NoError(t, err)
	assert.True(t, left)

	mine, err := mem.Waitlist.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestMemoryClasses_ListWindow(t *testing.T) {
	mem := NewMemoryBackend()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i, name := range []string{"Yoga", "Boxing", "Pilates"} {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		_, err := mem.Classes.Publish(ctx, model.PublishClassRequest{
			Name: name, StartsAt: start, EndsAt: start.Add(time.Hour), Capacity: 10,
		})
		require.NoError(t, err)
	}

	out, err := mem.Classes.List(ctx, base, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Yoga", out[0].Name)
	assert.Equal(t, "Boxing", out[1].Name)

	out, err = mem.Classes.ListFrom(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Boxing", out[0].Name)
	assert.Equal(t, "Pilates", out[1].Name)

	_, err = mem.Classes.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
