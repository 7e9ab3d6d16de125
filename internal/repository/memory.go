package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
)

// MemoryBackend bundles in-process implementations of the catalog, ledger,
// reservation store and waitlist. They share per-class locks, so seat counts
// and waitlist sequence numbers are serialised per class exactly as the
// PostgreSQL row lock serialises them.
type MemoryBackend struct {
	Classes      *MemoryClassRepository
	Ledger       *MemoryLedger
	Reservations *MemoryReservationRepository
	Waitlist     *MemoryWaitlistRepository
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	st := &memoryState{
		locks:        make(map[string]chan struct{}),
		classes:      make(map[string]model.ClassInstance),
		counters:     make(map[string]*model.CapacityCounter),
		reservations: make(map[string]*model.Reservation),
		held:         make(map[pairKey]string),
		waitlists:    make(map[string][]model.WaitlistEntry),
		seqs:         make(map[string]int64),
	}
	return &MemoryBackend{
		Classes:      &MemoryClassRepository{st: st},
		Ledger:       &MemoryLedger{st: st},
		Reservations: &MemoryReservationRepository{st: st},
		Waitlist:     &MemoryWaitlistRepository{st: st},
	}
}

type pairKey struct {
	classID string
	userID  string
}

type memoryState struct {
	mu sync.Mutex

	// locks holds one single-slot channel per class. A channel rather than a
	// sync.Mutex so acquisition can give up when the context expires.
	locks map[string]chan struct{}

	classes      map[string]model.ClassInstance
	counters     map[string]*model.CapacityCounter
	reservations map[string]*model.Reservation
	order        []string
	held         map[pairKey]string
	waitlists    map[string][]model.WaitlistEntry
	seqs         map[string]int64
}

// lockClass acquires the per-class lock or fails with ErrTimeout.
func (s *memoryState) lockClass(ctx context.Context, classID string) (func(), error) {
	s.mu.Lock()
	lock, ok := s.locks[classID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[classID] = lock
	}
	s.mu.Unlock()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lock class %s: %w: %w", classID, ErrTimeout, ctx.Err())
	}
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

// MemoryClassRepository is the in-memory class catalog.
type MemoryClassRepository struct {
	st *memoryState
}

// Publish stores a new class instance.
func (r *MemoryClassRepository) Publish(ctx context.Context, req model.PublishClassRequest) (*model.ClassInstance, error) {
	c := newClassInstance(req)

	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.classes[c.ID] = *c
	return c, nil
}

// List returns the classes starting in [from, to) ordered by start time.
func (r *MemoryClassRepository) List(ctx context.Context, from, to time.Time) ([]model.ClassInstance, error) {
	return r.filter(func(c model.ClassInstance) bool {
		return !c.StartsAt.Before(from) && c.StartsAt.Before(to)
	}), nil
}

// ListFrom returns every class starting at or after from.
func (r *MemoryClassRepository) ListFrom(ctx context.Context, from time.Time) ([]model.ClassInstance, error) {
	return r.filter(func(c model.ClassInstance) bool {
		return !c.StartsAt.Before(from)
	}), nil
}

func (r *MemoryClassRepository) filter(keep func(model.ClassInstance) bool) []model.ClassInstance {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []model.ClassInstance
	for _, c := range r.st.classes {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out
}

// Get returns a single class or ErrNotFound.
func (r *MemoryClassRepository) Get(ctx context.Context, id string) (*model.ClassInstance, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, ok := r.st.classes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// ─── Capacity ledger ──────────────────────────────────────────────────────────

// MemoryLedger is the in-memory capacity ledger.
type MemoryLedger struct {
	st *memoryState
}

// TryReserveSeat takes one seat if the class is below capacity.
func (l *MemoryLedger) TryReserveSeat(ctx context.Context, classID string) (model.SeatToken, error) {
	unlock, err := l.st.lockClass(ctx, classID)
	if err != nil {
		return model.SeatToken{}, err
	}
	defer unlock()

	l.st.mu.Lock()
	defer l.st.mu.Unlock()

	c, ok := l.st.counters[classID]
	if !ok {
		return model.SeatToken{}, ErrNotFound
	}
	if c.Held >= c.Capacity {
		return model.SeatToken{}, ErrClassFull
	}
	c.Held++
	return model.SeatToken{ClassID: classID, HeldCount: c.Held, IssuedAt: time.Now().UTC()}, nil
}

// ReleaseSeat gives one seat back, never going below zero.
func (l *MemoryLedger) ReleaseSeat(ctx context.Context, classID string) (int, error) {
	unlock, err := l.st.lockClass(ctx, classID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	l.st.mu.Lock()
	defer l.st.mu.Unlock()

	c, ok := l.st.counters[classID]
	if !ok {
		return 0, ErrNotFound
	}
	if c.Held > 0 {
		c.Held--
	}
	return c.Held, nil
}

// Counter returns the seat counter of one class.
func (l *MemoryLedger) Counter(ctx context.Context, classID string) (model.CapacityCounter, error) {
	l.st.mu.Lock()
	defer l.st.mu.Unlock()

	c, ok := l.st.counters[classID]
	if !ok {
		return model.CapacityCounter{ClassID: classID}, ErrNotFound
	}
	return *c, nil
}

// Counters returns the seat counters of several classes.
func (l *MemoryLedger) Counters(ctx context.Context, classIDs []string) (map[string]model.CapacityCounter, error) {
	l.st.mu.Lock()
	defer l.st.mu.Unlock()

	out := make(map[string]model.CapacityCounter, len(classIDs))
	for _, id := range classIDs {
		if c, ok := l.st.counters[id]; ok {
			out[id] = *c
		}
	}
	return out, nil
}

// Track registers a class's capacity, keeping any existing held count.
func (l *MemoryLedger) Track(ctx context.Context, class model.ClassInstance, held int) error {
	unlock, err := l.st.lockClass(ctx, class.ID)
	if err != nil {
		return err
	}
	defer unlock()

	l.st.mu.Lock()
	defer l.st.mu.Unlock()

	if c, ok := l.st.counters[class.ID]; ok {
		c.Capacity = class.Capacity
		return nil
	}
	l.st.counters[class.ID] = &model.CapacityCounter{ClassID: class.ID, Capacity: class.Capacity, Held: held}
	return nil
}

// ─── Reservation store ────────────────────────────────────────────────────────

// MemoryReservationRepository is the in-memory reservation store.
type MemoryReservationRepository struct {
	st *memoryState
}

// Create records a Held reservation for the seat.
func (r *MemoryReservationRepository) Create(ctx context.Context, seat model.SeatToken, userID string) (*model.Reservation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	key := pairKey{classID: seat.ClassID, userID: userID}
	if _, ok := r.st.held[key]; ok {
		return nil, fmt.Errorf("insert reservation: %w", ErrDuplicate)
	}

	now := time.Now().UTC()
	res := &model.Reservation{
		ID:              uuid.New().String(),
		ClassID:         seat.ClassID,
		UserID:          userID,
		Status:          model.StatusHeld,
		CreatedAt:       now,
		StatusChangedAt: now,
	}
	r.st.reservations[res.ID] = res
	r.st.order = append(r.st.order, res.ID)
	r.st.held[key] = res.ID

	out := *res
	return &out, nil
}

// Get returns one reservation or ErrNotFound.
func (r *MemoryReservationRepository) Get(ctx context.Context, id string) (*model.Reservation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	res, ok := r.st.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *res
	return &out, nil
}

// FindHeld returns the Held reservation of a user for a class, or ErrNotFound.
func (r *MemoryReservationRepository) FindHeld(ctx context.Context, userID, classID string) (*model.Reservation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	id, ok := r.st.held[pairKey{classID: classID, userID: userID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r.st.reservations[id]
	return &out, nil
}

// Transition moves a reservation from one status to another atomically.
func (r *MemoryReservationRepository) Transition(ctx context.Context, id string, from, to model.ReservationStatus) (*model.Reservation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	res, ok := r.st.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if res.Status != from {
		return nil, fmt.Errorf("reservation %s is not %s: %w", id, from, ErrInvalidState)
	}

	res.Status = to
	res.StatusChangedAt = time.Now().UTC()
	if from == model.StatusHeld {
		delete(r.st.held, pairKey{classID: res.ClassID, userID: res.UserID})
	}
	if to == model.StatusHeld {
		r.st.held[pairKey{classID: res.ClassID, userID: res.UserID}] = res.ID
	}

	out := *res
	return &out, nil
}

// ListByUser returns a user's reservations, newest first.
func (r *MemoryReservationRepository) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []model.Reservation
	for i := len(r.st.order) - 1; i >= 0; i-- {
		if res := r.st.reservations[r.st.order[i]]; res.UserID == userID {
			out = append(out, *res)
		}
	}
	return out, nil
}

// ListByClass returns all reservations of a class in creation order.
func (r *MemoryReservationRepository) ListByClass(ctx context.Context, classID string) ([]model.Reservation, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []model.Reservation
	for _, id := range r.st.order {
		if res := r.st.reservations[id]; res.ClassID == classID {
			out = append(out, *res)
		}
	}
	return out, nil
}

// CountHeld returns the number of Held reservations of a class.
func (r *MemoryReservationRepository) CountHeld(ctx context.Context, classID string) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	n := 0
	for key := range r.st.held {
		if key.classID == classID {
			n++
		}
	}
	return n, nil
}

// ─── Waitlist ─────────────────────────────────────────────────────────────────

// MemoryWaitlistRepository is the in-memory waitlist.
type MemoryWaitlistRepository struct {
	st *memoryState
}

// Join appends the user to the class waitlist under the per-class lock.
func (r *MemoryWaitlistRepository) Join(ctx context.Context, classID, userID string) (*model.WaitlistEntry, error) {
	unlock, err := r.st.lockClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, ok := r.st.classes[classID]; !ok {
		return nil, ErrNotFound
	}
	if _, ok := r.st.held[pairKey{classID: classID, userID: userID}]; ok {
		return nil, fmt.Errorf("user already holds a seat: %w", ErrDuplicate)
	}
	for _, e := range r.st.waitlists[classID] {
		if e.UserID == userID {
			return nil, fmt.Errorf("insert waitlist entry: %w", ErrDuplicate)
		}
	}

	r.st.seqs[classID]++
	entry := model.WaitlistEntry{
		ClassID:   classID,
		UserID:    userID,
		Seq:       r.st.seqs[classID],
		CreatedAt: time.Now().UTC(),
	}
	r.st.waitlists[classID] = append(r.st.waitlists[classID], entry)
	return &entry, nil
}

// Leave removes the user's entry. It reports whether an entry existed.
func (r *MemoryWaitlistRepository) Leave(ctx context.Context, classID, userID string) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	return r.removeLocked(classID, func(e model.WaitlistEntry) bool { return e.UserID == userID }), nil
}

// Remove deletes exactly the given entry.
func (r *MemoryWaitlistRepository) Remove(ctx context.Context, entry model.WaitlistEntry) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	return r.removeLocked(entry.ClassID, func(e model.WaitlistEntry) bool {
		return e.UserID == entry.UserID && e.Seq == entry.Seq
	}), nil
}

// Requeue puts a removed entry back at its original position.
func (r *MemoryWaitlistRepository) Requeue(ctx context.Context, entry model.WaitlistEntry) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	entries := r.st.waitlists[entry.ClassID]
	for _, e := range entries {
		if e.UserID == entry.UserID {
			return nil
		}
	}
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Seq > entry.Seq })
	out := make([]model.WaitlistEntry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, entry)
	out = append(out, entries[i:]...)
	r.st.waitlists[entry.ClassID] = out
	return nil
}

func (r *MemoryWaitlistRepository) removeLocked(classID string, match func(model.WaitlistEntry) bool) bool {
	entries := r.st.waitlists[classID]
	for i, e := range entries {
		if match(e) {
			r.st.waitlists[classID] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Entries returns the class waitlist in FIFO order.
func (r *MemoryWaitlistRepository) Entries(ctx context.Context, classID string) ([]model.WaitlistEntry, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	return append([]model.WaitlistEntry(nil), r.st.waitlists[classID]...), nil
}

// ListByUser returns every waitlist entry of a user.
func (r *MemoryWaitlistRepository) ListByUser(ctx context.Context, userID string) ([]model.WaitlistEntry, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var out []model.WaitlistEntry
	for _, entries := range r.st.waitlists {
		for _, e := range entries {
			if e.UserID == userID {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
