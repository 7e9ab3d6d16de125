// Package service implements the reservation business rules and orchestrates
// the capacity ledger, reservation store, waitlist and class catalog.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
	"github.com/sayuricruzv/project-YeyosFitness/internal/repository"
)

// Stores groups the storage backends the service runs on.
type Stores struct {
	Classes      ClassCatalog
	Ledger       CapacityLedger
	Reservations ReservationStore
	Waitlist     WaitlistStore
}

// Options tunes timeouts, retries and side channels. Zero values get defaults.
type Options struct {
	LockTimeout       time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	NotifyTimeout     time.Duration
	DefaultListWindow time.Duration

	Notifier Notifier
	Recorder Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

func (o *Options) applyDefaults() {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 2 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 5 * time.Second
	}
	if o.DefaultListWindow <= 0 {
		o.DefaultListWindow = 7 * 24 * time.Hour
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// ReservationService orchestrates reservation, cancellation, attendance and
// waitlist operations.
type ReservationService struct {
	classes      ClassCatalog
	ledger       CapacityLedger
	reservations ReservationStore
	waitlist     WaitlistStore

	opts Options
	log  *slog.Logger
	rec  Recorder

	notifications sync.WaitGroup
}

// NewReservationService constructs a ReservationService with its dependencies.
func NewReservationService(stores Stores, opts Options) *ReservationService {
	opts.applyDefaults()
	return &ReservationService{
		classes:      stores.Classes,
		ledger:       stores.Ledger,
		reservations: stores.Reservations,
		waitlist:     stores.Waitlist,
		opts:         opts,
		log:          opts.Logger,
		rec:          opts.Recorder,
	}
}

// Wait blocks until in-flight notifications have been handed off.
func (s *ReservationService) Wait() {
	s.notifications.Wait()
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

// PublishClass validates a new class instance, stores it and registers its
// capacity with the ledger.
func (s *ReservationService) PublishClass(ctx context.Context, req model.PublishClassRequest) (*model.ClassInstance, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: class name is required", ErrInvalidInput)
	}
	if req.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be a positive integer", ErrInvalidInput)
	}
	if req.Capacity > 100_000 {
		return nil, fmt.Errorf("%w: capacity cannot exceed 100,000", ErrInvalidInput)
	}
	if req.StartsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
		return nil, fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidInput)
	}

	class, err := s.classes.Publish(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("publish class: %w", err)
	}
	if err := s.ledger.Track(ctx, *class, 0); err != nil {
		return nil, fmt.Errorf("track class capacity: %w", err)
	}
	s.log.Info("class published", "class_id", class.ID, "capacity", class.Capacity, "starts_at", class.StartsAt)
	return class, nil
}

// ListClasses returns the classes starting in [from, to) with their
// availability. A zero from means now; a zero to means from plus the default
// listing window.
func (s *ReservationService) ListClasses(ctx context.Context, from, to time.Time) ([]model.ClassAvailability, error) {
	if from.IsZero() {
		from = s.opts.Now()
	}
	if to.IsZero() {
		to = from.Add(s.opts.DefaultListWindow)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("%w: to must be after from", ErrInvalidInput)
	}

	classes, err := retry(ctx, s, "list classes", func(ctx context.Context) ([]model.ClassInstance, error) {
		return s.classes.List(ctx, from, to)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(classes))
	for i, c := range classes {
		ids[i] = c.ID
	}
	counters, err := retry(ctx, s, "read counters", func(ctx context.Context) (map[string]model.CapacityCounter, error) {
		return s.ledger.Counters(ctx, ids)
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.ClassAvailability, 0, len(classes))
	for _, c := range classes {
		counter, ok := counters[c.ID]
		if !ok {
			if counter, err = s.trackClass(ctx, c); err != nil {
				return nil, err
			}
		}
		out = append(out, model.NewClassAvailability(c, counter))
	}
	return out, nil
}

// GetClass returns one class with its availability.
func (s *ReservationService) GetClass(ctx context.Context, classID string) (*model.ClassAvailability, error) {
	class, err := s.getClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	counter, err := retry(ctx, s, "read counter", func(ctx context.Context) (model.CapacityCounter, error) {
		return s.ledger.Counter(ctx, classID)
	})
	if errors.Is(err, repository.ErrNotFound) {
		counter, err = s.trackClass(ctx, *class)
	}
	if err != nil {
		return nil, err
	}
	av := model.NewClassAvailability(*class, counter)
	return &av, nil
}

// ClassRoster returns the admin view of a class.
func (s *ReservationService) ClassRoster(ctx context.Context, classID string) (*model.ClassRoster, error) {
	av, err := s.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	reservations, err := retry(ctx, s, "list class reservations", func(ctx context.Context) ([]model.Reservation, error) {
		return s.reservations.ListByClass(ctx, classID)
	})
	if err != nil {
		return nil, err
	}
	entries, err := retry(ctx, s, "list waitlist", func(ctx context.Context) ([]model.WaitlistEntry, error) {
		return s.waitlist.Entries(ctx, classID)
	})
	if err != nil {
		return nil, err
	}
	if reservations == nil {
		reservations = []model.Reservation{}
	}
	if entries == nil {
		entries = []model.WaitlistEntry{}
	}
	return &model.ClassRoster{Class: *av, Reservations: reservations, Waitlist: entries}, nil
}

// SyncLedger registers every class that has not started, plus those that
// started within the last day and may still take attendance, seeding lost
// counters from the reservation store. Run at startup for ledgers that keep
// counters outside PostgreSQL.
func (s *ReservationService) SyncLedger(ctx context.Context) error {
	classes, err := s.classes.ListFrom(ctx, s.opts.Now().Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("list classes: %w", err)
	}
	for _, c := range classes {
		if _, err := s.trackClass(ctx, c); err != nil {
			return fmt.Errorf("track %s: %w", c.ID, err)
		}
	}
	s.log.Info("ledger synchronised", "classes", len(classes))
	return nil
}

// trackClass registers a catalog class the ledger has no counter for, seeding
// held_count from the reservation store, and returns the resulting counter.
func (s *ReservationService) trackClass(ctx context.Context, class model.ClassInstance) (model.CapacityCounter, error) {
	held, err := retry(ctx, s, "count held reservations", func(ctx context.Context) (int, error) {
		return s.reservations.CountHeld(ctx, class.ID)
	})
	if err != nil {
		return model.CapacityCounter{}, err
	}
	if _, err := retry(ctx, s, "track class", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.ledger.Track(ctx, class, held)
	}); err != nil {
		return model.CapacityCounter{}, err
	}
	s.log.Debug("class tracked by ledger", "class_id", class.ID, "held_count", held)
	return retry(ctx, s, "read counter", func(ctx context.Context) (model.CapacityCounter, error) {
		return s.ledger.Counter(ctx, class.ID)
	})
}

// ─── Reservations ─────────────────────────────────────────────────────────────

// Reserve takes a seat for the user and records a Held reservation.
// It fails with ErrClassFull when no seat is free; the caller decides whether
// to join the waitlist.
func (s *ReservationService) Reserve(ctx context.Context, userID, classID string) (*model.Reservation, error) {
	res, err := s.reserve(ctx, userID, classID)
	s.rec.ObserveOperation("reserve", Code(err))
	return res, err
}

func (s *ReservationService) reserve(ctx context.Context, userID, classID string) (*model.Reservation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	class, err := s.getClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.HasStarted(s.opts.Now()) {
		return nil, fmt.Errorf("class %s has already started: %w", classID, repository.ErrInvalidState)
	}
	if err := s.ensureNoHeld(ctx, userID, classID); err != nil {
		return nil, err
	}

	seat, err := s.tryReserveSeat(ctx, *class)
	if err != nil {
		return nil, err
	}

	res, err := retry(ctx, s, "create reservation", func(ctx context.Context) (*model.Reservation, error) {
		return s.reservations.Create(ctx, seat, userID)
	})
	if err != nil {
		// The seat was taken but no reservation holds it: give it back.
		s.releaseAndPromote(context.WithoutCancel(ctx), classID)
		return nil, err
	}

	// A direct reservation supersedes any waitlist entry for the class.
	if _, err := s.waitlist.Leave(ctx, classID, userID); err != nil {
		s.log.Warn("could not drop waitlist entry after reserve", "class_id", classID, "user_id", userID, "error", err)
	}

	s.log.Info("reservation created", "reservation_id", res.ID, "class_id", classID, "user_id", userID, "held_count", seat.HeldCount)
	s.notify(model.Notification{
		Type:          model.EventReservationCreated,
		UserID:        userID,
		ClassID:       classID,
		ReservationID: res.ID,
		OccurredAt:    res.CreatedAt,
	})
	return res, nil
}

// CancelReservation moves a Held reservation to Cancelled, releases its seat
// and promotes the head of the waitlist. The seat release takes effect even if
// promotion fails; promotion can be retried with PromoteNext.
func (s *ReservationService) CancelReservation(ctx context.Context, reservationID string) (*model.Reservation, error) {
	res, err := retry(ctx, s, "cancel reservation", func(ctx context.Context) (*model.Reservation, error) {
		return s.reservations.Transition(ctx, reservationID, model.StatusHeld, model.StatusCancelled)
	})
	s.rec.ObserveOperation("cancel", Code(err))
	if err != nil {
		return nil, err
	}

	// The cancellation has committed; finish the seat bookkeeping even if the
	// caller goes away.
	s.releaseAndPromote(context.WithoutCancel(ctx), res.ClassID)

	s.log.Info("reservation cancelled", "reservation_id", res.ID, "class_id", res.ClassID, "user_id", res.UserID)
	s.notify(model.Notification{
		Type:          model.EventReservationCancelled,
		UserID:        res.UserID,
		ClassID:       res.ClassID,
		ReservationID: res.ID,
		OccurredAt:    res.StatusChangedAt,
	})
	return res, nil
}

// MarkAttendance moves a Held reservation to Attended or NoShow. It is only
// allowed once the class has started. The seat leaves the Held count but is
// not offered to the waitlist.
func (s *ReservationService) MarkAttendance(ctx context.Context, reservationID string, attended bool) (*model.Reservation, error) {
	res, err := s.markAttendance(ctx, reservationID, attended)
	s.rec.ObserveOperation("attendance", Code(err))
	return res, err
}

func (s *ReservationService) markAttendance(ctx context.Context, reservationID string, attended bool) (*model.Reservation, error) {
	current, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	class, err := s.getClass(ctx, current.ClassID)
	if err != nil {
		return nil, err
	}
	if !class.HasStarted(s.opts.Now()) {
		return nil, fmt.Errorf("class %s has not started: %w", class.ID, repository.ErrInvalidState)
	}

	to := model.StatusNoShow
	if attended {
		to = model.StatusAttended
	}
	res, err := retry(ctx, s, "mark attendance", func(ctx context.Context) (*model.Reservation, error) {
		return s.reservations.Transition(ctx, reservationID, model.StatusHeld, to)
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.releaseSeat(context.WithoutCancel(ctx), res.ClassID); err != nil {
		s.log.Error("seat release failed after attendance", "class_id", res.ClassID, "reservation_id", res.ID, "error", err)
	}
	return res, nil
}

// GetReservation returns one reservation.
func (s *ReservationService) GetReservation(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return retry(ctx, s, "get reservation", func(ctx context.Context) (*model.Reservation, error) {
		return s.reservations.Get(ctx, reservationID)
	})
}

// ListMyReservations returns the user's reservations, newest first.
func (s *ReservationService) ListMyReservations(ctx context.Context, userID string) ([]model.Reservation, error) {
	return retry(ctx, s, "list reservations", func(ctx context.Context) ([]model.Reservation, error) {
		return s.reservations.ListByUser(ctx, userID)
	})
}

// ─── Waitlist ─────────────────────────────────────────────────────────────────

// JoinWaitlist appends the user to the class waitlist.
func (s *ReservationService) JoinWaitlist(ctx context.Context, userID, classID string) (*model.WaitlistEntry, error) {
	entry, err := s.joinWaitlist(ctx, userID, classID)
	s.rec.ObserveOperation("join_waitlist", Code(err))
	return entry, err
}

func (s *ReservationService) joinWaitlist(ctx context.Context, userID, classID string) (*model.WaitlistEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	class, err := s.getClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.HasStarted(s.opts.Now()) {
		return nil, fmt.Errorf("class %s has already started: %w", classID, repository.ErrInvalidState)
	}
	if err := s.ensureNoHeld(ctx, userID, classID); err != nil {
		return nil, err
	}

	entry, err := retry(ctx, s, "join waitlist", func(ctx context.Context) (*model.WaitlistEntry, error) {
		lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
		return s.waitlist.Join(lockCtx, classID, userID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("waitlist joined", "class_id", classID, "user_id", userID, "seq", entry.Seq)
	s.notify(model.Notification{
		Type:       model.EventWaitlistJoined,
		UserID:     userID,
		ClassID:    classID,
		OccurredAt: entry.CreatedAt,
	})

	// A seat may have been released between the caller seeing Full and this
	// join, with nobody queued to take it.
	if counter, err := s.ledger.Counter(ctx, classID); err == nil && counter.Available() {
		if _, err := s.PromoteNext(ctx, classID); err != nil {
			s.log.Warn("promotion after join failed", "class_id", classID, "error", err)
		}
	}
	return entry, nil
}

// LeaveWaitlist removes the user from the class waitlist. Leaving a waitlist
// the user is not on is a no-op.
func (s *ReservationService) LeaveWaitlist(ctx context.Context, userID, classID string) error {
	_, err := retry(ctx, s, "leave waitlist", func(ctx context.Context) (bool, error) {
		return s.waitlist.Leave(ctx, classID, userID)
	})
	s.rec.ObserveOperation("leave_waitlist", Code(err))
	return err
}

// ListMyWaitlist returns the user's waitlist entries.
func (s *ReservationService) ListMyWaitlist(ctx context.Context, userID string) ([]model.WaitlistEntry, error) {
	return retry(ctx, s, "list waitlist", func(ctx context.Context) ([]model.WaitlistEntry, error) {
		return s.waitlist.ListByUser(ctx, userID)
	})
}

// PromoteNext gives a free seat to the earliest waitlist entry that can take
// it. At most one entry is promoted per call. It returns nil when nothing was
// promoted: the class is full, has started, or the queue is empty. Calling it
// again is always safe.
func (s *ReservationService) PromoteNext(ctx context.Context, classID string) (*model.Reservation, error) {
	res, outcome, err := s.promoteNext(ctx, classID)
	if err != nil {
		outcome = Code(err)
	}
	s.rec.ObservePromotion(outcome)
	return res, err
}

func (s *ReservationService) promoteNext(ctx context.Context, classID string) (res *model.Reservation, outcome string, err error) {
	class, err := s.getClass(ctx, classID)
	if err != nil {
		return nil, "", err
	}
	if class.HasStarted(s.opts.Now()) {
		return nil, "started", nil
	}

	entries, err := retry(ctx, s, "list waitlist", func(ctx context.Context) ([]model.WaitlistEntry, error) {
		return s.waitlist.Entries(ctx, classID)
	})
	if err != nil {
		return nil, "", err
	}
	if len(entries) == 0 {
		return nil, "empty", nil
	}

	// One seat is carried across entries until someone takes it; an unused
	// seat goes back to the ledger.
	var seat *model.SeatToken
	defer func() {
		if seat != nil {
			if _, err := s.releaseSeat(context.WithoutCancel(ctx), classID); err != nil {
				s.log.Error("could not return unused promotion seat", "class_id", classID, "error", err)
			}
		}
	}()

	for _, entry := range entries {
		if seat == nil {
			tok, err := s.tryReserveSeat(ctx, *class)
			if errors.Is(err, repository.ErrClassFull) {
				// Every later entry would see the same full ledger.
				return nil, CodeFull, nil
			}
			if err != nil {
				return nil, "", err
			}
			seat = &tok
		}

		// Claim the entry first so concurrent promotions never hand the same
		// entry two seats.
		claimed, err := retry(ctx, s, "claim waitlist entry", func(ctx context.Context) (bool, error) {
			return s.waitlist.Remove(ctx, entry)
		})
		if err != nil {
			return nil, "", err
		}
		if !claimed {
			continue
		}

		created, err := retry(ctx, s, "create promoted reservation", func(ctx context.Context) (*model.Reservation, error) {
			return s.reservations.Create(ctx, *seat, entry.UserID)
		})
		if errors.Is(err, repository.ErrDuplicate) {
			// The user already got a seat directly; the entry was stale.
			continue
		}
		if err != nil {
			if rqErr := s.waitlist.Requeue(context.WithoutCancel(ctx), entry); rqErr != nil {
				s.log.Error("could not requeue waitlist entry", "class_id", classID, "user_id", entry.UserID, "seq", entry.Seq, "error", rqErr)
			}
			return nil, "", err
		}

		seat = nil
		s.log.Info("waitlist entry promoted", "class_id", classID, "user_id", entry.UserID, "seq", entry.Seq, "reservation_id", created.ID)
		s.notify(model.Notification{
			Type:          model.EventReservationPromoted,
			UserID:        entry.UserID,
			ClassID:       classID,
			ReservationID: created.ID,
			OccurredAt:    created.CreatedAt,
		})
		return created, "promoted", nil
	}
	return nil, "empty", nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (s *ReservationService) getClass(ctx context.Context, classID string) (*model.ClassInstance, error) {
	if strings.TrimSpace(classID) == "" {
		return nil, fmt.Errorf("%w: class id is required", ErrInvalidInput)
	}
	return retry(ctx, s, "get class", func(ctx context.Context) (*model.ClassInstance, error) {
		return s.classes.Get(ctx, classID)
	})
}

func (s *ReservationService) ensureNoHeld(ctx context.Context, userID, classID string) error {
	_, err := retry(ctx, s, "find held reservation", func(ctx context.Context) (*model.Reservation, error) {
		return s.reservations.FindHeld(ctx, userID, classID)
	})
	switch {
	case err == nil:
		return fmt.Errorf("user %s already holds a seat in class %s: %w", userID, classID, repository.ErrDuplicate)
	case errors.Is(err, repository.ErrNotFound):
		return nil
	}
	return err
}

// tryReserveSeat asks the ledger for a seat, waiting at most LockTimeout for
// the class lock. A class the ledger lost track of is registered again and
// tried once more.
func (s *ReservationService) tryReserveSeat(ctx context.Context, class model.ClassInstance) (model.SeatToken, error) {
	reserveSeat := func(ctx context.Context) (model.SeatToken, error) {
		lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()

		start := time.Now()
		tok, err := s.ledger.TryReserveSeat(lockCtx, class.ID)
		s.rec.ObserveLedgerWait("reserve", time.Since(start))
		return tok, err
	}

	tok, err := retry(ctx, s, "reserve seat", reserveSeat)
	if !errors.Is(err, repository.ErrNotFound) {
		return tok, err
	}
	if _, err := s.trackClass(ctx, class); err != nil {
		return tok, err
	}
	return retry(ctx, s, "reserve seat", reserveSeat)
}

// releaseSeat gives one seat back. When the ledger has no counter for the
// class, re-registering it from the reservation store already accounts for
// the released seat.
func (s *ReservationService) releaseSeat(ctx context.Context, classID string) (int, error) {
	held, err := retry(ctx, s, "release seat", func(ctx context.Context) (int, error) {
		lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()

		start := time.Now()
		held, err := s.ledger.ReleaseSeat(lockCtx, classID)
		s.rec.ObserveLedgerWait("release", time.Since(start))
		return held, err
	})
	if !errors.Is(err, repository.ErrNotFound) {
		return held, err
	}
	class, err := s.getClass(ctx, classID)
	if err != nil {
		return 0, err
	}
	counter, err := s.trackClass(ctx, *class)
	return counter.Held, err
}

// releaseAndPromote returns a seat to the ledger and then offers it to the
// waitlist. Failures are logged: the caller's state change has committed.
func (s *ReservationService) releaseAndPromote(ctx context.Context, classID string) {
	if _, err := s.releaseSeat(ctx, classID); err != nil {
		s.log.Error("seat release failed", "class_id", classID, "error", err)
		s.rec.ObserveOperation("release", Code(err))
		return
	}
	if _, err := s.PromoteNext(ctx, classID); err != nil {
		s.log.Warn("waitlist promotion failed", "class_id", classID, "error", err)
	}
}

// notify hands the event to the notifier without blocking the caller.
func (s *ReservationService) notify(n model.Notification) {
	if s.opts.Notifier == nil {
		return
	}
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.NotifyTimeout)
		defer cancel()
		if err := s.opts.Notifier.Notify(ctx, n); err != nil {
			s.log.Warn("notification failed", "type", n.Type, "user_id", n.UserID, "class_id", n.ClassID, "error", err)
		}
	}()
}

// retry runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. Exhausted retries surface as ErrUnavailable.
func retry[T any](ctx context.Context, s *ReservationService, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil || !errors.Is(err, repository.ErrTransient) {
			return v, err
		}
		lastErr = err
		s.log.Warn("transient storage error", "op", op, "attempt", attempt, "error", err)
		if attempt == s.opts.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, fmt.Errorf("%s: %w: %w", op, repository.ErrTimeout, ctx.Err())
			}
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(time.Duration(attempt) * s.opts.RetryBackoff):
		}
	}
	return zero, fmt.Errorf("%s: %w: %w", op, repository.ErrUnavailable, lastErr)
}
