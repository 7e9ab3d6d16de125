package service

import (
	"context"
	"time"

	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
)

// ClassCatalog is read access to published class instances, plus the
// publish ingress used by the scheduling side.
type ClassCatalog interface {
	Publish(ctx context.Context, req model.PublishClassRequest) (*model.ClassInstance, error)
	List(ctx context.Context, from, to time.Time) ([]model.ClassInstance, error)
	ListFrom(ctx context.Context, from time.Time) ([]model.ClassInstance, error)
	Get(ctx context.Context, id string) (*model.ClassInstance, error)
}

// CapacityLedger owns held_count. Nothing else reads or writes it.
type CapacityLedger interface {
	TryReserveSeat(ctx context.Context, classID string) (model.SeatToken, error)
	ReleaseSeat(ctx context.Context, classID string) (int, error)
	Counter(ctx context.Context, classID string) (model.CapacityCounter, error)
	Counters(ctx context.Context, classIDs []string) (map[string]model.CapacityCounter, error)
	Track(ctx context.Context, class model.ClassInstance, held int) error
}

// ReservationStore is the durable record of reservations.
type ReservationStore interface {
	Create(ctx context.Context, seat model.SeatToken, userID string) (*model.Reservation, error)
	Get(ctx context.Context, id string) (*model.Reservation, error)
	FindHeld(ctx context.Context, userID, classID string) (*model.Reservation, error)
	Transition(ctx context.Context, id string, from, to model.ReservationStatus) (*model.Reservation, error)
	ListByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	ListByClass(ctx context.Context, classID string) ([]model.Reservation, error)
	CountHeld(ctx context.Context, classID string) (int, error)
}

// WaitlistStore keeps the FIFO queue of each class.
type WaitlistStore interface {
	Join(ctx context.Context, classID, userID string) (*model.WaitlistEntry, error)
	Leave(ctx context.Context, classID, userID string) (bool, error)
	Remove(ctx context.Context, entry model.WaitlistEntry) (bool, error)
	Requeue(ctx context.Context, entry model.WaitlistEntry) error
	Entries(ctx context.Context, classID string) ([]model.WaitlistEntry, error)
	ListByUser(ctx context.Context, userID string) ([]model.WaitlistEntry, error)
}

// Notifier receives reservation events once the state change has committed.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Recorder observes reservation outcomes for metrics.
type Recorder interface {
	ObserveOperation(operation, outcome string)
	ObserveLedgerWait(operation string, d time.Duration)
	ObservePromotion(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string)         {}
func (nopRecorder) ObserveLedgerWait(string, time.Duration) {}
func (nopRecorder) ObservePromotion(string)                 {}
