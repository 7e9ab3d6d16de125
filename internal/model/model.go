// Package model defines the core domain types for the class reservation service.
package model

import "time"

// ReservationStatus is the lifecycle state of a Reservation.
type ReservationStatus string

const (
	StatusHeld      ReservationStatus = "held"
	StatusCancelled ReservationStatus = "cancelled"
	StatusAttended  ReservationStatus = "attended"
	StatusNoShow    ReservationStatus = "no_show"
)

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusHeld, StatusCancelled, StatusAttended, StatusNoShow:
		return true
	}
	return false
}

// ClassInstance is a single scheduled occurrence of a gym class.
// It is immutable once published.
type ClassInstance struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Coach       string    `json:"coach"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Capacity    int       `json:"capacity"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasStarted reports whether the class start time is at or before now.
func (c *ClassInstance) HasStarted(now time.Time) bool {
	return !now.Before(c.StartsAt)
}

// CapacityCounter is the ledger's view of a class: seats held versus capacity.
type CapacityCounter struct {
	ClassID  string `json:"class_id"`
	Capacity int    `json:"capacity"`
	Held     int    `json:"held_count"`
}

// Remaining returns the number of free seats.
func (c CapacityCounter) Remaining() int {
	if c.Held >= c.Capacity {
		return 0
	}
	return c.Capacity - c.Held
}

// Available is true while at least one seat is free.
func (c CapacityCounter) Available() bool {
	return c.Held < c.Capacity
}

// SeatToken proves that a seat was taken from the capacity ledger.
// Reservations can only be created from a token.
type SeatToken struct {
	ClassID   string
	HeldCount int
	IssuedAt  time.Time
}

// ClassAvailability is a class together with its current seat counts.
type ClassAvailability struct {
	ClassInstance
	HeldCount int  `json:"held_count"`
	Remaining int  `json:"remaining"`
	Available bool `json:"available"`
}

// NewClassAvailability combines a class with its ledger counter.
func NewClassAvailability(c ClassInstance, counter CapacityCounter) ClassAvailability {
	return ClassAvailability{
		ClassInstance: c,
		HeldCount:     counter.Held,
		Remaining:     counter.Remaining(),
		Available:     counter.Available(),
	}
}

// Reservation is a user's claim on one seat of a class instance.
type Reservation struct {
	ID              string            `json:"id"`
	ClassID         string            `json:"class_id"`
	UserID          string            `json:"user_id"`
	Status          ReservationStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	StatusChangedAt time.Time         `json:"status_changed_at"`
}

// WaitlistEntry is a user's place in the FIFO queue of a full class.
type WaitlistEntry struct {
	ClassID   string    `json:"class_id"`
	UserID    string    `json:"user_id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// ClassRoster is the admin view of a class: who holds seats and who waits.
type ClassRoster struct {
	Class        ClassAvailability `json:"class"`
	Reservations []Reservation     `json:"reservations"`
	Waitlist     []WaitlistEntry   `json:"waitlist"`
}

// PublishClassRequest is the payload for publishing a class instance.
type PublishClassRequest struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Coach       string    `json:"coach"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Capacity    int       `json:"capacity"`
}

// ReserveRequest is the payload for reserving a seat.
// UserID is only honoured for admins acting on behalf of a client.
type ReserveRequest struct {
	UserID         string `json:"user_id,omitempty"`
	WaitlistOnFull bool   `json:"waitlist_on_full,omitempty"`
}

// WaitlistRequest is the payload for joining a waitlist.
type WaitlistRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// AttendanceRequest is the payload for marking attendance. Attended is
// required: false records a no-show.
type AttendanceRequest struct {
	Attended *bool `json:"attended"`
}

// PromotionResult reports the outcome of a manual waitlist promotion.
type PromotionResult struct {
	Promoted *Reservation `json:"promoted"`
}

// EventType names a reservation lifecycle notification.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationPromoted  EventType = "reservation.promoted"
	EventWaitlistJoined       EventType = "waitlist.joined"
)

// Notification is published after a state transition commits.
type Notification struct {
	Type          EventType `json:"type"`
	UserID        string    `json:"user_id"`
	ClassID       string    `json:"class_id"`
	ReservationID string    `json:"reservation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BookingResult summarises the outcome of a single reservation attempt.
// Used in the concurrent test harness.
type BookingResult struct {
	UserID      string
	Reservation *Reservation
	Error       error
}
