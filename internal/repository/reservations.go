package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
)

// ReservationRepository is the PostgreSQL reservation store. Rows are never
// deleted; status transitions are the only mutation.
type ReservationRepository struct {
	db DB
}

// NewReservationRepository constructs a ReservationRepository.
func NewReservationRepository(db DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationColumns = `id, class_id, user_id, status, created_at, status_changed_at`

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var (
		res    model.Reservation
		status string
	)
	if err := row.Scan(&res.ID, &res.ClassID, &res.UserID, &status, &res.CreatedAt, &res.StatusChangedAt); err != nil {
		return nil, err
	}
	res.Status = model.ReservationStatus(status)
	if !res.Status.Valid() {
		return nil, fmt.Errorf("reservation %s has unknown status %q", res.ID, status)
	}
	return &res, nil
}

func collectReservations(rows pgx.Rows) ([]model.Reservation, error) {
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *res)
	}
	return out, classify("read reservations", rows.Err())
}

// Create records a Held reservation for the seat. The partial unique index on
// (class_id, user_id) WHERE status = 'held' rejects a second Held row.
func (r *ReservationRepository) Create(ctx context.Context, seat model.SeatToken, userID string) (*model.Reservation, error) {
	now := time.Now().UTC()
	res := &model.Reservation{
		ID:              uuid.New().String(),
		ClassID:         seat.ClassID,
		UserID:          userID,
		Status:          model.StatusHeld,
		CreatedAt:       now,
		StatusChangedAt: now,
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO reservations (`+reservationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID, res.ClassID, res.UserID, string(res.Status), res.CreatedAt, res.StatusChangedAt,
	)
	if err != nil {
		return nil, classify("insert reservation", err)
	}
	return res, nil
}

// Get returns one reservation or ErrNotFound.
func (r *ReservationRepository) Get(ctx context.Context, id string) (*model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("get reservation", err)
	}
	return res, nil
}

// FindHeld returns the Held reservation of a user for a class, or ErrNotFound.
func (r *ReservationRepository) FindHeld(ctx context.Context, userID, classID string) (*model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE class_id = $1 AND user_id = $2 AND status = 'held'`,
		classID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("find held reservation", err)
	}
	return res, nil
}

// Transition moves a reservation from one status to another as a single
// compare-and-set. It returns ErrNotFound for unknown ids and ErrInvalidState
// when the reservation is not in the from status.
func (r *ReservationRepository) Transition(ctx context.Context, id string, from, to model.ReservationStatus) (*model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx,
		`UPDATE reservations
		 SET status = $3, status_changed_at = $4
		 WHERE id = $1 AND status = $2
		 RETURNING `+reservationColumns,
		id, string(from), string(to), time.Now().UTC(),
	))
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, classify("update reservation status", err)
	}

	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("reservation %s is not %s: %w", id, from, ErrInvalidState)
}

// ListByUser returns a user's reservations, newest first.
func (r *ReservationRepository) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, classify("list reservations by user", err)
	}
	return collectReservations(rows)
}

// ListByClass returns all reservations of a class in creation order.
func (r *ReservationRepository) ListByClass(ctx context.Context, classID string) ([]model.Reservation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE class_id = $1
		 ORDER BY created_at ASC`,
		classID,
	)
	if err != nil {
		return nil, classify("list reservations by class", err)
	}
	return collectReservations(rows)
}

// CountHeld returns the number of Held reservations of a class.
func (r *ReservationRepository) CountHeld(ctx context.Context, classID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM reservations WHERE class_id = $1 AND status = 'held'`, classID,
	).Scan(&n)
	return n, classify("count held reservations", err)
}
