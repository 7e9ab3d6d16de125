package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
)

// DB is the subset of *pgxpool.Pool the PostgreSQL repositories use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ClassRepository is the PostgreSQL class catalog.
type ClassRepository struct {
	db DB
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(db DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, name, class_type, description, coach, location, starts_at, ends_at, capacity, created_at`

func scanClass(row pgx.Row) (*model.ClassInstance, error) {
	var c model.ClassInstance
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Description, &c.Coach, &c.Location,
		&c.StartsAt, &c.EndsAt, &c.Capacity, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Publish inserts a new class instance and returns it with a generated UUID.
func (r *ClassRepository) Publish(ctx context.Context, req model.PublishClassRequest) (*model.ClassInstance, error) {
	c := newClassInstance(req)

	_, err := r.db.Exec(ctx,
		`INSERT INTO classes (`+classColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Name, c.Type, c.Description, c.Coach, c.Location,
		c.StartsAt, c.EndsAt, c.Capacity, c.CreatedAt,
	)
	if err != nil {
		return nil, classify("insert class", err)
	}
	return c, nil
}

// List returns the classes starting in [from, to) ordered by start time.
func (r *ClassRepository) List(ctx context.Context, from, to time.Time) ([]model.ClassInstance, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+classColumns+`
		 FROM classes
		 WHERE starts_at >= $1 AND starts_at < $2
		 ORDER BY starts_at ASC, id ASC`,
		from, to,
	)
	if err != nil {
		return nil, classify("list classes", err)
	}
	return collectClasses(rows)
}

// ListFrom returns every class starting at or after from.
func (r *ClassRepository) ListFrom(ctx context.Context, from time.Time) ([]model.ClassInstance, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+classColumns+`
		 FROM classes
		 WHERE starts_at >= $1
		 ORDER BY starts_at ASC, id ASC`,
		from,
	)
	if err != nil {
		return nil, classify("list classes", err)
	}
	return collectClasses(rows)
}

func collectClasses(rows pgx.Rows) ([]model.ClassInstance, error) {
	defer rows.Close()

	var classes []model.ClassInstance
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		classes = append(classes, *c)
	}
	return classes, classify("list classes", rows.Err())
}

// Get returns a single class or ErrNotFound.
func (r *ClassRepository) Get(ctx context.Context, id string) (*model.ClassInstance, error) {
	c, err := scanClass(r.db.QueryRow(ctx,
		`SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("get class", err)
	}
	return c, nil
}

func newClassInstance(req model.PublishClassRequest) *model.ClassInstance {
	return &model.ClassInstance{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Coach:       req.Coach,
		Location:    req.Location,
		StartsAt:    req.StartsAt.UTC(),
		EndsAt:      req.EndsAt.UTC(),
		Capacity:    req.Capacity,
		CreatedAt:   time.Now().UTC(),
	}
}

// LedgerRepository is the PostgreSQL capacity ledger. The seat counter lives
// on the class row; it is only ever changed by the two statements below.
type LedgerRepository struct {
	db          DB
	lockTimeout time.Duration
}

// NewLedgerRepository constructs a LedgerRepository. lockTimeout bounds how
// long a mutation waits for the class row lock.
func NewLedgerRepository(db DB, lockTimeout time.Duration) *LedgerRepository {
	return &LedgerRepository{db: db, lockTimeout: lockTimeout}
}

// TryReserveSeat takes one seat with a single conditional update.
//
// Reading held_count and then writing held_count+1 in two statements lets two
// transactions observe the same free seat and overbook the class. The
// conditional UPDATE below performs the check and the increment while holding
// the row lock, so concurrent callers on one class are serialised by
// PostgreSQL and callers on different classes never wait on each other.
func (r *LedgerRepository) TryReserveSeat(ctx context.Context, classID string) (model.SeatToken, error) {
	var token model.SeatToken
	err := lockedTx(ctx, r.db, r.lockTimeout, func(tx pgx.Tx) error {
		var held int
		err := tx.QueryRow(ctx,
			`UPDATE classes
			 SET held_count = held_count + 1
			 WHERE id = $1 AND held_count < capacity
			 RETURNING held_count`,
			classID,
		).Scan(&held)
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the class does not exist or it is full.
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1)`, classID,
			).Scan(&exists); err != nil {
				return classify("check class", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrClassFull
		}
		if err != nil {
			return classify("increment held_count", err)
		}
		token = model.SeatToken{ClassID: classID, HeldCount: held, IssuedAt: time.Now().UTC()}
		return nil
	})
	return token, err
}

// ReleaseSeat gives one seat back, never going below zero.
func (r *LedgerRepository) ReleaseSeat(ctx context.Context, classID string) (int, error) {
	var held int
	err := lockedTx(ctx, r.db, r.lockTimeout, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE classes
			 SET held_count = GREATEST(held_count - 1, 0)
			 WHERE id = $1
			 RETURNING held_count`,
			classID,
		).Scan(&held)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return classify("decrement held_count", err)
	})
	return held, err
}

// Counter returns the seat counter of one class.
func (r *LedgerRepository) Counter(ctx context.Context, classID string) (model.CapacityCounter, error) {
	c := model.CapacityCounter{ClassID: classID}
	err := r.db.QueryRow(ctx,
		`SELECT capacity, held_count FROM classes WHERE id = $1`, classID,
	).Scan(&c.Capacity, &c.Held)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, classify("read counter", err)
}

// Counters returns the seat counters of several classes keyed by class id.
// Unknown ids are absent from the result.
func (r *LedgerRepository) Counters(ctx context.Context, classIDs []string) (map[string]model.CapacityCounter, error) {
	out := make(map[string]model.CapacityCounter, len(classIDs))
	if len(classIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, capacity, held_count FROM classes WHERE id = ANY($1::uuid[])`, classIDs)
	if err != nil {
		return nil, classify("read counters", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.CapacityCounter
		if err := rows.Scan(&c.ClassID, &c.Capacity, &c.Held); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out[c.ClassID] = c
	}
	return out, classify("read counters", rows.Err())
}

// Track is a no-op: capacity is stored on the class row at publish time.
func (r *LedgerRepository) Track(ctx context.Context, class model.ClassInstance, held int) error {
	return nil
}

// lockedTx runs fn in a transaction whose row locks wait at most lockTimeout.
func lockedTx(ctx context.Context, db DB, lockTimeout time.Duration, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if lockTimeout > 0 {
		// SET does not accept bind parameters; the value is an integer.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify("set lock_timeout", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}
	return classify("commit transaction", tx.Commit(ctx))
}
