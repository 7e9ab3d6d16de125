package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
)

// WaitlistRepository is the PostgreSQL waitlist.
type WaitlistRepository struct {
	db          DB
	lockTimeout time.Duration
}

// NewWaitlistRepository constructs a WaitlistRepository.
func NewWaitlistRepository(db DB, lockTimeout time.Duration) *WaitlistRepository {
	return &WaitlistRepository{db: db, lockTimeout: lockTimeout}
}

func collectEntries(rows pgx.Rows) ([]model.WaitlistEntry, error) {
	defer rows.Close()

	var out []model.WaitlistEntry
	for rows.Next() {
		var e model.WaitlistEntry
		if err := rows.Scan(&e.ClassID, &e.UserID, &e.Seq, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		out = append(out, e)
	}
	return out, classify("read waitlist", rows.Err())
}

// Join appends the user to the class waitlist. The sequence number is taken
// from the class row under its row lock, the same lock the capacity ledger
// mutates under, so sequence numbers are strictly increasing per class.
func (r *WaitlistRepository) Join(ctx context.Context, classID, userID string) (*model.WaitlistEntry, error) {
	entry := &model.WaitlistEntry{ClassID: classID, UserID: userID, CreatedAt: time.Now().UTC()}

	err := lockedTx(ctx, r.db, r.lockTimeout, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE classes SET waitlist_seq = waitlist_seq + 1 WHERE id = $1 RETURNING waitlist_seq`,
			classID,
		).Scan(&entry.Seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return classify("next waitlist seq", err)
		}

		var held bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM reservations WHERE class_id = $1 AND user_id = $2 AND status = 'held')`,
			classID, userID,
		).Scan(&held); err != nil {
			return classify("check held reservation", err)
		}
		if held {
			return fmt.Errorf("user already holds a seat: %w", ErrDuplicate)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO waitlist_entries (class_id, user_id, seq, created_at) VALUES ($1, $2, $3, $4)`,
			entry.ClassID, entry.UserID, entry.Seq, entry.CreatedAt,
		)
		return classify("insert waitlist entry", err)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Leave removes the user's entry. It reports whether an entry existed.
func (r *WaitlistRepository) Leave(ctx context.Context, classID, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM waitlist_entries WHERE class_id = $1 AND user_id = $2`, classID, userID)
	if err != nil {
		return false, classify("delete waitlist entry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Remove deletes exactly the given entry, so an entry re-created after a
// leave/join cycle is not removed by a stale promotion.
func (r *WaitlistRepository) Remove(ctx context.Context, entry model.WaitlistEntry) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM waitlist_entries WHERE class_id = $1 AND user_id = $2 AND seq = $3`,
		entry.ClassID, entry.UserID, entry.Seq)
	if err != nil {
		return false, classify("remove waitlist entry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Requeue puts a removed entry back with its original sequence number.
func (r *WaitlistRepository) Requeue(ctx context.Context, entry model.WaitlistEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO waitlist_entries (class_id, user_id, seq, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		entry.ClassID, entry.UserID, entry.Seq, entry.CreatedAt)
	return classify("requeue waitlist entry", err)
}

// Entries returns the class waitlist in FIFO order.
func (r *WaitlistRepository) Entries(ctx context.Context, classID string) ([]model.WaitlistEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT class_id, user_id, seq, created_at
		 FROM waitlist_entries
		 WHERE class_id = $1
		 ORDER BY seq ASC`,
		classID,
	)
	if err != nil {
		return nil, classify("list waitlist", err)
	}
	return collectEntries(rows)
}

// ListByUser returns every waitlist entry of a user.
func (r *WaitlistRepository) ListByUser(ctx context.Context, userID string) ([]model.WaitlistEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT class_id, user_id, seq, created_at
		 FROM waitlist_entries
		 WHERE user_id = $1
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, classify("list waitlist by user", err)
	}
	return collectEntries(rows)
}
