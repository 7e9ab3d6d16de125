// Package repository implements the storage backends of the reservation
// service: the class catalog, the capacity ledger, the reservation store and
// the waitlist. PostgreSQL is accessed with pgx directly (no ORM); Redis and
// in-memory backends implement the same contracts.
package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrClassFull is returned when a class has no remaining capacity.
var ErrClassFull = errors.New("class is fully booked")

// ErrDuplicate is returned when the entity already exists in the requested state.
var ErrDuplicate = errors.New("already exists")

// ErrInvalidState is returned when a valid id is in the wrong lifecycle state.
var ErrInvalidState = errors.New("invalid state for this operation")

// ErrTimeout is returned when a per-class lock could not be acquired in time.
var ErrTimeout = errors.New("timed out waiting for class lock")

// ErrTransient marks storage failures that are safe to retry.
var ErrTransient = errors.New("transient storage failure")

// ErrUnavailable is returned once transient failures exhaust their retries.
var ErrUnavailable = errors.New("storage unavailable")

// PostgreSQL error codes the repositories translate.
const (
	pgUniqueViolation      = "23505"
	pgInvalidTextRepr      = "22P02"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"
)

// classify wraps a driver error with the sentinel it corresponds to.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, ErrDuplicate)
		case pgInvalidTextRepr:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case pgLockNotAvailable:
			return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
		case pgSerializationFailure, pgDeadlockDetected, pgAdminShutdown, pgCannotConnectNow:
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}
	}
	if pgconn.SafeToRetry(err) || isDialError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isDialError reports whether the request never reached the server.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
