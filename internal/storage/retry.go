package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres aborts one side of a serialization conflict or deadlock; the
// aborted statement is safe to replay as-is.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func retriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// WithRetry runs fn, replaying it up to attempts extra times when it fails
// with a retriable Postgres error. The wait between replays doubles each
// time, with jitter so competing writers do not collide again in lockstep.
func WithRetry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	for {
		err := fn()
		if err == nil || !retriable(err) || attempts <= 0 {
			return err
		}
		attempts--

		wait := delay + time.Duration(rand.Int64N(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}
