package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	retryMaxTries     = 4
	retryBaseDelay    = 50 * time.Millisecond
	retryMaxDelay     = 500 * time.Millisecond
	retryMaxElapsed   = 5 * time.Second
	retryRandomFactor = 0.5
)

// isTransientSQLiteErr reports errors that resolve by retrying under WAL contention.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// permanent marks err as not retryable even if its text looks transient.
func permanent(err error) error {
	return permanentError{err: err}
}

// retryOnContention runs fn with exponential backoff while it fails with transient SQLite errors.
func retryOnContention(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBaseDelay
	policy.MaxInterval = retryMaxDelay
	policy.RandomizationFactor = retryRandomFactor

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		var marked permanentError
		if errors.As(err, &marked) {
			return struct{}{}, backoff.Permanent(marked.err)
		}
		if !isTransientSQLiteErr(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(retryMaxTries),
		backoff.WithMaxElapsedTime(retryMaxElapsed),
	)
	return err
}
