package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks saves refused because stored state could not be read.
var ErrUnavailable = errors.New("storage unavailable")

// Unavailable stands in for a backend that failed to open or whose snapshot
// could not be read. Load reports nothing stored and every Save is refused, so
// an unreadable snapshot is never overwritten.
type Unavailable struct {
	inner Persister
	cause error
}

// NewUnavailable wraps inner, which may be nil when the backend never opened.
func NewUnavailable(inner Persister, cause error) *Unavailable {
	return &Unavailable{inner: inner, cause: cause}
}

func (u *Unavailable) Load(_ context.Context) ([]byte, error) {
	return nil, nil
}

func (u *Unavailable) Save(_ context.Context, _ []byte) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, u.cause)
}

// Cause returns the error that made the backend unavailable.
func (u *Unavailable) Cause() error { return u.cause }

func (u *Unavailable) Close() error {
	if u.inner == nil {
		return nil
	}
	return u.inner.Close()
}
