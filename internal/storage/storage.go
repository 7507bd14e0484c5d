// Package storage defines the key-value persistence contract shared by the
// options and credential stores.
//
// Backends live in sub-packages (memory, redis, postgres). All of them
// provide an atomic CompareAndSwap so that concurrent writers on the same key
// serialize without any in-process lock.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("storage: key not found")

	// ErrUnavailable wraps backend connectivity failures. Callers surface it
	// unchanged so the route layer can answer with a server error.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// Store is a byte-oriented key-value store.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set unconditionally writes value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap replaces the value of key with next only if the current
	// value equals prev. A nil prev means the key must be absent; a nil next
	// deletes the key. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// keeping the backend error in the chain.
func Unavailable(op string, err error) error {
	return &unavailableError{op: op, err: err}
}

type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return e.op + ": " + ErrUnavailable.Error() + ": " + e.err.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}
