//go:build !windows && !unix

package singleinstance

import "errors"

// ErrAlreadyRunning is returned by TryLock when another instance holds the mutex.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is a no-op on platforms other than Windows and Unix.
type Lock struct{}

// TryLock always succeeds on platforms other than Windows and Unix.
func TryLock(_ string) (*Lock, error) { return &Lock{}, nil }

// Release is a no-op on platforms other than Windows and Unix.
func (l *Lock) Release() error { return nil }

// DefaultMutexName returns an empty string on platforms other than Windows and Unix.
func DefaultMutexName() string { return "" }
