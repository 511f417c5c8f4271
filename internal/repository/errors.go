package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps failures to open or migrate the local store.
	ErrStoreUnavailable = errors.New("local store unavailable")
)
