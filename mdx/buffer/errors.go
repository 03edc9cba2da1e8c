package buffer

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a fingerprint has no registered buffer.
var ErrNotFound = errors.New("buffer not found")

// UpstreamError wraps a failure of the external catalog query. When a build
// fails with an UpstreamError no buffer state has changed.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("catalog query failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StorageError wraps a failure reading or writing the storage engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
