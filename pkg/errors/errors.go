// Package errors defines the error kinds the transactional layer returns,
// grouped by how the caller is expected to react: conflicts it is
// expected to retry, and usage/storage failures that are fatal to the
// transaction that hit them.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// ConflictError reports an "abort-conflict": validation found that a row
// read during the transaction was overwritten before commit.
type ConflictError struct {
	Key []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("abort-conflict: key %x was overwritten since it was read", e.Key)
}

// LockedError reports an "abort-locked": a concurrent writer holds the
// lock on a row this transaction validated and did not itself write.
type LockedError struct {
	Key []byte
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("abort-locked: key %x is locked by a concurrent committer", e.Key)
}

// ResourceExhaustedError reports that a bounded structure (the read/write
// set or the timestamp cache) has no room left for the requested entry.
type ResourceExhaustedError struct {
	Resource string
	Detail   string
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource-exhaustion: %s exhausted: %s", e.Resource, e.Detail)
}

// UsageError reports a misuse of the programmatic surface: an operation
// against a closed handle, an unregistered thread, a finished
// transaction, and similar defensive checks.
type UsageError struct {
	Detail string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage-error: %s", e.Detail)
}

// StorageError wraps a nonzero return from the KV engine encountered while
// installing a commit. Fatal to the transaction that hit it; not
// something a retry loop should absorb.
type StorageError struct {
	Key []byte
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage-error: installing key %x: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// WrapStorage wraps err (typically returned by the KV engine) into a
// StorageError carrying a stack trace via cockroachdb/errors, or returns
// nil if err is nil.
func WrapStorage(key []byte, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Key: key, Err: cockroacherrors.Wrapf(err, "kv engine operation on key %x", key)}
}

// Assertf raises a usage-error carrying the given fatal assertion message,
// in the register of cockroachdb/errors.AssertionFailedf.
func Assertf(format string, args ...interface{}) error {
	return &UsageError{Detail: cockroacherrors.AssertionFailedf(format, args...).Error()}
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return cockroacherrors.As(err, &c)
}

// IsLocked reports whether err is (or wraps) a LockedError.
func IsLocked(err error) bool {
	var l *LockedError
	return cockroacherrors.As(err, &l)
}

// IsAbort reports whether err is a conflict or a lock abort, the two
// cases the caller is expected to retry.
func IsAbort(err error) bool {
	return IsConflict(err) || IsLocked(err)
}
