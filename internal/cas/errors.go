package cas

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The string value is a stable code that the
// CLI and callers switch on; never change an existing value.
type Kind string

const (
	KindSourceNotFound     Kind = "SOURCE_NOT_FOUND"
	KindHashMismatch       Kind = "HASH_MISMATCH"
	KindLockTimeout        Kind = "LOCK_TIMEOUT"
	KindIncompleteWrite    Kind = "INCOMPLETE_WRITE"
	KindAtomicCommitFailed Kind = "ATOMIC_COMMIT_FAILED"
	KindIntegrityViolation Kind = "INTEGRITY_VIOLATION"
	KindMergeNotFound      Kind = "MERGE_NOT_FOUND"
	KindWorkspaceNotFound  Kind = "WORKSPACE_NOT_FOUND"
	KindManifestNotFound   Kind = "MANIFEST_NOT_FOUND"
	KindBlobNotFound       Kind = "BLOB_NOT_FOUND"
	KindInvalidManifest    Kind = "INVALID_MANIFEST"
	KindConcurrentCommit   Kind = "CONCURRENT_COMMIT"
	KindInternal           Kind = "INTERNAL"
)

// Error is the error type returned by the storage core.
// Op names the operation that failed; Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work
// with errors.Is regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrSourceNotFound     = &Error{Kind: KindSourceNotFound}
	ErrHashMismatch       = &Error{Kind: KindHashMismatch}
	ErrLockTimeout        = &Error{Kind: KindLockTimeout}
	ErrIncompleteWrite    = &Error{Kind: KindIncompleteWrite}
	ErrAtomicCommitFailed = &Error{Kind: KindAtomicCommitFailed}
	ErrIntegrityViolation = &Error{Kind: KindIntegrityViolation}
	ErrMergeNotFound      = &Error{Kind: KindMergeNotFound}
	ErrWorkspaceNotFound  = &Error{Kind: KindWorkspaceNotFound}
	ErrManifestNotFound   = &Error{Kind: KindManifestNotFound}
	ErrBlobNotFound       = &Error{Kind: KindBlobNotFound}
	ErrInvalidManifest    = &Error{Kind: KindInvalidManifest}
	ErrConcurrentCommit   = &Error{Kind: KindConcurrentCommit}
)

// E builds an *Error of the given kind.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error of the given kind with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Code returns the stable error code for err.
func Code(err error) string {
	return string(KindOf(err))
}

// Retryable reports whether the caller may retry the same request with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindLockTimeout, KindIncompleteWrite, KindAtomicCommitFailed, KindConcurrentCommit:
		return true
	}
	return false
}
