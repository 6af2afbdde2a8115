package mk

import "github.com/cockroachdb/errors"

var (
	// ErrBackendUnavailable indicates a handle could not be created or a
	// connection could not be established.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrCommitFailed marks errors returned by Commit.
	ErrCommitFailed = errors.New("commit failed")
	// ErrReadFailed marks errors returned by GetNodes.
	ErrReadFailed = errors.New("read failed")
	// ErrNotFound indicates the requested node does not exist at the revision.
	ErrNotFound = errors.New("node not found")
	// ErrConflict indicates a statement conflicts with the current tree.
	ErrConflict = errors.New("conflicting change")
	// ErrInvalidRevision indicates a malformed or unknown revision.
	ErrInvalidRevision = errors.New("invalid revision")
	// ErrClosed indicates the kernel was already closed.
	ErrClosed = errors.New("kernel closed")
)

// Unavailable wraps err as a handle creation failure.
func Unavailable(err error, backend string) error {
	return errors.Mark(errors.Wrapf(err, "open %s backend", backend), ErrBackendUnavailable)
}

// CommitError wraps err as a commit failure at path.
func CommitError(err error, path string) error {
	return errors.Mark(errors.Wrapf(err, "commit at %s", path), ErrCommitFailed)
}

// ReadError wraps err as a read failure at path.
func ReadError(err error, path string) error {
	return errors.Mark(errors.Wrapf(err, "read %s", path), ErrReadFailed)
}
