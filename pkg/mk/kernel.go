// Package mk defines the capability contract of a tree-structured,
// versioned storage backend: commit a changeset relative to a path and read
// a subtree at a revision. Concrete backends live in subpackages.
package mk

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kernel is one logical connection to a storage backend. A Kernel is owned
// by exactly one creator and must be closed explicitly.
type Kernel interface {
	// Commit applies changes relative to path and returns the new revision.
	// An empty baseRevision means no base revision constraint.
	Commit(ctx context.Context, path, changes, baseRevision, message string) (string, error)

	// GetNodes reads the node at path at revision ("" means head) and up to
	// depth levels of its descendants. offset and maxCount page the direct
	// children of path; maxCount < 0 means unlimited. filter selects
	// properties by name (see ParseFilter); "" keeps all properties.
	GetNodes(ctx context.Context, path, revision string, depth, offset, maxCount int, filter string) (*Node, error)

	// HeadRevision returns the most recent revision.
	HeadRevision(ctx context.Context) (string, error)

	// Close releases the connection. Closing twice is a no-op.
	Close() error
}

// InitialRevision is the revision of the empty tree holding only the root.
const InitialRevision uint64 = 0

const revisionPrefix = "r"

// FormatRevision renders a revision number as a revision identifier.
func FormatRevision(n uint64) string {
	return revisionPrefix + strconv.FormatUint(n, 10)
}

// ParseRevision parses a revision identifier produced by FormatRevision.
func ParseRevision(id string) (uint64, error) {
	if !strings.HasPrefix(id, revisionPrefix) {
		return 0, errors.Mark(errors.Newf("malformed revision %q", id), ErrInvalidRevision)
	}
	n, err := strconv.ParseUint(id[len(revisionPrefix):], 10, 64)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "malformed revision %q", id), ErrInvalidRevision)
	}
	return n, nil
}

// ResolveRevision maps a requested revision to a revision number no newer
// than head. The empty revision resolves to head.
func ResolveRevision(id string, head uint64) (uint64, error) {
	if id == "" {
		return head, nil
	}
	n, err := ParseRevision(id)
	if err != nil {
		return 0, err
	}
	if n > head {
		return 0, errors.Mark(errors.Newf("unknown revision %s (head is %s)", id, FormatRevision(head)), ErrInvalidRevision)
	}
	return n, nil
}
