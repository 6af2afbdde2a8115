package mk

import (
	"context"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/eunmann/mkbench/pkg/pathutil"
)

// Node is a materialised subtree returned by GetNodes.
type Node struct {
	Path string
	Name string
	// Properties maps property names to raw JSON values.
	Properties map[string]string
	// ChildCount is the total number of children, regardless of paging.
	ChildCount int
	// Children is nil when the depth limit was reached.
	Children []*Node
}

// Child returns the materialised child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Size returns the number of nodes in the materialised subtree.
func (n *Node) Size() int {
	size := 1
	for _, c := range n.Children {
		size += c.Size()
	}
	return size
}

// Filter selects properties by name.
type Filter struct {
	patterns []string
}

// ParseFilter parses a comma-separated list of property name glob patterns.
// The empty string matches every property.
func ParseFilter(s string) (Filter, error) {
	if strings.TrimSpace(s) == "" {
		return Filter{}, nil
	}
	var f Filter
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			return Filter{}, errors.Wrapf(err, "filter pattern %q", p)
		}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

// Match reports whether the property name passes the filter.
func (f Filter) Match(name string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, p := range f.patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Apply returns the properties that pass the filter.
func (f Filter) Apply(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		if f.Match(k) {
			out[k] = v
		}
	}
	return out
}

// NodeReader is a view of a tree at one revision.
type NodeReader interface {
	// ReadNode returns the properties of the node at path and whether it exists.
	ReadNode(ctx context.Context, path string) (map[string]string, bool, error)
	// ReadChildren returns up to count (all when count < 0) child names of
	// path in name order starting at offset, and the total number of children.
	ReadChildren(ctx context.Context, path string, offset, count int) ([]string, int, error)
}

// Materialize builds the Node returned by GetNodes from a NodeReader.
func Materialize(ctx context.Context, r NodeReader, p string, depth, offset, maxCount int, filter Filter) (*Node, error) {
	props, ok, err := r.ReadNode(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Mark(errors.Newf("%s does not exist", p), ErrNotFound)
	}
	return materialize(ctx, r, p, props, depth, offset, maxCount, filter)
}

func materialize(ctx context.Context, r NodeReader, p string, props map[string]string, depth, offset, maxCount int, filter Filter) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	count := maxCount
	if depth <= 0 {
		count = 0
	}
	names, total, err := r.ReadChildren(ctx, p, offset, count)
	if err != nil {
		return nil, err
	}
	n := &Node{
		Path:       p,
		Name:       pathutil.Name(p),
		Properties: filter.Apply(props),
		ChildCount: total,
	}
	if depth <= 0 {
		return n, nil
	}
	n.Children = make([]*Node, 0, len(names))
	for _, name := range names {
		childPath := pathutil.Concat(p, name)
		childProps, ok, err := r.ReadNode(ctx, childPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		child, err := materialize(ctx, r, childPath, childProps, depth-1, 0, -1, filter)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}
