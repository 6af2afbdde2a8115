package mk

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/eunmann/mkbench/pkg/changeset"
	"github.com/eunmann/mkbench/pkg/pathutil"
)

// Change is a changeset statement resolved to absolute paths.
type Change struct {
	Op changeset.Op
	// Path is the node added, or the node owning the property.
	Path string
	// Name is the property name of a set-property change.
	Name string
	// Value is the raw JSON value; "null" removes the property.
	Value string
	// Properties are the inline properties of an added node.
	Properties map[string]string
}

// Removes reports whether a set-property change removes the property.
func (c Change) Removes() bool {
	return c.Op == changeset.OpSetProperty && c.Value == "null"
}

// Resolve parses changes and makes every statement path absolute relative
// to base.
func Resolve(base, changes string) ([]Change, error) {
	if err := pathutil.Validate(base); err != nil {
		return nil, err
	}
	stmts, err := changeset.Parse(changes)
	if err != nil {
		return nil, err
	}
	out := make([]Change, 0, len(stmts))
	for _, s := range stmts {
		abs := pathutil.Concat(base, s.Path)
		if err := pathutil.Validate(abs); err != nil {
			return nil, errors.Mark(err, changeset.ErrInvalidChangeset)
		}
		switch s.Op {
		case changeset.OpAddNode:
			out = append(out, Change{Op: s.Op, Path: abs, Properties: s.Properties})
		case changeset.OpSetProperty:
			if pathutil.DenotesRoot(abs) {
				return nil, errors.Mark(errors.Newf("property path %q has no name", s.Path), changeset.ErrInvalidChangeset)
			}
			out = append(out, Change{
				Op:    s.Op,
				Path:  pathutil.Parent(abs),
				Name:  pathutil.Name(abs),
				Value: s.Value,
			})
		}
	}
	return out, nil
}

// NodeWriter receives validated changes. Exists must observe nodes added
// earlier in the same commit.
type NodeWriter interface {
	Exists(ctx context.Context, path string) (bool, error)
	AddNode(ctx context.Context, path string, props map[string]string) error
	SetProperty(ctx context.Context, path, name, value string) error
	RemoveProperty(ctx context.Context, path, name string) error
}

// Apply validates each change against w and forwards it. Adding an existing
// node, adding below a missing parent and touching a missing node are
// conflicts.
func Apply(ctx context.Context, w NodeWriter, changes []Change) error {
	for _, c := range changes {
		switch c.Op {
		case changeset.OpAddNode:
			parent := pathutil.Parent(c.Path)
			ok, err := w.Exists(ctx, parent)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Mark(errors.Newf("parent of %s does not exist", c.Path), ErrConflict)
			}
			exists, err := w.Exists(ctx, c.Path)
			if err != nil {
				return err
			}
			if exists {
				return errors.Mark(errors.Newf("%s already exists", c.Path), ErrConflict)
			}
			if err := w.AddNode(ctx, c.Path, c.Properties); err != nil {
				return err
			}
		case changeset.OpSetProperty:
			ok, err := w.Exists(ctx, c.Path)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Mark(errors.Newf("%s does not exist", c.Path), ErrConflict)
			}
			if c.Removes() {
				err = w.RemoveProperty(ctx, c.Path, c.Name)
			} else {
				err = w.SetProperty(ctx, c.Path, c.Name, c.Value)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
