// Package changeset encodes, decodes and batches the mutation statements
// committed to tree backends.
//
// A changeset is a sequence of statements:
//
//	+"a/b":{}            add node a/b (optionally with inline properties)
//	^"a/b/p": "value"    set property p on node a/b (null removes it)
//
// Paths are relative to the commit path. Statements may be separated by
// whitespace or by nothing at all.
package changeset

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidChangeset marks changesets that cannot be decoded.
var ErrInvalidChangeset = errors.New("invalid changeset")

// Op is a statement operator.
type Op byte

const (
	// OpAddNode adds a node.
	OpAddNode Op = '+'
	// OpSetProperty sets or removes a property.
	OpSetProperty Op = '^'
)

func (o Op) String() string {
	switch o {
	case OpAddNode:
		return "add_node"
	case OpSetProperty:
		return "set_property"
	default:
		return "unknown"
	}
}

// Statement is a single atomic mutation request.
type Statement struct {
	Op   Op
	Path string
	// Value is the raw JSON value of a set-property statement.
	// "null" removes the property.
	Value string
	// Properties holds raw JSON values set inline by an add-node statement.
	Properties map[string]string
}

// AddNode returns an add-node statement for path.
func AddNode(path string) Statement {
	return Statement{Op: OpAddNode, Path: path}
}

// SetProperty returns a statement setting the property at path to the
// string value.
func SetProperty(path, value string) Statement {
	return Statement{Op: OpSetProperty, Path: path, Value: quote(value)}
}

// SetPropertyRaw returns a statement setting the property at path to a raw
// JSON value.
func SetPropertyRaw(path, rawJSON string) Statement {
	return Statement{Op: OpSetProperty, Path: path, Value: rawJSON}
}

// String encodes the statement in changeset syntax.
func (s Statement) String() string {
	var sb strings.Builder
	s.appendTo(&sb)
	return sb.String()
}

func (s Statement) appendTo(sb *strings.Builder) {
	sb.WriteByte(byte(s.Op))
	sb.WriteString(quote(s.Path))
	switch s.Op {
	case OpAddNode:
		sb.WriteByte(':')
		writeObject(sb, s.Properties)
	default:
		sb.WriteString(": ")
		sb.WriteString(s.Value)
	}
}

func writeObject(sb *strings.Builder, props map[string]string) {
	if len(props) == 0 {
		sb.WriteString("{}")
		return
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(quote(k))
		sb.WriteByte(':')
		sb.WriteString(props[k])
	}
	sb.WriteByte('}')
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// Marshalling a string cannot fail.
		panic(err)
	}
	return string(b)
}
