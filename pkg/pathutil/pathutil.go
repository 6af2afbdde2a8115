// Package pathutil manipulates the slash-separated node paths used by tree
// backends. Absolute paths start with "/"; "/" itself denotes the root node.
package pathutil

import (
	"fmt"
	"strings"
)

// Root is the absolute path of the root node.
const Root = "/"

// IsAbsolute reports whether p starts with a slash.
func IsAbsolute(p string) bool {
	return strings.HasPrefix(p, "/")
}

// DenotesRoot reports whether p is the root path.
func DenotesRoot(p string) bool {
	return p == Root
}

// Concat appends the relative path rel to parent.
// An empty rel returns parent unchanged.
func Concat(parent, rel string) string {
	if rel == "" {
		return parent
	}
	if parent == "" {
		return rel
	}
	if DenotesRoot(parent) {
		return Root + rel
	}
	return parent + "/" + rel
}

// Parent returns the parent of an absolute path. The root's parent is "".
func Parent(p string) string {
	if DenotesRoot(p) || p == "" {
		return ""
	}
	i := strings.LastIndexByte(p, '/')
	switch {
	case i < 0:
		return ""
	case i == 0:
		return Root
	default:
		return p[:i]
	}
}

// Name returns the last element of p. The root's name is "".
func Name(p string) string {
	if DenotesRoot(p) {
		return ""
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Validate checks that p is a well-formed absolute path: no empty elements,
// no trailing slash (except the root) and no NUL bytes.
func Validate(p string) error {
	if !IsAbsolute(p) {
		return fmt.Errorf("path %q is not absolute", p)
	}
	if DenotesRoot(p) {
		return nil
	}
	if strings.IndexByte(p, 0) >= 0 {
		return fmt.Errorf("path %q contains a NUL byte", p)
	}
	for _, elem := range strings.Split(p[1:], "/") {
		if elem == "" {
			return fmt.Errorf("path %q has an empty element", p)
		}
	}
	return nil
}
