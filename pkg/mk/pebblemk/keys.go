package pebblemk

import (
	"bytes"
	"encoding/binary"
)

// Key layout. Paths never contain NUL, so it separates key components.
//
//	m/head                      -> head revision
//	r/<rev>                     -> commit message
//	n/<path>                    -> revision that created the node
//	c/<parent>\x00<name>        -> revision that created the child
//	p/<path>\x00<name>\x00<^rev> -> property value at rev, newest first
var (
	headKey        = []byte("m/head")
	revisionPrefix = []byte("r/")
	nodePrefix     = []byte("n/")
	childPrefix    = []byte("c/")
	propertyPrefix = []byte("p/")
)

const sep = 0

// Property values carry a one-byte tag so removal is distinguishable from
// an empty value.
const (
	tagValue     = '1'
	tagTombstone = '0'
)

func encodeRev(rev uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], rev)
	return b[:]
}

func decodeRev(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func revisionKey(rev uint64) []byte {
	return append(bytes.Clone(revisionPrefix), encodeRev(rev)...)
}

func nodeKey(path string) []byte {
	return append(bytes.Clone(nodePrefix), path...)
}

func childKeyPrefix(parent string) []byte {
	k := append(bytes.Clone(childPrefix), parent...)
	return append(k, sep)
}

func childKey(parent, name string) []byte {
	return append(childKeyPrefix(parent), name...)
}

func propertyKeyPrefix(path string) []byte {
	k := append(bytes.Clone(propertyPrefix), path...)
	return append(k, sep)
}

// propertyKey inverts rev so newer versions of a property sort first.
func propertyKey(path, name string, rev uint64) []byte {
	k := append(propertyKeyPrefix(path), name...)
	k = append(k, sep)
	return append(k, encodeRev(^rev)...)
}

// splitPropertyKey extracts the name and revision from the suffix of a
// property key that follows propertyKeyPrefix.
func splitPropertyKey(suffix []byte) (string, uint64, bool) {
	if len(suffix) < 9 || suffix[len(suffix)-9] != sep {
		return "", 0, false
	}
	name := string(suffix[:len(suffix)-9])
	return name, ^decodeRev(suffix[len(suffix)-8:]), true
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
