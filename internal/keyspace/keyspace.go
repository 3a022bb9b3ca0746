// Package keyspace lays out many named trees inside a single flat, ordered
// engine keyspace.
//
// Every tree is assigned a numeric id the first time it is opened. The
// name-to-id mapping lives under prefixTreeName and the next free id under
// prefixMeta. Tree data lives under prefixTreeData followed by the 8-byte
// big-endian id, so each tree occupies one contiguous key range.
package keyspace

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Prefix constants for all key types
const (
	prefixMeta byte = iota + 1
	prefixTreeName
	prefixTreeData
)

const idSize = 8

var ErrInvalidTreeID = errors.New("keyspace: invalid tree id encoding")

// TreeID identifies a tree inside the shared keyspace.
type TreeID uint64

// NextTreeIDKey is the key under which the next unassigned TreeID is kept.
func NextTreeIDKey() []byte {
	return makeKey(prefixMeta, []byte("next-tree-id"))
}

// TreeNameKey is the key mapping a tree name to its TreeID.
func TreeNameKey(name []byte) []byte {
	return makeKey(prefixTreeName, name)
}

// EncodeTreeID returns the stored representation of id.
func EncodeTreeID(id TreeID) []byte {
	b := make([]byte, idSize)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// DecodeTreeID parses a value written by EncodeTreeID.
func DecodeTreeID(b []byte) (TreeID, error) {
	if len(b) != idSize {
		return 0, fmt.Errorf("%w: got %d bytes", ErrInvalidTreeID, len(b))
	}
	return TreeID(binary.BigEndian.Uint64(b)), nil
}

// Prefix returns the prefix shared by every data key of the tree.
func (id TreeID) Prefix() []byte {
	return makeKey(prefixTreeData, EncodeTreeID(id))
}

// UpperBound returns the smallest key greater than every data key of the tree.
func (id TreeID) UpperBound() []byte {
	if id == ^TreeID(0) {
		return []byte{prefixTreeData + 1}
	}
	return (id + 1).Prefix()
}

// Key returns the engine key storing the user key of the tree.
func (id TreeID) Key(userKey []byte) []byte {
	key := make([]byte, 1+idSize+len(userKey))
	key[0] = prefixTreeData
	binary.BigEndian.PutUint64(key[1:], uint64(id))
	copy(key[1+idSize:], userKey)
	return key
}

// UserKey strips the tree prefix from an engine key. The result is a fresh copy.
func (id TreeID) UserKey(key []byte) []byte {
	prefixLen := 1 + idSize
	if len(key) < prefixLen {
		return []byte{}
	}
	userKey := make([]byte, len(key)-prefixLen)
	copy(userKey, key[prefixLen:])
	return userKey
}

// makeKey creates a key from a prefix and a body
func makeKey(prefix byte, body []byte) []byte {
	key := make([]byte, 1+len(body))
	key[0] = prefix
	copy(key[1:], body)
	return key
}
