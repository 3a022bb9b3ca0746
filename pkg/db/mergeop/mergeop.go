// Package mergeop provides ready-made merge operators.
package mergeop

import (
	"encoding/binary"
	"fmt"

	"github.com/eigerco/toboggan/internal/safemath"
	"github.com/eigerco/toboggan/pkg/db"
)

// CounterSize is the width of the big-endian counters AddUint64 maintains.
const CounterSize = 8

var (
	_ db.MergeOperator = Concat
	_ db.MergeOperator = Replace
	_ db.MergeOperator = AddUint64
	_ db.MergeOperator = DeleteOnEmpty
)

// Concat appends operand to the existing value.
func Concat(_, existing, operand []byte) []byte {
	merged := make([]byte, 0, len(existing)+len(operand))
	merged = append(merged, existing...)
	return append(merged, operand...)
}

// Replace stores operand, ignoring the existing value.
func Replace(_, _, operand []byte) []byte {
	return db.Clone(operand)
}

// AddUint64 treats values and operands as 8-byte big-endian unsigned counters
// and stores their sum, saturating at the maximum. Values of any other width,
// including a missing value, count as zero.
func AddUint64(_, existing, operand []byte) []byte {
	return EncodeCounter(safemath.SaturatingAdd64(DecodeCounter(existing), DecodeCounter(operand)))
}

// DeleteOnEmpty deletes the key when operand is empty and otherwise behaves
// like Concat.
func DeleteOnEmpty(key, existing, operand []byte) []byte {
	if len(operand) == 0 {
		return nil
	}
	return Concat(key, existing, operand)
}

func EncodeCounter(v uint64) []byte {
	b := make([]byte, CounterSize)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func DecodeCounter(b []byte) uint64 {
	if len(b) != CounterSize {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// ByName returns the operator registered under name: concat, replace, add or
// delete-on-empty.
func ByName(name string) (db.MergeOperator, error) {
	switch name {
	case "concat":
		return Concat, nil
	case "replace":
		return Replace, nil
	case "add":
		return AddUint64, nil
	case "delete-on-empty":
		return DeleteOnEmpty, nil
	default:
		return nil, fmt.Errorf("unknown merge operator %q", name)
	}
}
