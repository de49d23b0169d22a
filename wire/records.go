package wire

import (
	"encoding/binary"
	"fmt"
)

// ParseRecord decodes a raw (key, value) pair produced by a backing tree,
// given decode functions for each side. It exists for callers that store
// structured data under variable-length keys rather than the fixed-width
// big-endian counters ParseFixed32KeyRecord/ParseFixed64KeyRecord assume.
func ParseRecord[K any, V any](key, value []byte, decodeKey func([]byte) (K, error), decodeValue func([]byte) (V, error)) (K, V, error) {
	k, err := decodeKey(key)
	if err != nil {
		var zero K
		var zeroV V
		return zero, zeroV, fmt.Errorf("wire: parse record key: %w", err)
	}
	v, err := decodeValue(value)
	if err != nil {
		var zeroV V
		return k, zeroV, fmt.Errorf("wire: parse record value: %w", err)
	}
	return k, v, nil
}

// ParseFixed32KeyRecord decodes a record whose key is a big-endian uint32
// counter, as used by sequence-numbered log trees.
func ParseFixed32KeyRecord[V any](key, value []byte, decodeValue func([]byte) (V, error)) (uint32, V, error) {
	var zero V
	if len(key) != 4 {
		return 0, zero, fmt.Errorf("wire: fixed32 key record: want 4 bytes, got %d", len(key))
	}
	k := binary.BigEndian.Uint32(key)
	v, err := decodeValue(value)
	if err != nil {
		return k, zero, fmt.Errorf("wire: parse record value: %w", err)
	}
	return k, v, nil
}

// ParseFixed64KeyRecord decodes a record whose key is a big-endian uint64
// counter, as used by sequence-numbered log trees with higher cardinality.
func ParseFixed64KeyRecord[V any](key, value []byte, decodeValue func([]byte) (V, error)) (uint64, V, error) {
	var zero V
	if len(key) != 8 {
		return 0, zero, fmt.Errorf("wire: fixed64 key record: want 8 bytes, got %d", len(key))
	}
	k := binary.BigEndian.Uint64(key)
	v, err := decodeValue(value)
	if err != nil {
		return k, zero, fmt.Errorf("wire: parse record value: %w", err)
	}
	return k, v, nil
}

// EncodeFixed32Key is the inverse encoding used by ParseFixed32KeyRecord's
// callers to build keys for insertion.
func EncodeFixed32Key(k uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, k)
	return buf
}

// EncodeFixed64Key is the inverse encoding used by ParseFixed64KeyRecord's
// callers to build keys for insertion.
func EncodeFixed64Key(k uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, k)
	return buf
}
