package kv

import "errors"

// Sentinel errors returned by the backing-store contract and by the overlay
// packages built on top of it. Callers should use errors.Is against these,
// since concrete errors are usually wrapped with additional context via
// fmt.Errorf("%w: ...", ...).
var (
	// ErrNotFound is returned when a tree or key is unknown in the given
	// context. A dropped tree counts as unknown for reads.
	ErrNotFound = errors.New("kvtx: not found")

	// ErrUnsupported is returned when an operation is structurally
	// disallowed, such as dropping a protected tree.
	ErrUnsupported = errors.New("kvtx: unsupported")

	// ErrTransactionConflict is returned when the backing engine's atomic
	// multi-tree commit fails due to a conflicting concurrent write.
	ErrTransactionConflict = errors.New("kvtx: transaction conflict")

	// ErrClosed is returned by a kv/memkv DB after Close has been called on
	// it. Tree handles, and kv/pebblekv, do not return it.
	ErrClosed = errors.New("kvtx: closed")
)
