// Package kv defines the backing-store contract that the tree and database
// overlays are built against. Everything in this package is an external
// collaborator: an ordered, multi-collection key/value store with atomic
// multi-tree transactions. The overlay packages never assume a concrete
// implementation beyond what's declared here.
package kv

// Name identifies a tree within a Database. Names compare
// byte-lexicographically using plain string comparison.
type Name = string

// Key is a tree record's key. Keys compare byte-lexicographically using
// plain string comparison.
type Key = string

// Value is a tree record's value.
type Value = []byte

// Database is a collection of named, ordered Trees with atomic multi-tree
// commit. Implementations: kv/memkv (in-memory reference) and
// kv/pebblekv (cockroachdb/pebble backed).
type Database interface {
	// TreeNames lists every tree currently present in the database.
	TreeNames() ([]Name, error)

	// OpenTree returns a handle to the named tree, creating it if absent.
	// Opening a tree may materialize it immediately in the store even
	// though overlay callers only consider it live once referenced.
	OpenTree(name Name) (Tree, error)

	// DropTree removes a tree and all of its records.
	DropTree(name Name) error

	// Transaction commits the given batches against their corresponding
	// trees as a single atomic operation: observers see all of the
	// batches applied, or none of them.
	Transaction(trees []Tree, batches []Batch) error

	// Close releases resources held by the database.
	Close() error
}

// Tree is a single ordered Key->Value collection within a Database.
type Tree interface {
	Name() Name

	Get(key Key) (Value, error)
	ContainsKey(key Key) (bool, error)
	Len() (int, error)
	IsEmpty() (bool, error)

	// Last returns the lexicographically greatest record, or ok=false if
	// the tree is empty.
	Last() (key Key, value Value, ok bool, err error)

	// Iter returns a restartable, ascending-key iterator over the tree's
	// records as they stand at call time. The tree must not be mutated
	// while an iterator returned by this call is in use.
	Iter() (Iterator, error)

	Insert(key Key, value Value) error
	Remove(key Key) error

	// ApplyBatch commits an ordered batch of inserts/removes against this
	// tree alone. The engine must honor insert-before-remove ordering for
	// the same key within one batch.
	ApplyBatch(b Batch) error

	// NewBatch returns an empty Batch targeting this tree.
	NewBatch() Batch
}

// Batch is an ordered set of insert/remove operations committed atomically
// by a backing Tree, or as part of a cross-tree Database.Transaction.
type Batch interface {
	Insert(key Key, value Value)
	Remove(key Key)
	Len() int
}

// Iterator walks a Tree's records in ascending key order.
type Iterator interface {
	Next() bool
	Key() Key
	Value() Value
	Err() error
	Close() error
}
