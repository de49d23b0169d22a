// Package memkv is an in-memory reference implementation of the kv.Database
// contract. It exists so overlay and overlaydb tests don't need a real disk
// engine to exercise the full diff algebra.
package memkv

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kvtx/kvtx/kv"
)

// DB is an in-memory kv.Database. The zero value is not usable; use New.
type DB struct {
	mu     sync.RWMutex
	trees  map[kv.Name]*tree
	closed bool
}

// New returns an empty in-memory database.
func New() *DB {
	return &DB{trees: make(map[kv.Name]*tree)}
}

func (db *DB) TreeNames() ([]kv.Name, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, kv.ErrClosed
	}
	names := make([]kv.Name, 0, len(db.trees))
	for name := range db.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (db *DB) OpenTree(name kv.Name) (kv.Tree, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, kv.ErrClosed
	}
	t, ok := db.trees[name]
	if !ok {
		t = newTree(name)
		db.trees[name] = t
	}
	return t, nil
}

func (db *DB) DropTree(name kv.Name) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return kv.ErrClosed
	}
	delete(db.trees, name)
	return nil
}

// Transaction applies each batch to its tree. All batches are buffered and
// validated before any mutation is applied, so a malformed batch set leaves
// every tree untouched.
func (db *DB) Transaction(trees []kv.Tree, batches []kv.Batch) error {
	if len(trees) != len(batches) {
		return fmt.Errorf("kvtx/memkv: mismatched trees/batches lengths %d/%d", len(trees), len(batches))
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return kv.ErrClosed
	}
	mts := make([]*tree, len(trees))
	for i, t := range trees {
		mt, ok := t.(*tree)
		if !ok {
			return fmt.Errorf("kvtx/memkv: foreign tree handle for %q", t.Name())
		}
		mts[i] = mt
	}
	for i, mt := range mts {
		if err := mt.applyBatch(batches[i]); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}
