// Package pebblekv adapts github.com/cockroachdb/pebble into the kv.Database
// contract, giving every named tree its own key range inside one pebble
// instance via a length-prefixed name prefix, and fronting reads with a
// bounded github.com/VictoriaMetrics/fastcache clean-read cache the same way
// triedb/pathdb's disk layer fronts committed trie-node reads.
package pebblekv

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cockroachdb/pebble"
	"github.com/gofrs/flock"

	"github.com/kvtx/kvtx/kv"
)

// Config tunes a DB's resource usage.
type Config struct {
	// CleanCacheBytes sizes the fastcache front-end cache for committed
	// reads. Zero disables the cache.
	CleanCacheBytes int
}

// DB is a pebble-backed kv.Database. Every tree shares the single
// underlying pebble instance; tree boundaries are enforced purely through
// key prefixing, so Database.Transaction can commit across trees with one
// pebble batch.
type DB struct {
	pebble *pebble.DB
	clean  *fastcache.Cache
	lock   *flock.Flock

	mu    sync.RWMutex
	names map[kv.Name]struct{}
}

// Open opens (creating if absent) a pebble store at dir, taking an advisory
// process-exclusive lock on the directory for the lifetime of the returned
// DB.
func Open(dir string, cfg Config) (*DB, error) {
	fl := flock.New(filepath.Join(dir, ".kvtx.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("kvtx/pebblekv: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("kvtx/pebblekv: %s is already opened by another process", dir)
	}
	pdb, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("kvtx/pebblekv: open: %w", err)
	}
	db := &DB{
		pebble: pdb,
		lock:   fl,
		names:  make(map[kv.Name]struct{}),
	}
	if cfg.CleanCacheBytes > 0 {
		db.clean = fastcache.New(cfg.CleanCacheBytes)
	}
	if err := db.loadNames(); err != nil {
		pdb.Close()
		fl.Unlock()
		return nil, err
	}
	return db, nil
}

// loadNames scans the tree-name registry key so TreeNames doesn't require a
// full keyspace scan. Tree records start with a 4-byte name length, so they
// sort below registryPrefix; the scan runs from registryPrefix to the end of
// the keyspace.
func (db *DB) loadNames() error {
	it, err := db.pebble.NewIter(&pebble.IterOptions{
		LowerBound: []byte{registryPrefix},
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		name := string(it.Key()[1:])
		db.names[name] = struct{}{}
	}
	return it.Error()
}

const registryPrefix = 0xff

func registryKey(name kv.Name) []byte {
	buf := make([]byte, 1+len(name))
	buf[0] = registryPrefix
	copy(buf[1:], name)
	return buf
}

// encodeKey builds the physical pebble key for (name, key): a 4-byte
// big-endian name length, the name bytes, then the tree key bytes. This
// avoids any ambiguity from separator bytes appearing inside arbitrary key
// content.
func encodeKey(name kv.Name, key kv.Key) []byte {
	buf := make([]byte, 4+len(name)+len(key))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(name)))
	copy(buf[4:4+len(name)], name)
	copy(buf[4+len(name):], key)
	return buf
}

func prefixBounds(name kv.Name) (lower, upper []byte) {
	lower = make([]byte, 4+len(name))
	binary.BigEndian.PutUint32(lower[:4], uint32(len(name)))
	copy(lower[4:], name)
	upper = append(append([]byte{}, lower...), 0xff)
	return lower, upper
}

func (db *DB) TreeNames() ([]kv.Name, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]kv.Name, 0, len(db.names))
	for n := range db.names {
		names = append(names, n)
	}
	return names, nil
}

func (db *DB) OpenTree(name kv.Name) (kv.Tree, error) {
	db.mu.Lock()
	if _, ok := db.names[name]; !ok {
		if err := db.pebble.Set(registryKey(name), nil, pebble.Sync); err != nil {
			db.mu.Unlock()
			return nil, fmt.Errorf("kvtx/pebblekv: register tree %q: %w", name, err)
		}
		db.names[name] = struct{}{}
	}
	db.mu.Unlock()
	return &tree{db: db, name: name}, nil
}

func (db *DB) DropTree(name kv.Name) error {
	lower, upper := prefixBounds(name)
	if err := db.pebble.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return fmt.Errorf("kvtx/pebblekv: drop tree %q: %w", name, err)
	}
	if err := db.pebble.Delete(registryKey(name), pebble.Sync); err != nil {
		return fmt.Errorf("kvtx/pebblekv: unregister tree %q: %w", name, err)
	}
	if db.clean != nil {
		db.clean.Reset()
	}
	db.mu.Lock()
	delete(db.names, name)
	db.mu.Unlock()
	return nil
}

// Transaction commits every batch into a single pebble batch, so the commit
// is atomic across trees.
func (db *DB) Transaction(trees []kv.Tree, batches []kv.Batch) error {
	if len(trees) != len(batches) {
		return fmt.Errorf("kvtx/pebblekv: mismatched trees/batches lengths %d/%d", len(trees), len(batches))
	}
	pb := db.pebble.NewBatch()
	defer pb.Close()
	for i, t := range trees {
		pt, ok := t.(*tree)
		if !ok {
			return fmt.Errorf("kvtx/pebblekv: foreign tree handle for %q", t.Name())
		}
		mb, ok := batches[i].(*batch)
		if !ok {
			continue
		}
		for _, op := range mb.ops {
			pk := encodeKey(pt.name, op.key)
			if op.remove {
				if err := pb.Delete(pk, nil); err != nil {
					return err
				}
				continue
			}
			if err := pb.Set(pk, op.value, nil); err != nil {
				return err
			}
		}
	}
	if err := db.pebble.Apply(pb, pebble.Sync); err != nil {
		return fmt.Errorf("kvtx/pebblekv: transaction: %w: %v", kv.ErrTransactionConflict, err)
	}
	// Only now that the batch is durably committed does the clean cache get
	// to see these writes; reflecting them earlier would let a failed Apply
	// leave the cache showing values that were never committed.
	if db.clean != nil {
		for i, t := range trees {
			pt := t.(*tree)
			mb := batches[i].(*batch)
			for _, op := range mb.ops {
				pk := encodeKey(pt.name, op.key)
				if op.remove {
					db.clean.Del(pk)
					continue
				}
				db.clean.Set(pk, op.value)
			}
		}
	}
	return nil
}

func (db *DB) Close() error {
	err := db.pebble.Close()
	db.lock.Unlock()
	return err
}
