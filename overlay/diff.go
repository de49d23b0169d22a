package overlay

import (
	"sort"

	"github.com/kvtx/kvtx/kv"
)

// CacheEntry records a cache-side change: the value the key held in the
// backing tree at diff-construction time (nil if absent), and the new
// staged value.
type CacheEntry struct {
	Previous kv.Value // nil means the key was absent in the backing tree
	New      kv.Value
}

// Diff is a serializable per-tree change log carrying both previous and new
// values, so it can be aggregated, reverted, and inverted without consulting
// the backing tree again. Mirrors tree.rs's SledTreeOverlayStateDiff.
type Diff struct {
	Cache   map[kv.Key]CacheEntry
	Removed map[kv.Key]kv.Value // value that existed before removal
}

// NewDiff constructs a Diff from a tree and the State staged against it:
// every cache entry records the tree's current value as Previous; every
// removed key records the tree's current value only if the key exists
// there (absent keys are omitted, matching tree.rs::new).
func NewDiff(tree kv.Tree, state State) (Diff, error) {
	d := Diff{Cache: make(map[kv.Key]CacheEntry), Removed: make(map[kv.Key]kv.Value)}
	for _, k := range sortedKeys(state.Cache) {
		v := state.Cache[k]
		prev, err := tree.Get(k)
		if err != nil {
			return Diff{}, err
		}
		d.Cache[k] = CacheEntry{Previous: prev, New: v}
	}
	for _, k := range sortedKeysSet(state.Removed) {
		prev, err := tree.Get(k)
		if err != nil {
			return Diff{}, err
		}
		if prev == nil {
			continue
		}
		d.Removed[k] = prev
	}
	return d, nil
}

// NewDroppedDiff produces the "full-state dropped diff" used when a tree is
// dropped: every existing record becomes a cache insert with no previous
// value, representing the last full state of the tree. Mirrors
// tree.rs::new_dropped.
func NewDroppedDiff(tree kv.Tree) (Diff, error) {
	d := Diff{Cache: make(map[kv.Key]CacheEntry), Removed: make(map[kv.Key]kv.Value)}
	it, err := tree.Iter()
	if err != nil {
		return Diff{}, err
	}
	defer it.Close()
	for it.Next() {
		d.Cache[it.Key()] = CacheEntry{Previous: nil, New: append(kv.Value{}, it.Value()...)}
	}
	return d, it.Err()
}

// Aggregate turns the diff into a Batch: every cache insert (new value)
// followed by every removal. Returns nil if there are no changes.
func (d Diff) Aggregate(newBatch func() kv.Batch) kv.Batch {
	if len(d.Cache) == 0 && len(d.Removed) == 0 {
		return nil
	}
	b := newBatch()
	for _, k := range sortedKeys(d.Cache) {
		b.Insert(k, d.Cache[k].New)
	}
	for _, k := range sortedKeysValue(d.Removed) {
		b.Remove(k)
	}
	return b
}

// Revert turns the diff into an undo Batch: re-insert every removed key at
// its prior value; for every cache entry, restore Previous if set, else
// remove the key. Returns nil if there are no changes.
func (d Diff) Revert(newBatch func() kv.Batch) kv.Batch {
	if len(d.Cache) == 0 && len(d.Removed) == 0 {
		return nil
	}
	b := newBatch()
	for _, k := range sortedKeysValue(d.Removed) {
		b.Insert(k, d.Removed[k])
	}
	for _, k := range sortedKeys(d.Cache) {
		entry := d.Cache[k]
		if entry.Previous != nil {
			b.Insert(k, entry.Previous)
			continue
		}
		b.Remove(k)
	}
	return b
}

// Inverse produces the undo diff: removed entries become cache inserts with
// no previous value; cache entries with a previous value flip (new,
// previous) to (previous, new); cache entries with no previous value become
// removed entries. inverse(inverse(d)) == d.
func (d Diff) Inverse() Diff {
	inv := Diff{Cache: make(map[kv.Key]CacheEntry), Removed: make(map[kv.Key]kv.Value)}
	for _, k := range sortedKeysValue(d.Removed) {
		inv.Cache[k] = CacheEntry{Previous: nil, New: d.Removed[k]}
	}
	for _, k := range sortedKeys(d.Cache) {
		entry := d.Cache[k]
		if entry.Previous != nil {
			inv.Cache[k] = CacheEntry{Previous: entry.New, New: entry.Previous}
			continue
		}
		inv.Removed[k] = entry.New
	}
	return inv
}

// RemoveDiff subtracts other (assumed already applied to the backing store)
// from d, mirroring tree.rs's SledTreeOverlayStateDiff::remove_diff.
func (d *Diff) RemoveDiff(other Diff) {
	for _, k := range sortedKeys(other.Cache) {
		entry := other.Cache[k]
		values, ok := d.Cache[k]
		if !ok {
			d.Removed[k] = entry.New
			continue
		}
		if !bytesEqual(entry.New, values.New) {
			d.Cache[k] = CacheEntry{Previous: entry.New, New: values.New}
			continue
		}
		delete(d.Cache, k)
	}
	for _, k := range sortedKeysValue(other.Removed) {
		if values, ok := d.Cache[k]; ok {
			d.Cache[k] = CacheEntry{Previous: nil, New: values.New}
			continue
		}
		delete(d.Removed, k)
	}
}

// UpdateValues overwrites d's cache with entries from other's cache, and
// deletes from d's cache every key removed in other. Used to track further
// changes to a dropped tree's preserved diff. Mirrors
// tree.rs::update_values.
func (d *Diff) UpdateValues(other Diff) {
	for _, k := range sortedKeys(other.Cache) {
		d.Cache[k] = other.Cache[k]
	}
	for _, k := range sortedKeysValue(other.Removed) {
		delete(d.Cache, k)
	}
}

// Equal reports whether two diffs are structurally identical.
func (d Diff) Equal(o Diff) bool {
	if len(d.Cache) != len(o.Cache) || len(d.Removed) != len(o.Removed) {
		return false
	}
	for k, v := range d.Cache {
		ov, ok := o.Cache[k]
		if !ok || !bytesEqual(v.Previous, ov.Previous) || !bytesEqual(v.New, ov.New) {
			return false
		}
	}
	for k, v := range d.Removed {
		ov, ok := o.Removed[k]
		if !ok || !bytesEqual(v, ov) {
			return false
		}
	}
	return true
}

func sortedKeysValue(m map[kv.Key]kv.Value) []kv.Key {
	keys := make([]kv.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
