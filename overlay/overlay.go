package overlay

import (
	"fmt"

	"github.com/kvtx/kvtx/kv"
)

// Overlay is a read-through staging view over a single backing kv.Tree: a
// call resolves through Removed, then Cache, then the tree itself. Mirrors
// tree.rs's SledTreeOverlay.
type Overlay struct {
	Tree       kv.Tree
	State      State
	checkpoint State
}

// New wraps tree in a fresh, empty Overlay.
func New(tree kv.Tree) *Overlay {
	logger.Debug("open tree overlay", "tree", tree.Name())
	return &Overlay{Tree: tree, State: NewState(), checkpoint: NewState()}
}

// ContainsKey reports whether key has a live value: false if removed, true
// if cached or present in the backing tree.
func (o *Overlay) ContainsKey(key kv.Key) (bool, error) {
	if _, ok := o.State.Removed[key]; ok {
		return false, nil
	}
	if _, ok := o.State.Cache[key]; ok {
		return true, nil
	}
	return o.Tree.ContainsKey(key)
}

// Get resolves key through Removed, Cache, then the backing tree.
func (o *Overlay) Get(key kv.Key) (kv.Value, error) {
	if _, ok := o.State.Removed[key]; ok {
		return nil, nil
	}
	if v, ok := o.State.Cache[key]; ok {
		return v, nil
	}
	return o.Tree.Get(key)
}

// Insert stages key=value and returns the value that was observable before
// the call (nil if absent). If key was pending removal, it's un-removed and
// the previous value is reported as absent (matching tree.rs::insert).
func (o *Overlay) Insert(key kv.Key, value kv.Value) (kv.Value, error) {
	prev, hadCache := o.State.Cache[key]
	o.State.Cache[key] = value

	if _, wasRemoved := o.State.Removed[key]; wasRemoved {
		delete(o.State.Removed, key)
		return nil, nil
	}
	if hadCache {
		return prev, nil
	}
	return o.Tree.Get(key)
}

// Remove stages key's deletion and returns the value it held. A key already
// staged for removal returns a nil value and no error; any other key with no
// value in Cache or the backing tree returns kv.ErrNotFound.
func (o *Overlay) Remove(key kv.Key) (kv.Value, error) {
	if _, ok := o.State.Removed[key]; ok {
		return nil, nil
	}
	prev, hadCache := o.State.Cache[key]
	delete(o.State.Cache, key)
	if !hadCache {
		var err error
		prev, err = o.Tree.Get(key)
		if err != nil {
			return nil, err
		}
	}
	if prev == nil {
		return nil, fmt.Errorf("overlay: remove %q: %w", key, kv.ErrNotFound)
	}
	o.State.Removed[key] = struct{}{}
	return prev, nil
}

// Clear stages removal of every record: every key present in the backing
// tree but not already staged as removed is added to Removed, and Cache is
// emptied.
func (o *Overlay) Clear() error {
	it, err := o.Tree.Iter()
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		k := it.Key()
		if _, ok := o.State.Removed[k]; !ok {
			o.State.Removed[k] = struct{}{}
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	o.State.Cache = make(map[kv.Key]kv.Value)
	return nil
}

// IsEmpty reports whether the overlay, as staged, has no live records.
func (o *Overlay) IsEmpty() (bool, error) {
	records, err := o.Iter()
	if err != nil {
		return false, err
	}
	return len(records) == 0, nil
}

// Last returns the lexicographically greatest live record, cache taking
// priority over the backing tree on a tie, and skipping tree records that
// are staged for removal.
func (o *Overlay) Last() (kv.Key, kv.Value, bool, error) {
	treeEmpty, err := o.Tree.IsEmpty()
	if err != nil {
		return "", nil, false, err
	}
	if treeEmpty && len(o.State.Cache) == 0 {
		return "", nil, false, nil
	}

	treeKey, treeVal, treeOK, err := o.Tree.Last()
	if err != nil {
		return "", nil, false, err
	}
	if _, removed := o.State.Removed[treeKey]; treeOK && removed {
		records, err := o.Iter()
		if err != nil {
			return "", nil, false, err
		}
		if len(records) == 0 {
			return "", nil, false, nil
		}
		last := records[len(records)-1]
		return last.Key, last.Value, true, nil
	}

	if len(o.State.Cache) == 0 {
		if !treeOK {
			return "", nil, false, nil
		}
		if _, removed := o.State.Removed[treeKey]; removed {
			return "", nil, false, nil
		}
		return treeKey, treeVal, true, nil
	}

	cacheKeys := sortedKeys(o.State.Cache)
	cacheKey := cacheKeys[len(cacheKeys)-1]
	cacheVal := o.State.Cache[cacheKey]

	if treeOK {
		if _, removed := o.State.Removed[treeKey]; cacheKey < treeKey && !removed {
			return treeKey, treeVal, true, nil
		}
	}
	return cacheKey, cacheVal, true, nil
}

// Record is a single (key, value) pair yielded by Iter.
type Record struct {
	Key   kv.Key
	Value kv.Value
}

// Iter returns every live (key, value) pair in ascending key order,
// merge-joining the backing tree's iterator with Cache, skipping keys
// staged for removal and letting Cache override the tree on conflict. It is
// a one-shot, point-in-time snapshot: the overlay must not be mutated while
// the result is in use.
func (o *Overlay) Iter() ([]Record, error) {
	it, err := o.Tree.Iter()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	cacheKeys := sortedKeys(o.State.Cache)
	ci := 0
	var out []Record

	emitCacheUpTo := func(bound kv.Key, inclusive bool) {
		for ci < len(cacheKeys) {
			k := cacheKeys[ci]
			if inclusive {
				if k > bound {
					break
				}
			} else if k >= bound {
				break
			}
			out = append(out, Record{Key: k, Value: o.State.Cache[k]})
			ci++
		}
	}

	for it.Next() {
		tk, tv := it.Key(), it.Value()
		emitCacheUpTo(tk, false)
		if ci < len(cacheKeys) && cacheKeys[ci] == tk {
			// Cache overrides the tree value for this key.
			out = append(out, Record{Key: tk, Value: o.State.Cache[tk]})
			ci++
			continue
		}
		if _, removed := o.State.Removed[tk]; removed {
			continue
		}
		out = append(out, Record{Key: tk, Value: tv})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	for ; ci < len(cacheKeys); ci++ {
		k := cacheKeys[ci]
		out = append(out, Record{Key: k, Value: o.State.Cache[k]})
	}
	return out, nil
}

// Aggregate turns the staged changes into a Batch ready for
// Tree.ApplyBatch, or nil if there are no changes.
func (o *Overlay) Aggregate() kv.Batch {
	return o.State.Aggregate(o.Tree.NewBatch)
}

// Checkpoint snapshots State so RevertToCheckpoint can restore it later.
func (o *Overlay) Checkpoint() {
	o.checkpoint = o.State.Clone()
	logger.Debug("checkpoint tree overlay", "tree", o.Tree.Name())
}

// RevertToCheckpoint restores State from the last Checkpoint.
func (o *Overlay) RevertToCheckpoint() {
	o.State = o.checkpoint.Clone()
	logger.Debug("revert tree overlay to checkpoint", "tree", o.Tree.Name())
}

// Diff computes the Diff of the current State against the backing tree,
// then subtracts every diff in sequence in order. With an empty sequence
// this is simply the current state's diff.
func (o *Overlay) Diff(sequence []Diff) (Diff, error) {
	current, err := NewDiff(o.Tree, o.State)
	if err != nil {
		return Diff{}, err
	}
	for _, prior := range sequence {
		current.RemoveDiff(prior)
	}
	return current, nil
}

// AddDiff merges diff's changes into State.
func (o *Overlay) AddDiff(diff Diff) {
	o.State.AddDiff(diff)
}

// RemoveDiff subtracts diff's changes from State.
func (o *Overlay) RemoveDiff(diff Diff) {
	o.State.RemoveDiff(diff)
}
