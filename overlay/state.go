// Package overlay implements the single-tree staging layer: TreeOverlayState
// (pending inserts/removes), TreeDiff (a serializable previous/new change
// log), and TreeOverlay (the read-through view tying the two to a backing
// kv.Tree).
package overlay

import (
	"log/slog"

	"github.com/kvtx/kvtx/kv"
)

var logger = slog.Default()

// State is the in-memory staged state of a single tree overlay: pending
// inserts/updates in Cache, pending deletions in Removed. Cache and Removed
// are disjoint by construction — every mutator that touches one clears the
// other for the same key.
type State struct {
	Cache   map[kv.Key]kv.Value
	Removed map[kv.Key]struct{}
}

// NewState returns an empty State.
func NewState() State {
	return State{Cache: make(map[kv.Key]kv.Value), Removed: make(map[kv.Key]struct{})}
}

// Clone returns a deep copy, used by checkpoint/revert.
func (s State) Clone() State {
	out := NewState()
	for k, v := range s.Cache {
		out.Cache[k] = append(kv.Value{}, v...)
	}
	for k := range s.Removed {
		out.Removed[k] = struct{}{}
	}
	return out
}

// Aggregate turns the staged changes into a Batch: every cache insert
// followed by every removal. Returns nil if there are no changes.
func (s State) Aggregate(newBatch func() kv.Batch) kv.Batch {
	if len(s.Cache) == 0 && len(s.Removed) == 0 {
		return nil
	}
	b := newBatch()
	for _, k := range sortedKeys(s.Cache) {
		b.Insert(k, s.Cache[k])
	}
	for _, k := range sortedKeysSet(s.Removed) {
		b.Remove(k)
	}
	return b
}

// AddDiff merges the inserts/removals of a TreeDiff into this state,
// mirroring tree.rs's SledTreeOverlayState::add_diff.
func (s *State) AddDiff(diff Diff) {
	for _, k := range sortedKeys(diff.Cache) {
		entry := diff.Cache[k]
		delete(s.Removed, k)
		s.Cache[k] = entry.New
	}
	for _, k := range sortedKeys(diff.Removed) {
		delete(s.Cache, k)
		s.Removed[k] = struct{}{}
	}
}

// RemoveDiff subtracts the changes of a TreeDiff from this state, mirroring
// tree.rs's SledTreeOverlayState::remove_diff.
func (s *State) RemoveDiff(diff Diff) {
	for _, k := range sortedKeys(diff.Cache) {
		entry := diff.Cache[k]
		value, ok := s.Cache[k]
		if !ok {
			continue
		}
		if !bytesEqual(entry.New, value) {
			continue
		}
		delete(s.Cache, k)
	}
	for _, k := range sortedKeys(diff.Removed) {
		delete(s.Removed, k)
	}
}

// FromDiff projects a TreeDiff into the State it represents: cache entries
// become pending inserts, removed entries become pending removals. Used
// when reopening a dropped tree from its preserved TreeDiff.
func FromDiff(diff Diff) State {
	s := NewState()
	for k, entry := range diff.Cache {
		s.Cache[k] = entry.New
	}
	for k := range diff.Removed {
		s.Removed[k] = struct{}{}
	}
	return s
}

// Equal reports whether two states hold the same cache/removed entries.
func (s State) Equal(o State) bool {
	if len(s.Cache) != len(o.Cache) || len(s.Removed) != len(o.Removed) {
		return false
	}
	for k, v := range s.Cache {
		ov, ok := o.Cache[k]
		if !ok || !bytesEqual(v, ov) {
			return false
		}
	}
	for k := range s.Removed {
		if _, ok := o.Removed[k]; !ok {
			return false
		}
	}
	return true
}
