// Package overlaydb implements the cross-tree façade: DbOverlayState (C4),
// DbDiff (C5), and DbOverlay (C6), built on top of package overlay's
// single-tree primitives.
package overlaydb

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/overlay"
)

var logger = slog.Default()

// State is the staged, in-memory state of a DbOverlay: which tree names are
// known (initial vs newly opened), which TreeOverlays are live, which trees
// were dropped (preserved as their final TreeDiff), and which names are
// protected from being dropped. Mirrors database.rs's SledDbOverlayState.
type State struct {
	InitialTreeNames   map[kv.Name]struct{}
	NewTreeNames       map[kv.Name]struct{}
	Caches             map[kv.Name]*overlay.Overlay
	DroppedTrees       map[kv.Name]overlay.Diff
	ProtectedTreeNames map[kv.Name]struct{}
}

// NewState builds a State from the tree names present at construction and
// the caller-supplied protected-name list.
func NewState(initialTreeNames, protectedTreeNames []kv.Name) State {
	s := State{
		InitialTreeNames:   toSet(initialTreeNames),
		NewTreeNames:       make(map[kv.Name]struct{}),
		Caches:             make(map[kv.Name]*overlay.Overlay),
		DroppedTrees:       make(map[kv.Name]overlay.Diff),
		ProtectedTreeNames: toSet(protectedTreeNames),
	}
	return s
}

func toSet(names []kv.Name) map[kv.Name]struct{} {
	s := make(map[kv.Name]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Clone deep-copies the State. TreeOverlays are
// copied by value of their staged State (not the backing kv.Tree, which is
// shared).
func (s State) Clone() State {
	out := State{
		InitialTreeNames:   cloneSet(s.InitialTreeNames),
		NewTreeNames:       cloneSet(s.NewTreeNames),
		Caches:             make(map[kv.Name]*overlay.Overlay, len(s.Caches)),
		DroppedTrees:       make(map[kv.Name]overlay.Diff, len(s.DroppedTrees)),
		ProtectedTreeNames: cloneSet(s.ProtectedTreeNames),
	}
	for name, ov := range s.Caches {
		out.Caches[name] = &overlay.Overlay{Tree: ov.Tree, State: ov.State.Clone()}
	}
	for name, diff := range s.DroppedTrees {
		out.DroppedTrees[name] = cloneTreeDiff(diff)
	}
	return out
}

func cloneSet(s map[kv.Name]struct{}) map[kv.Name]struct{} {
	out := make(map[kv.Name]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func cloneTreeDiff(d overlay.Diff) overlay.Diff {
	out := overlay.Diff{Cache: make(map[kv.Key]overlay.CacheEntry, len(d.Cache)), Removed: make(map[kv.Key]kv.Value, len(d.Removed))}
	for k, v := range d.Cache {
		out.Cache[k] = v
	}
	for k, v := range d.Removed {
		out.Removed[k] = v
	}
	return out
}

func sortedNames(s map[kv.Name]struct{}) []kv.Name {
	out := make([]kv.Name, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// AddDiff merges diff's changes into s, opening any tree db knows nothing
// about yet. Mirrors database.rs's SledDbOverlayState::add_diff.
func (s *State) AddDiff(db kv.Database, diff Diff) error {
	for name := range s.InitialTreeNames {
		if _, ok := diff.InitialTreeNames[name]; !ok {
			delete(s.InitialTreeNames, name)
		}
	}

	for _, name := range sortedNames(setOf(diff.Caches)) {
		pair := diff.Caches[name]
		if pair.Drop {
			if _, ok := s.ProtectedTreeNames[name]; ok {
				panic(fmt.Sprintf("overlaydb: add_diff tried to drop protected tree %q", name))
			}
			delete(s.NewTreeNames, name)
			delete(s.Caches, name)
			s.DroppedTrees[name] = pair.TreeDiff
			continue
		}

		ov, ok := s.Caches[name]
		if !ok {
			if _, isInitial := s.InitialTreeNames[name]; !isInitial {
				if _, isNew := s.NewTreeNames[name]; !isNew {
					s.NewTreeNames[name] = struct{}{}
				}
			}
			tree, err := db.OpenTree(name)
			if err != nil {
				return err
			}
			ov = overlay.New(tree)
			ov.AddDiff(pair.TreeDiff)
			s.Caches[name] = ov
			continue
		}
		ov.AddDiff(pair.TreeDiff)
	}

	for _, name := range sortedNames(setOfDropped(diff.DroppedTrees)) {
		pair := diff.DroppedTrees[name]
		if !pair.Restored {
			if _, ok := s.DroppedTrees[name]; ok {
				continue
			}
			delete(s.NewTreeNames, name)
			delete(s.Caches, name)
			s.DroppedTrees[name] = pair.TreeDiff
			continue
		}
		if _, ok := s.ProtectedTreeNames[name]; ok {
			panic(fmt.Sprintf("overlaydb: add_diff tried to restore protected tree %q as new", name))
		}
		delete(s.InitialTreeNames, name)
		if _, isNew := s.NewTreeNames[name]; !isNew {
			s.NewTreeNames[name] = struct{}{}
		}
		tree, err := db.OpenTree(name)
		if err != nil {
			return err
		}
		ov := overlay.New(tree)
		ov.AddDiff(pair.TreeDiff)
		s.Caches[name] = ov
	}
	return nil
}

// RemoveDiff subtracts diff's changes from s in place. This uses hard
// assertions (panics) at the same points database.rs uses Rust's assert!:
// a violated invariant here means a corrupted diff history, which cannot be
// safely recovered from. See DESIGN.md's Open Question (b).
func (s *State) RemoveDiff(diff Diff) {
	for _, name := range sortedNames(setOf(diff.Caches)) {
		pair := diff.Caches[name]
		if !s.knowsTree(name) {
			panic(fmt.Sprintf("overlaydb: remove_diff references unknown tree %q", name))
		}
		if _, ok := s.InitialTreeNames[name]; !ok {
			s.InitialTreeNames[name] = struct{}{}
		}
		delete(s.NewTreeNames, name)

		if pair.Drop {
			if _, ok := s.ProtectedTreeNames[name]; ok {
				panic(fmt.Sprintf("overlaydb: remove_diff tried to drop protected tree %q", name))
			}
			delete(s.InitialTreeNames, name)
			delete(s.NewTreeNames, name)
			delete(s.Caches, name)
			delete(s.DroppedTrees, name)
			continue
		}

		ov, ok := s.Caches[name]
		if !ok {
			dd, ok := s.DroppedTrees[name]
			if !ok {
				continue
			}
			dd.UpdateValues(pair.TreeDiff)
			s.DroppedTrees[name] = dd
			continue
		}

		if ov.State.Equal(overlay.FromDiff(pair.TreeDiff)) {
			s.resetOrDrop(name, ov)
			continue
		}
		ov.RemoveDiff(pair.TreeDiff)
	}

	for _, name := range sortedNames(setOfDropped(diff.DroppedTrees)) {
		pair := diff.DroppedTrees[name]
		if !s.knowsTree(name) {
			panic(fmt.Sprintf("overlaydb: remove_diff references unknown dropped tree %q", name))
		}
		if !pair.Restored {
			if _, ok := s.ProtectedTreeNames[name]; ok {
				panic(fmt.Sprintf("overlaydb: remove_diff tried to finalize drop of protected tree %q", name))
			}
			delete(s.InitialTreeNames, name)
			delete(s.NewTreeNames, name)
			delete(s.Caches, name)
			delete(s.DroppedTrees, name)
			continue
		}

		delete(s.InitialTreeNames, name)
		if _, ok := s.NewTreeNames[name]; !ok {
			s.NewTreeNames[name] = struct{}{}
		}

		ov, ok := s.Caches[name]
		if !ok {
			continue
		}
		if ov.State.Equal(overlay.FromDiff(pair.TreeDiff)) {
			s.resetOrDrop(name, ov)
			continue
		}
		ov.RemoveDiff(pair.TreeDiff)
	}
}

func (s *State) knowsTree(name kv.Name) bool {
	if _, ok := s.InitialTreeNames[name]; ok {
		return true
	}
	if _, ok := s.NewTreeNames[name]; ok {
		return true
	}
	if _, ok := s.DroppedTrees[name]; ok {
		return true
	}
	return false
}

// resetOrDrop handles a tree whose overlay state exactly matches the diff
// being removed: a protected tree is reset to empty (cleared and
// recheckpointed) rather than dropped from Caches, preserving invariant 6
// (protected invariance); any other tree's now-stale reference is simply
// removed.
func (s *State) resetOrDrop(name kv.Name, ov *overlay.Overlay) {
	if _, protected := s.ProtectedTreeNames[name]; protected {
		ov.State = overlay.NewState()
		ov.Checkpoint()
		logger.Debug("reset protected tree overlay", "tree", name)
		return
	}
	delete(s.Caches, name)
}

func setOf(m map[kv.Name]CachePair) map[kv.Name]struct{} {
	out := make(map[kv.Name]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func setOfDropped(m map[kv.Name]DroppedPair) map[kv.Name]struct{} {
	out := make(map[kv.Name]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
