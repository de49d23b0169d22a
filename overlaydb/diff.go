package overlaydb

import (
	"fmt"

	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/overlay"
)

// CachePair is a per-tree entry in a Diff's Caches: the tree's TreeDiff,
// plus a flag marking it for drop. Drop starts false and is only set when
// inverting a diff whose tree was newly created (see Diff.Inverse).
type CachePair struct {
	TreeDiff overlay.Diff
	Drop     bool
}

// DroppedPair is a per-tree entry in a Diff's DroppedTrees: the tree's
// final-state TreeDiff, plus a flag marking it for restoration. Restored
// starts false and is only set when inverting a diff that dropped a
// previously-initial tree.
type DroppedPair struct {
	TreeDiff overlay.Diff
	Restored bool
}

// Diff is a serializable cross-tree change log: per-tree TreeDiffs with
// drop flags, dropped-tree records with restore flags, and the baseline
// tree-name list the diff was computed against. Mirrors database.rs's
// SledDbOverlayStateDiff.
type Diff struct {
	InitialTreeNames map[kv.Name]struct{}
	Caches           map[kv.Name]CachePair
	DroppedTrees     map[kv.Name]DroppedPair
}

// NewDiff computes a Diff from the current State. For newly opened trees,
// removed keys are ignored (a new tree that is also emptied out again
// collapses to "nothing happened"); new trees that get dropped entirely are
// recorded only in DroppedTrees. Mirrors database.rs's
// SledDbOverlayStateDiff::new.
func NewDiff(state State) (Diff, error) {
	d := Diff{
		InitialTreeNames: cloneSet(state.InitialTreeNames),
		Caches:           make(map[kv.Name]CachePair),
		DroppedTrees:     make(map[kv.Name]DroppedPair),
	}
	for _, name := range sortedNames(setOfOverlay(state.Caches)) {
		ov := state.Caches[name]
		diff, err := ov.Diff(nil)
		if err != nil {
			return Diff{}, err
		}
		_, isNew := state.NewTreeNames[name]
		if len(diff.Cache) == 0 && len(diff.Removed) == 0 && !isNew {
			continue
		}
		if isNew {
			diff.Removed = make(map[kv.Key]kv.Value)
		}
		d.Caches[name] = CachePair{TreeDiff: diff, Drop: false}
	}
	for _, name := range sortedNames(setOfTreeDiffs(state.DroppedTrees)) {
		d.DroppedTrees[name] = DroppedPair{TreeDiff: cloneTreeDiff(state.DroppedTrees[name]), Restored: false}
	}
	return d, nil
}

func setOfOverlay(m map[kv.Name]*overlay.Overlay) map[kv.Name]struct{} {
	out := make(map[kv.Name]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func setOfTreeDiffs(m map[kv.Name]overlay.Diff) map[kv.Name]struct{} {
	out := make(map[kv.Name]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// Aggregate turns the diff into per-tree batches against the supplied
// Name->Tree mapping, which must contain every tree the diff mutates.
func (d Diff) Aggregate(stateTrees map[kv.Name]kv.Tree) ([]kv.Tree, []kv.Batch, error) {
	var trees []kv.Tree
	var batches []kv.Batch

	for _, name := range sortedNames(setOf(d.Caches)) {
		pair := d.Caches[name]
		if pair.Drop {
			continue
		}
		tree, ok := stateTrees[name]
		if !ok {
			return nil, nil, fmt.Errorf("overlaydb: aggregate: %w: tree %q", kv.ErrNotFound, name)
		}
		if b := pair.TreeDiff.Aggregate(tree.NewBatch); b != nil {
			trees = append(trees, tree)
			batches = append(batches, b)
		}
	}
	for _, name := range sortedNames(setOfDropped(d.DroppedTrees)) {
		pair := d.DroppedTrees[name]
		if !pair.Restored {
			continue
		}
		tree, ok := stateTrees[name]
		if !ok {
			return nil, nil, fmt.Errorf("overlaydb: aggregate: %w: tree %q", kv.ErrNotFound, name)
		}
		if b := pair.TreeDiff.Aggregate(tree.NewBatch); b != nil {
			trees = append(trees, tree)
			batches = append(batches, b)
		}
	}
	return trees, batches, nil
}

// Inverse produces the undo diff of d. The drop/restore heuristics here
// only round-trip correctly when sender and receiver agree on
// InitialTreeNames — see DESIGN.md's Open Question (c).
func (d Diff) Inverse() Diff {
	inv := Diff{
		InitialTreeNames: cloneSet(d.InitialTreeNames),
		Caches:           make(map[kv.Name]CachePair),
		DroppedTrees:     make(map[kv.Name]DroppedPair),
	}

	for _, name := range sortedNames(setOf(d.Caches)) {
		pair := d.Caches[name]
		invDiff := pair.TreeDiff.Inverse()
		_, initial := d.InitialTreeNames[name]

		var drop bool
		if len(invDiff.Cache) == 0 && len(invDiff.Removed) == 0 && !initial {
			drop = !pair.Drop
		} else {
			drop = len(invDiff.Cache) == 0 && !initial
		}
		inv.Caches[name] = CachePair{TreeDiff: invDiff, Drop: drop}
	}

	for _, name := range sortedNames(setOfDropped(d.DroppedTrees)) {
		if _, initial := d.InitialTreeNames[name]; !initial {
			continue
		}
		pair := d.DroppedTrees[name]
		inv.DroppedTrees[name] = DroppedPair{TreeDiff: cloneTreeDiff(pair.TreeDiff), Restored: !pair.Restored}
	}
	return inv
}

// RemoveDiff subtracts other (assumed already applied elsewhere) from d in
// place. Uses hard assertions (panics) at the same points database.rs uses
// Rust's assert! — see DESIGN.md's Open Question (b).
func (d *Diff) RemoveDiff(other Diff) {
	for name := range other.InitialTreeNames {
		if _, ok := d.InitialTreeNames[name]; !ok {
			panic(fmt.Sprintf("overlaydb: diff remove_diff: unknown initial tree name %q", name))
		}
	}

	for _, name := range sortedNames(setOf(other.Caches)) {
		otherPair := other.Caches[name]
		if _, ok := d.InitialTreeNames[name]; !ok {
			d.InitialTreeNames[name] = struct{}{}
		}

		selfPair, ok := d.Caches[name]
		if !ok {
			dd, ok := d.DroppedTrees[name]
			if !ok {
				continue
			}
			dd.TreeDiff.UpdateValues(otherPair.TreeDiff)
			d.DroppedTrees[name] = dd
			continue
		}

		if selfPair.Drop == otherPair.Drop && selfPair.TreeDiff.Equal(otherPair.TreeDiff) {
			delete(d.Caches, name)
			continue
		}
		selfPair.TreeDiff.RemoveDiff(otherPair.TreeDiff)
		d.Caches[name] = selfPair
	}

	for _, name := range sortedNames(setOfDropped(other.DroppedTrees)) {
		otherPair := other.DroppedTrees[name]
		if selfPair, ok := d.Caches[name]; ok {
			if _, stillDropped := d.DroppedTrees[name]; stillDropped {
				panic(fmt.Sprintf("overlaydb: diff remove_diff: tree %q is both cached and dropped", name))
			}
			selfPair.TreeDiff.RemoveDiff(otherPair.TreeDiff)
			d.Caches[name] = selfPair
			continue
		}
		if _, ok := d.DroppedTrees[name]; !ok {
			panic(fmt.Sprintf("overlaydb: diff remove_diff: unknown dropped tree %q", name))
		}
		if otherPair.Restored {
			d.Caches[name] = CachePair{TreeDiff: cloneTreeDiff(otherPair.TreeDiff), Drop: false}
		}
		delete(d.InitialTreeNames, name)
		delete(d.DroppedTrees, name)
	}
}
