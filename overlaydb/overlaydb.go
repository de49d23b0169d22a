package overlaydb

import (
	"fmt"

	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/overlay"
)

// Overlay is the cross-tree transactional façade: a staged view over an
// entire kv.Database, tracking per-tree overlays plus tree creation and
// dropping. Mirrors database.rs's SledDbOverlay.
type Overlay struct {
	db    kv.Database
	state State
}

// New opens an Overlay against db, seeding InitialTreeNames from the
// database's current tree list. protectedTreeNames may never be dropped.
func New(db kv.Database, protectedTreeNames []kv.Name) (*Overlay, error) {
	names, err := db.TreeNames()
	if err != nil {
		return nil, err
	}
	return &Overlay{db: db, state: NewState(names, protectedTreeNames)}, nil
}

// treeOverlay returns the live overlay.Overlay for name, opening the
// backing tree and seeding a fresh overlay if this is the first access.
func (o *Overlay) treeOverlay(name kv.Name) (*overlay.Overlay, error) {
	if ov, ok := o.state.Caches[name]; ok {
		return ov, nil
	}
	if _, dropped := o.state.DroppedTrees[name]; dropped {
		return nil, fmt.Errorf("overlaydb: tree %q is dropped: %w", name, kv.ErrNotFound)
	}
	tree, err := o.db.OpenTree(name)
	if err != nil {
		return nil, err
	}
	_, isInitial := o.state.InitialTreeNames[name]
	if !isInitial {
		o.state.NewTreeNames[name] = struct{}{}
	}
	ov := overlay.New(tree)
	o.state.Caches[name] = ov
	return ov, nil
}

// OpenTree ensures name is tracked, restoring it from its preserved final
// diff if it was dropped earlier in the same overlay. If the tree is
// already cached this is a no-op, matching database.rs::open_tree's early
// return — a second call with protected=true against an already-open tree
// does not retroactively mark it protected. If protected is true and the
// tree is opened fresh or restored from a drop, it is added to
// ProtectedTreeNames.
func (o *Overlay) OpenTree(name kv.Name, protected bool) error {
	if _, ok := o.state.Caches[name]; ok {
		return nil
	}

	if diff, dropped := o.state.DroppedTrees[name]; dropped {
		tree, err := o.db.OpenTree(name)
		if err != nil {
			return err
		}
		ov := overlay.New(tree)
		ov.State = overlay.FromDiff(diff)
		delete(o.state.DroppedTrees, name)
		if _, isInitial := o.state.InitialTreeNames[name]; !isInitial {
			o.state.NewTreeNames[name] = struct{}{}
		}
		o.state.Caches[name] = ov
		if protected {
			o.state.ProtectedTreeNames[name] = struct{}{}
		}
		logger.Debug("reopened dropped tree", "tree", name, "protected", protected)
		return nil
	}

	tree, err := o.db.OpenTree(name)
	if err != nil {
		return err
	}
	if _, isInitial := o.state.InitialTreeNames[name]; !isInitial {
		o.state.NewTreeNames[name] = struct{}{}
	}
	ov := overlay.New(tree)
	o.state.Caches[name] = ov
	if protected {
		o.state.ProtectedTreeNames[name] = struct{}{}
	}
	logger.Debug("open tree", "tree", name, "protected", protected)
	return nil
}

// DropTree stages name for deletion. Protected trees cannot be dropped
// (kv.ErrUnsupported). A name already staged as dropped, or one that was
// never opened, is never in NewTreeNames, and never existed in the
// database at construction time, is reported as kv.ErrNotFound, mirroring
// database.rs::drop_tree's "already removed" and "never existed" checks.
func (o *Overlay) DropTree(name kv.Name) error {
	if _, protected := o.state.ProtectedTreeNames[name]; protected {
		return fmt.Errorf("overlaydb: drop_tree %q: %w", name, kv.ErrUnsupported)
	}
	if _, alreadyDropped := o.state.DroppedTrees[name]; alreadyDropped {
		return fmt.Errorf("overlaydb: drop_tree %q: already dropped: %w", name, kv.ErrNotFound)
	}

	ov, ok := o.state.Caches[name]
	_, isNew := o.state.NewTreeNames[name]
	_, isInitial := o.state.InitialTreeNames[name]
	if !ok && !isNew && !isInitial {
		return fmt.Errorf("overlaydb: drop_tree %q: %w", name, kv.ErrNotFound)
	}

	var diff overlay.Diff
	if ok {
		var err error
		diff, err = overlay.NewDiff(ov.Tree, ov.State)
		if err != nil {
			return err
		}
		delete(o.state.Caches, name)
	} else {
		tree, err := o.db.OpenTree(name)
		if err != nil {
			return err
		}
		diff, err = overlay.NewDroppedDiff(tree)
		if err != nil {
			return err
		}
	}
	delete(o.state.NewTreeNames, name)
	o.state.DroppedTrees[name] = diff
	logger.Debug("drop tree", "tree", name)
	return nil
}

// PurgeNewTrees drops from the backing database every tree name staged as
// new. Opening a tree may already have created it in the store (see
// kv.Database.OpenTree), so this removes those trees when the overlay is
// discarded instead of applied.
func (o *Overlay) PurgeNewTrees() error {
	for _, name := range sortedNames(o.state.NewTreeNames) {
		if err := o.db.DropTree(name); err != nil {
			return err
		}
	}
	return nil
}

func (o *Overlay) ContainsKey(name kv.Name, key kv.Key) (bool, error) {
	ov, err := o.treeOverlay(name)
	if err != nil {
		return false, err
	}
	return ov.ContainsKey(key)
}

func (o *Overlay) Get(name kv.Name, key kv.Key) (kv.Value, error) {
	ov, err := o.treeOverlay(name)
	if err != nil {
		return nil, err
	}
	return ov.Get(key)
}

func (o *Overlay) Insert(name kv.Name, key kv.Key, value kv.Value) (kv.Value, error) {
	ov, err := o.treeOverlay(name)
	if err != nil {
		return nil, err
	}
	return ov.Insert(key, value)
}

func (o *Overlay) Remove(name kv.Name, key kv.Key) (kv.Value, error) {
	ov, err := o.treeOverlay(name)
	if err != nil {
		return nil, err
	}
	return ov.Remove(key)
}

func (o *Overlay) Clear(name kv.Name) error {
	ov, err := o.treeOverlay(name)
	if err != nil {
		return err
	}
	return ov.Clear()
}

func (o *Overlay) IsEmpty(name kv.Name) (bool, error) {
	ov, err := o.treeOverlay(name)
	if err != nil {
		return false, err
	}
	return ov.IsEmpty()
}

func (o *Overlay) Last(name kv.Name) (kv.Key, kv.Value, bool, error) {
	ov, err := o.treeOverlay(name)
	if err != nil {
		return "", nil, false, err
	}
	return ov.Last()
}

func (o *Overlay) Iter(name kv.Name) ([]overlay.Record, error) {
	ov, err := o.treeOverlay(name)
	if err != nil {
		return nil, err
	}
	return ov.Iter()
}

// Aggregate turns every tree's staged changes into batches, ready for
// Apply, without touching the backing database. Trees staged for drop have
// no batch here; Apply drops them from the database after committing the
// batches.
func (o *Overlay) Aggregate() (trees []kv.Tree, batches []kv.Batch) {
	for _, name := range sortedNames(setOfOverlay(o.state.Caches)) {
		ov := o.state.Caches[name]
		if b := ov.Aggregate(); b != nil {
			trees = append(trees, ov.Tree)
			batches = append(batches, b)
		}
	}
	return trees, batches
}

// Apply commits every tree's staged changes atomically, drops every tree
// staged for deletion, and checkpoints every surviving overlay so a later
// RevertToCheckpoint rolls back only changes made after this call.
func (o *Overlay) Apply() error {
	for _, name := range sortedNames(o.state.NewTreeNames) {
		if _, err := o.db.OpenTree(name); err != nil {
			return err
		}
	}
	trees, batches := o.Aggregate()
	if len(trees) > 0 {
		if err := o.db.Transaction(trees, batches); err != nil {
			return err
		}
	}
	for _, name := range sortedNames(o.droppedNames()) {
		if err := o.db.DropTree(name); err != nil {
			return err
		}
	}
	o.state.DroppedTrees = make(map[kv.Name]overlay.Diff)
	for _, ov := range o.state.Caches {
		ov.Checkpoint()
	}
	logger.Debug("apply db overlay", "trees", len(trees))
	return nil
}

func (o *Overlay) droppedNames() map[kv.Name]struct{} {
	out := make(map[kv.Name]struct{}, len(o.state.DroppedTrees))
	for k := range o.state.DroppedTrees {
		out[k] = struct{}{}
	}
	return out
}

// Checkpoint snapshots every live tree overlay's staged state. The sets of
// new and dropped trees are not part of the snapshot.
func (o *Overlay) Checkpoint() {
	for _, ov := range o.state.Caches {
		ov.Checkpoint()
	}
}

// RevertToCheckpoint restores every live tree overlay to its last
// checkpoint. Trees opened or dropped since the checkpoint stay opened or
// dropped, and no tree is removed from the backing database.
func (o *Overlay) RevertToCheckpoint() {
	for _, ov := range o.state.Caches {
		ov.RevertToCheckpoint()
	}
}

// Diff computes the current cross-tree Diff.
func (o *Overlay) Diff() (Diff, error) {
	return NewDiff(o.state)
}

// AddDiff merges an externally produced Diff into this overlay's live
// state, opening trees as needed.
func (o *Overlay) AddDiff(diff Diff) error {
	return o.state.AddDiff(o.db, diff)
}

// RemoveDiff subtracts a previously applied Diff from this overlay's live
// state (see State.RemoveDiff for the panic-on-corruption contract).
func (o *Overlay) RemoveDiff(diff Diff) {
	logger.Debug("remove_diff boundary", "caches", len(diff.Caches), "dropped", len(diff.DroppedTrees))
	o.state.RemoveDiff(diff)
}

// ApplyDiff merges diff into live state and immediately applies it to the
// backing database, equivalent to AddDiff followed by Apply.
func (o *Overlay) ApplyDiff(diff Diff) error {
	logger.Debug("apply_diff boundary", "caches", len(diff.Caches), "dropped", len(diff.DroppedTrees))
	if err := o.AddDiff(diff); err != nil {
		return err
	}
	return o.Apply()
}

// GetStateTrees returns the kv.Tree handle backing every currently cached
// tree name, for use with a Diff's Aggregate method.
func (o *Overlay) GetStateTrees() map[kv.Name]kv.Tree {
	out := make(map[kv.Name]kv.Tree, len(o.state.Caches))
	for name, ov := range o.state.Caches {
		out[name] = ov.Tree
	}
	return out
}
