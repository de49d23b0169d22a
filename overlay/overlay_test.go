package overlay_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvtx/kvtx/internal/testrand"
	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/kv/memkv"
	"github.com/kvtx/kvtx/overlay"
)

func newTree(t *testing.T) kv.Tree {
	t.Helper()
	db := memkv.New()
	tree, err := db.OpenTree("_tree1")
	require.NoError(t, err)
	return tree
}

func TestOverlayInsertGetRemove(t *testing.T) {
	tree := newTree(t)
	ov := overlay.New(tree)

	prev, err := ov.Insert("key_a", []byte("val_a"))
	require.NoError(t, err)
	require.Nil(t, prev)

	v, err := ov.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("val_a"), v)

	ok, err := ov.ContainsKey("key_a")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := ov.Remove("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("val_a"), removed)

	ok, err = ov.ContainsKey("key_a")
	require.NoError(t, err)
	require.False(t, ok)

	removed, err = ov.Remove("key_a")
	require.NoError(t, err)
	require.Nil(t, removed)
}

func TestOverlayReadThroughBackingTree(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Insert("key_a", []byte("backing")))

	ov := overlay.New(tree)
	v, err := ov.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("backing"), v)

	removed, err := ov.Remove("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("backing"), removed)

	ok, err := ov.ContainsKey("key_a")
	require.NoError(t, err)
	require.False(t, ok)

	// Backing tree itself is untouched until Aggregate+ApplyBatch.
	backingVal, err := tree.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("backing"), backingVal)
}

func TestOverlayClearAndIsEmpty(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Insert("key_a", []byte("1")))
	require.NoError(t, tree.Insert("key_b", []byte("2")))

	ov := overlay.New(tree)
	_, err := ov.Insert("key_c", []byte("3"))
	require.NoError(t, err)

	empty, err := ov.IsEmpty()
	require.NoError(t, err)
	require.False(t, empty)

	require.NoError(t, ov.Clear())

	empty, err = ov.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	for _, k := range []kv.Key{"key_a", "key_b", "key_c"} {
		ok, err := ov.ContainsKey(k)
		require.NoError(t, err)
		require.False(t, ok, "key %q should be cleared", k)
	}
}

func TestOverlayIterMergesCacheAndTree(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Insert("key_a", []byte("tree-a")))
	require.NoError(t, tree.Insert("key_c", []byte("tree-c")))

	ov := overlay.New(tree)
	_, err := ov.Insert("key_b", []byte("cache-b"))
	require.NoError(t, err)
	_, err = ov.Insert("key_a", []byte("cache-a"))
	require.NoError(t, err)
	_, err = ov.Remove("key_c")
	require.NoError(t, err)

	records, err := ov.Iter()
	require.NoError(t, err)
	require.Equal(t, []overlay.Record{
		{Key: "key_a", Value: []byte("cache-a")},
		{Key: "key_b", Value: []byte("cache-b")},
	}, records)
}

func TestOverlayLastPrefersCacheOnTie(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Insert("key_m", []byte("tree")))

	ov := overlay.New(tree)
	_, err := ov.Insert("key_m", []byte("cache"))
	require.NoError(t, err)

	k, v, ok, err := ov.Last()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kv.Key("key_m"), k)
	require.Equal(t, []byte("cache"), v)
}

func TestOverlayCheckpointRevert(t *testing.T) {
	tree := newTree(t)
	ov := overlay.New(tree)

	_, err := ov.Insert("key_a", []byte("1"))
	require.NoError(t, err)
	ov.Checkpoint()

	_, err = ov.Insert("key_b", []byte("2"))
	require.NoError(t, err)

	ov.RevertToCheckpoint()

	ok, err := ov.ContainsKey("key_a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ov.ContainsKey("key_b")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOverlayAggregateAppliesToBackingTree(t *testing.T) {
	tree := newTree(t)
	ov := overlay.New(tree)

	_, err := ov.Insert("key_a", []byte("1"))
	require.NoError(t, err)

	batch := ov.Aggregate()
	require.NotNil(t, batch)
	require.NoError(t, tree.ApplyBatch(batch))

	v, err := tree.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestDiffInverseIsInvolution(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Insert("key_a", []byte("orig")))

	state := overlay.NewState()
	state.Cache["key_a"] = []byte("new")
	state.Cache["key_b"] = []byte("fresh")
	state.Removed["key_c"] = struct{}{}

	diff, err := overlay.NewDiff(tree, state)
	require.NoError(t, err)

	inv := diff.Inverse()
	invInv := inv.Inverse()
	require.True(t, diff.Equal(invInv))
}

func TestDiffRemoveDiffSubtractsAppliedChanges(t *testing.T) {
	tree := newTree(t)
	state := overlay.NewState()
	state.Cache["key_a"] = []byte("1")

	d1, err := overlay.NewDiff(tree, state)
	require.NoError(t, err)

	require.NoError(t, tree.ApplyBatch(d1.Aggregate(tree.NewBatch)))

	state2 := overlay.NewState()
	state2.Cache["key_a"] = []byte("1")
	state2.Cache["key_b"] = []byte("2")
	d2, err := overlay.NewDiff(tree, state2)
	require.NoError(t, err)

	d2.RemoveDiff(d1)
	require.Equal(t, 1, len(d2.Cache))
	_, hasA := d2.Cache["key_a"]
	require.False(t, hasA)
	_, hasB := d2.Cache["key_b"]
	require.True(t, hasB)
}

func TestOverlayInsertThenGetMatchesForRandomKeys(t *testing.T) {
	tree := newTree(t)
	ov := overlay.New(tree)
	src := testrand.New(1)

	want := make(map[kv.Key]kv.Value)
	for i := 0; i < 200; i++ {
		k, v := src.Key(), src.Value()
		_, err := ov.Insert(k, v)
		require.NoError(t, err)
		want[k] = v
	}

	for k, v := range want {
		got, err := ov.Get(k)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}
