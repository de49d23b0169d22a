package overlaydb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvtx/kvtx/internal/testrand"
	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/kv/memkv"
	"github.com/kvtx/kvtx/overlaydb"
)

func TestOverlayInsertAndApply(t *testing.T) {
	db := memkv.New()
	ov, err := overlaydb.New(db, nil)
	require.NoError(t, err)

	_, err = ov.Insert("_tree1", "key_a", []byte("val_a"))
	require.NoError(t, err)

	v, err := ov.Get("_tree1", "key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("val_a"), v)

	require.NoError(t, ov.Apply())

	tree, err := db.OpenTree("_tree1")
	require.NoError(t, err)
	v, err = tree.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("val_a"), v)
}

func TestProtectedTreeCannotBeDropped(t *testing.T) {
	db := memkv.New()
	ov, err := overlaydb.New(db, []kv.Name{"_protected"})
	require.NoError(t, err)

	require.NoError(t, ov.OpenTree("_protected", true))
	err = ov.DropTree("_protected")
	require.ErrorIs(t, err, kv.ErrUnsupported)
}

func TestDropTreeUnknownNameIsNotFound(t *testing.T) {
	db := memkv.New()
	ov, err := overlaydb.New(db, nil)
	require.NoError(t, err)

	err = ov.DropTree("_never_opened")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestDropTreeAlreadyDroppedIsNotFound(t *testing.T) {
	db := memkv.New()
	ov, err := overlaydb.New(db, nil)
	require.NoError(t, err)

	require.NoError(t, ov.OpenTree("_tree1", false))
	require.NoError(t, ov.DropTree("_tree1"))

	err = ov.DropTree("_tree1")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestDropTreeThenApply(t *testing.T) {
	db := memkv.New()
	_, err := db.OpenTree("_tree1")
	require.NoError(t, err)

	ov, err := overlaydb.New(db, nil)
	require.NoError(t, err)

	require.NoError(t, ov.DropTree("_tree1"))
	require.NoError(t, ov.Apply())

	names, err := db.TreeNames()
	require.NoError(t, err)
	require.NotContains(t, names, kv.Name("_tree1"))
}

func TestDiffRoundTripsThroughAddDiff(t *testing.T) {
	src := memkv.New()
	srcOv, err := overlaydb.New(src, nil)
	require.NoError(t, err)

	_, err = srcOv.Insert("_tree1", "key_a", []byte("val_a"))
	require.NoError(t, err)
	_, err = srcOv.Insert("_tree2", "key_b", []byte("val_b"))
	require.NoError(t, err)

	diff, err := srcOv.Diff()
	require.NoError(t, err)

	dst := memkv.New()
	dstOv, err := overlaydb.New(dst, nil)
	require.NoError(t, err)

	require.NoError(t, dstOv.AddDiff(diff))

	v, err := dstOv.Get("_tree1", "key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("val_a"), v)

	v, err = dstOv.Get("_tree2", "key_b")
	require.NoError(t, err)
	require.Equal(t, []byte("val_b"), v)
}

func TestDiffInverseInverseRoundTrips(t *testing.T) {
	db := memkv.New()
	ov, err := overlaydb.New(db, nil)
	require.NoError(t, err)

	_, err = ov.Insert("_tree1", "key_a", []byte("val_a"))
	require.NoError(t, err)
	require.NoError(t, ov.Apply())

	_, err = ov.Insert("_tree1", "key_b", []byte("val_b"))
	require.NoError(t, err)

	diff, err := ov.Diff()
	require.NoError(t, err)

	invInv := diff.Inverse().Inverse()
	require.Equal(t, diff.InitialTreeNames, invInv.InitialTreeNames)
	for name, pair := range diff.Caches {
		other, ok := invInv.Caches[name]
		require.True(t, ok)
		require.Equal(t, pair.Drop, other.Drop)
		require.True(t, pair.TreeDiff.Equal(other.TreeDiff))
	}
}

func TestApplyThenGetMatchesForRandomTreesAndKeys(t *testing.T) {
	db := memkv.New()
	ov, err := overlaydb.New(db, nil)
	require.NoError(t, err)

	src := testrand.New(3)
	type record struct {
		name kv.Name
		key  kv.Key
		val  kv.Value
	}
	var records []record
	for i := 0; i < 150; i++ {
		name, key, value := src.Name(), src.Key(), src.Value()
		_, err := ov.Insert(name, key, value)
		require.NoError(t, err)
		records = append(records, record{name, key, value})
	}
	require.NoError(t, ov.Apply())

	for _, r := range records {
		got, err := ov.Get(r.name, r.key)
		require.NoError(t, err)
		require.Equal(t, r.val, got)
	}
}
