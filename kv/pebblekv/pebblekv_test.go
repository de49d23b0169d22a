package pebblekv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/kv/pebblekv"
)

func openDB(t *testing.T) *pebblekv.DB {
	t.Helper()
	db, err := pebblekv.Open(t.TempDir(), pebblekv.Config{CleanCacheBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestInsertGetAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblekv.Open(dir, pebblekv.Config{})
	require.NoError(t, err)

	tree, err := db.OpenTree("_tree1")
	require.NoError(t, err)
	require.NoError(t, tree.Insert("key_a", []byte("val_a")))
	require.NoError(t, db.Close())

	db2, err := pebblekv.Open(dir, pebblekv.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db2.Close()) })

	names, err := db2.TreeNames()
	require.NoError(t, err)
	require.Contains(t, names, kv.Name("_tree1"))

	tree2, err := db2.OpenTree("_tree1")
	require.NoError(t, err)
	v, err := tree2.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("val_a"), v)
}

func TestTreesAreIsolatedByKeyRange(t *testing.T) {
	db := openDB(t)

	t1, err := db.OpenTree("_tree1")
	require.NoError(t, err)
	t2, err := db.OpenTree("_tree2")
	require.NoError(t, err)

	require.NoError(t, t1.Insert("key_a", []byte("from-tree1")))
	require.NoError(t, t2.Insert("key_a", []byte("from-tree2")))

	v1, err := t1.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("from-tree1"), v1)

	v2, err := t2.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("from-tree2"), v2)
}

func TestDropTreeClearsItsRange(t *testing.T) {
	db := openDB(t)

	tree, err := db.OpenTree("_tree1")
	require.NoError(t, err)
	require.NoError(t, tree.Insert("key_a", []byte("1")))

	require.NoError(t, db.DropTree("_tree1"))

	names, err := db.TreeNames()
	require.NoError(t, err)
	require.NotContains(t, names, kv.Name("_tree1"))

	fresh, err := db.OpenTree("_tree1")
	require.NoError(t, err)
	empty, err := fresh.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestTransactionAcrossTreesAtomic(t *testing.T) {
	db := openDB(t)

	t1, err := db.OpenTree("_tree1")
	require.NoError(t, err)
	t2, err := db.OpenTree("_tree2")
	require.NoError(t, err)

	b1 := t1.NewBatch()
	b1.Insert("key_a", []byte("1"))
	b2 := t2.NewBatch()
	b2.Insert("key_b", []byte("2"))

	require.NoError(t, db.Transaction([]kv.Tree{t1, t2}, []kv.Batch{b1, b2}))

	v1, err := t1.Get("key_a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v1)
	v2, err := t2.Get("key_b")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v2)
}

func TestIterAndLastAscendingOrder(t *testing.T) {
	db := openDB(t)

	tree, err := db.OpenTree("_tree1")
	require.NoError(t, err)
	require.NoError(t, tree.Insert("key_c", []byte("3")))
	require.NoError(t, tree.Insert("key_a", []byte("1")))
	require.NoError(t, tree.Insert("key_b", []byte("2")))

	it, err := tree.Iter()
	require.NoError(t, err)
	defer it.Close()

	var keys []kv.Key
	for it.Next() {
		keys = append(keys, it.Key())
	}
	require.NoError(t, it.Err())
	require.Equal(t, []kv.Key{"key_a", "key_b", "key_c"}, keys)

	lastKey, lastVal, ok, err := tree.Last()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kv.Key("key_c"), lastKey)
	require.Equal(t, []byte("3"), lastVal)
}
