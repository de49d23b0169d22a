package wire_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvtx/kvtx/internal/testrand"
	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/kv/memkv"
	"github.com/kvtx/kvtx/overlaydb"
	"github.com/kvtx/kvtx/wire"
)

func buildSampleDiff(t *testing.T) overlaydb.Diff {
	t.Helper()
	db := memkv.New()
	ov, err := overlaydb.New(db, nil)
	require.NoError(t, err)

	_, err = ov.Insert("_tree1", "key_a", []byte("val_a"))
	require.NoError(t, err)
	_, err = ov.Insert("_tree1", "key_b", []byte("val_b"))
	require.NoError(t, err)
	require.NoError(t, ov.Apply())

	_, err = ov.Remove("_tree1", "key_a")
	require.NoError(t, err)
	_, err = ov.Insert("_tree2", "key_c", []byte("val_c"))
	require.NoError(t, err)

	diff, err := ov.Diff()
	require.NoError(t, err)
	return diff
}

func requireDiffEqual(t *testing.T, want, got overlaydb.Diff) {
	t.Helper()
	require.Equal(t, want.InitialTreeNames, got.InitialTreeNames)
	require.Equal(t, len(want.Caches), len(got.Caches))
	for name, pair := range want.Caches {
		other, ok := got.Caches[name]
		require.True(t, ok, "missing tree %q", name)
		require.Equal(t, pair.Drop, other.Drop)
		require.True(t, pair.TreeDiff.Equal(other.TreeDiff), "tree %q diff mismatch", name)
	}
	require.Equal(t, len(want.DroppedTrees), len(got.DroppedTrees))
	for name, pair := range want.DroppedTrees {
		other, ok := got.DroppedTrees[name]
		require.True(t, ok, "missing dropped tree %q", name)
		require.Equal(t, pair.Restored, other.Restored)
		require.True(t, pair.TreeDiff.Equal(other.TreeDiff), "dropped tree %q diff mismatch", name)
	}
}

func TestEncodeDecodeDbDiffRoundTrips(t *testing.T) {
	diff := buildSampleDiff(t)

	b, err := wire.EncodeDbDiffBytes(diff)
	require.NoError(t, err)

	got, err := wire.DecodeDbDiffBytes(b)
	require.NoError(t, err)

	requireDiffEqual(t, diff, got)
}

func TestEncodeDecodeDbDiffAsyncMatchesSync(t *testing.T) {
	diff := buildSampleDiff(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, wire.EncodeDbDiffAsync(ctx, &buf, diff))

	got, err := wire.DecodeDbDiffAsync(ctx, &buf)
	require.NoError(t, err)
	requireDiffEqual(t, diff, got)

	syncBytes, err := wire.EncodeDbDiffBytes(diff)
	require.NoError(t, err)
	gotSync, err := wire.DecodeDbDiffBytes(syncBytes)
	require.NoError(t, err)
	requireDiffEqual(t, got, gotSync)
}

func TestEncodeDecodeDbDiffCompressed(t *testing.T) {
	diff := buildSampleDiff(t)

	var buf bytes.Buffer
	require.NoError(t, wire.EncodeDbDiffCompressed(&buf, diff))

	got, err := wire.DecodeDbDiffCompressed(&buf)
	require.NoError(t, err)
	requireDiffEqual(t, diff, got)
}

func TestParseFixed32KeyRecord(t *testing.T) {
	key := wire.EncodeFixed32Key(42)
	k, v, err := wire.ParseFixed32KeyRecord(key, []byte("hello"), func(b []byte) (string, error) {
		return string(b), nil
	})
	require.NoError(t, err)
	require.Equal(t, uint32(42), k)
	require.Equal(t, "hello", v)
}

func TestParseFixed64KeyRecord(t *testing.T) {
	key := wire.EncodeFixed64Key(7)
	k, v, err := wire.ParseFixed64KeyRecord(key, []byte("world"), func(b []byte) (string, error) {
		return string(b), nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(7), k)
	require.Equal(t, "world", v)
}

func TestParseRecord(t *testing.T) {
	k, v, err := wire.ParseRecord([]byte("key_a"), []byte("val_a"),
		func(b []byte) (kv.Key, error) { return kv.Key(b), nil },
		func(b []byte) (string, error) { return string(b), nil },
	)
	require.NoError(t, err)
	require.Equal(t, kv.Key("key_a"), k)
	require.Equal(t, "val_a", v)
}

func TestEncodeDecodeDbDiffRoundTripsRandomTrees(t *testing.T) {
	db := memkv.New()
	ov, err := overlaydb.New(db, nil)
	require.NoError(t, err)

	src := testrand.New(2)
	for i := 0; i < 100; i++ {
		name, key, value := src.Name(), src.Key(), src.Value()
		_, err := ov.Insert(name, key, value)
		require.NoError(t, err)
	}

	diff, err := ov.Diff()
	require.NoError(t, err)

	b, err := wire.EncodeDbDiffBytes(diff)
	require.NoError(t, err)
	got, err := wire.DecodeDbDiffBytes(b)
	require.NoError(t, err)

	requireDiffEqual(t, diff, got)
}
