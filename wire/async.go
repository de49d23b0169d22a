package wire

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/overlay"
	"github.com/kvtx/kvtx/overlaydb"
)

// entrySpec pairs a tree name with its encoded TreeDiff blob and trailing
// flag byte (Drop or Restored), ready to be written out in framing order.
type entrySpec struct {
	name kv.Name
	blob []byte
	flag bool
}

// EncodeDbDiffAsync is EncodeDbDiff with every tree entry's TreeDiff blob
// built on its own goroutine, then assembled, in the original sorted
// order, into the identical wire format EncodeDbDiff produces. Worth using
// once a DbDiff touches enough trees that per-tree encoding cost dominates
// over the sequential write calls.
func EncodeDbDiffAsync(ctx context.Context, w io.Writer, d overlaydb.Diff) error {
	cacheSpecs, err := encodeEntrySpecsAsync(ctx, sortedCacheNames(d.Caches), func(n kv.Name) (overlay.Diff, bool) {
		pair := d.Caches[n]
		return pair.TreeDiff, pair.Drop
	})
	if err != nil {
		return err
	}
	droppedSpecs, err := encodeEntrySpecsAsync(ctx, sortedDroppedNames(d.DroppedTrees), func(n kv.Name) (overlay.Diff, bool) {
		pair := d.DroppedTrees[n]
		return pair.TreeDiff, pair.Restored
	})
	if err != nil {
		return err
	}

	names := sortedNameSet(d.InitialTreeNames)
	if err := writeCount(w, len(names)); err != nil {
		return err
	}
	for _, n := range names {
		if err := writeBytes(w, []byte(n)); err != nil {
			return err
		}
	}

	if err := writeEntrySpecs(w, cacheSpecs); err != nil {
		return err
	}
	return writeEntrySpecs(w, droppedSpecs)
}

func encodeEntrySpecsAsync(ctx context.Context, names []kv.Name, lookup func(kv.Name) (overlay.Diff, bool)) ([]entrySpec, error) {
	specs := make([]entrySpec, len(names))
	g, _ := errgroup.WithContext(ctx)
	for i, n := range names {
		i, n := i, n
		g.Go(func() error {
			diff, flag := lookup(n)
			blob, err := encodeTreeDiffBlob(diff)
			if err != nil {
				return err
			}
			specs[i] = entrySpec{name: n, blob: blob, flag: flag}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return specs, nil
}

func writeEntrySpecs(w io.Writer, specs []entrySpec) error {
	if err := writeCount(w, len(specs)); err != nil {
		return err
	}
	for _, s := range specs {
		if err := writeBytes(w, []byte(s.name)); err != nil {
			return err
		}
		if err := writeBytes(w, s.blob); err != nil {
			return err
		}
		if err := writeBool(w, s.flag); err != nil {
			return err
		}
	}
	return nil
}

// decodedEntry holds one parsed-but-not-yet-diff-decoded DbDiff entry.
type decodedEntry struct {
	name kv.Name
	blob []byte
	flag bool
}

// readFramingOnly reads a length-prefixed entry section (name, blob, flag)
// without decoding each TreeDiff blob, deferring that CPU-bound work to the
// caller so it can be parallelized.
func readFramingOnly(br byteReader) ([]decodedEntry, error) {
	n, err := readCount(br)
	if err != nil {
		return nil, err
	}
	out := make([]decodedEntry, n)
	for i := 0; i < n; i++ {
		name, err := readBytes(br)
		if err != nil {
			return nil, err
		}
		blob, err := readBytes(br)
		if err != nil {
			return nil, err
		}
		flag, err := readBool(br)
		if err != nil {
			return nil, err
		}
		out[i] = decodedEntry{name: kv.Name(name), blob: blob, flag: flag}
	}
	return out, nil
}

func decodeEntriesAsync(ctx context.Context, entries []decodedEntry) ([]overlay.Diff, error) {
	diffs := make([]overlay.Diff, len(entries))
	g, _ := errgroup.WithContext(ctx)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			diff, err := decodeTreeDiffBlob(e.blob)
			if err != nil {
				return err
			}
			diffs[i] = diff
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return diffs, nil
}

// DecodeDbDiffAsync is DecodeDbDiff with every tree entry's TreeDiff blob
// decoded on its own goroutine. Framing is parsed sequentially first, since
// it must be walked in order to know where each entry's blob lives; only
// the TreeDiff decode itself is parallelized.
func DecodeDbDiffAsync(ctx context.Context, r io.Reader) (overlaydb.Diff, error) {
	br := asByteReader(r)

	n, err := readCount(br)
	if err != nil {
		return overlaydb.Diff{}, err
	}
	d := overlaydb.Diff{
		InitialTreeNames: make(map[kv.Name]struct{}, n),
		Caches:           make(map[kv.Name]overlaydb.CachePair),
		DroppedTrees:     make(map[kv.Name]overlaydb.DroppedPair),
	}
	for i := 0; i < n; i++ {
		name, err := readBytes(br)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		d.InitialTreeNames[kv.Name(name)] = struct{}{}
	}

	cacheEntries, err := readFramingOnly(br)
	if err != nil {
		return overlaydb.Diff{}, err
	}
	droppedEntries, err := readFramingOnly(br)
	if err != nil {
		return overlaydb.Diff{}, err
	}

	cacheDiffs, err := decodeEntriesAsync(ctx, cacheEntries)
	if err != nil {
		return overlaydb.Diff{}, err
	}
	for i, e := range cacheEntries {
		d.Caches[e.name] = overlaydb.CachePair{TreeDiff: cacheDiffs[i], Drop: e.flag}
	}

	droppedDiffs, err := decodeEntriesAsync(ctx, droppedEntries)
	if err != nil {
		return overlaydb.Diff{}, err
	}
	for i, e := range droppedEntries {
		d.DroppedTrees[e.name] = overlaydb.DroppedPair{TreeDiff: droppedDiffs[i], Restored: e.flag}
	}
	return d, nil
}
