package wire

import (
	"bytes"
	"io"
	"sort"

	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/overlaydb"
)

// EncodeDbDiff writes d in the wire format: a varint count of initial tree
// names, each length-prefixed; a varint count of cache entries, each as
// (name, length-prefixed TreeDiff blob, drop-byte); a varint count of
// dropped-tree entries, each as (name, length-prefixed TreeDiff blob,
// restore-byte).
func EncodeDbDiff(w io.Writer, d overlaydb.Diff) error {
	names := sortedNameSet(d.InitialTreeNames)
	if err := writeCount(w, len(names)); err != nil {
		return err
	}
	for _, n := range names {
		if err := writeBytes(w, []byte(n)); err != nil {
			return err
		}
	}

	cacheNames := sortedCacheNames(d.Caches)
	if err := writeCount(w, len(cacheNames)); err != nil {
		return err
	}
	for _, n := range cacheNames {
		pair := d.Caches[n]
		if err := writeBytes(w, []byte(n)); err != nil {
			return err
		}
		blob, err := encodeTreeDiffBlob(pair.TreeDiff)
		if err != nil {
			return err
		}
		if err := writeBytes(w, blob); err != nil {
			return err
		}
		if err := writeBool(w, pair.Drop); err != nil {
			return err
		}
	}

	droppedNames := sortedDroppedNames(d.DroppedTrees)
	if err := writeCount(w, len(droppedNames)); err != nil {
		return err
	}
	for _, n := range droppedNames {
		pair := d.DroppedTrees[n]
		if err := writeBytes(w, []byte(n)); err != nil {
			return err
		}
		blob, err := encodeTreeDiffBlob(pair.TreeDiff)
		if err != nil {
			return err
		}
		if err := writeBytes(w, blob); err != nil {
			return err
		}
		if err := writeBool(w, pair.Restored); err != nil {
			return err
		}
	}
	return nil
}

// DecodeDbDiff reads a DbDiff written by EncodeDbDiff.
func DecodeDbDiff(r io.Reader) (overlaydb.Diff, error) {
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

	n, err = readCount(br)
	if err != nil {
		return overlaydb.Diff{}, err
	}
	for i := 0; i < n; i++ {
		name, err := readBytes(br)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		blob, err := readBytes(br)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		drop, err := readBool(br)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		treeDiff, err := decodeTreeDiffBlob(blob)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		d.Caches[kv.Name(name)] = overlaydb.CachePair{TreeDiff: treeDiff, Drop: drop}
	}

	n, err = readCount(br)
	if err != nil {
		return overlaydb.Diff{}, err
	}
	for i := 0; i < n; i++ {
		name, err := readBytes(br)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		blob, err := readBytes(br)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		restored, err := readBool(br)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		treeDiff, err := decodeTreeDiffBlob(blob)
		if err != nil {
			return overlaydb.Diff{}, err
		}
		d.DroppedTrees[kv.Name(name)] = overlaydb.DroppedPair{TreeDiff: treeDiff, Restored: restored}
	}
	return d, nil
}

// EncodeDbDiffBytes is a convenience wrapper returning the encoded form as a
// byte slice.
func EncodeDbDiffBytes(d overlaydb.Diff) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeDbDiff(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeDbDiffBytes is the inverse of EncodeDbDiffBytes.
func DecodeDbDiffBytes(b []byte) (overlaydb.Diff, error) {
	return DecodeDbDiff(bytes.NewReader(b))
}

func sortedNameSet(m map[kv.Name]struct{}) []kv.Name {
	out := make([]kv.Name, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortedCacheNames(m map[kv.Name]overlaydb.CachePair) []kv.Name {
	out := make([]kv.Name, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortedDroppedNames(m map[kv.Name]overlaydb.DroppedPair) []kv.Name {
	out := make([]kv.Name, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
