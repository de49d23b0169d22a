package wire

import (
	"bufio"
	"bytes"
	"io"
	"sort"

	"github.com/kvtx/kvtx/kv"
	"github.com/kvtx/kvtx/overlay"
)

// EncodeTreeDiff writes d in the wire format: a varint count of cache
// entries, each as (key, optional-previous, current), followed by a varint
// count of removed entries, each as (key, value).
func EncodeTreeDiff(w io.Writer, d overlay.Diff) error {
	keys := make([]kv.Key, 0, len(d.Cache))
	for k := range d.Cache {
		keys = append(keys, k)
	}
	sortKeys(keys)

	if err := writeCount(w, len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		entry := d.Cache[k]
		if err := writeBytes(w, []byte(k)); err != nil {
			return err
		}
		if err := writeOptionalBytes(w, entry.Previous); err != nil {
			return err
		}
		if err := writeBytes(w, entry.New); err != nil {
			return err
		}
	}

	removedKeys := make([]kv.Key, 0, len(d.Removed))
	for k := range d.Removed {
		removedKeys = append(removedKeys, k)
	}
	sortKeys(removedKeys)

	if err := writeCount(w, len(removedKeys)); err != nil {
		return err
	}
	for _, k := range removedKeys {
		if err := writeBytes(w, []byte(k)); err != nil {
			return err
		}
		if err := writeBytes(w, d.Removed[k]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTreeDiff reads a TreeDiff written by EncodeTreeDiff.
func DecodeTreeDiff(r io.Reader) (overlay.Diff, error) {
	br := asByteReader(r)

	n, err := readCount(br)
	if err != nil {
		return overlay.Diff{}, err
	}
	d := overlay.Diff{Cache: make(map[kv.Key]overlay.CacheEntry, n), Removed: make(map[kv.Key]kv.Value)}
	for i := 0; i < n; i++ {
		key, err := readBytes(br)
		if err != nil {
			return overlay.Diff{}, err
		}
		previous, err := readOptionalBytes(br)
		if err != nil {
			return overlay.Diff{}, err
		}
		current, err := readBytes(br)
		if err != nil {
			return overlay.Diff{}, err
		}
		d.Cache[kv.Key(key)] = overlay.CacheEntry{Previous: previous, New: current}
	}

	n, err = readCount(br)
	if err != nil {
		return overlay.Diff{}, err
	}
	for i := 0; i < n; i++ {
		key, err := readBytes(br)
		if err != nil {
			return overlay.Diff{}, err
		}
		value, err := readBytes(br)
		if err != nil {
			return overlay.Diff{}, err
		}
		d.Removed[kv.Key(key)] = value
	}
	return d, nil
}

// encodeTreeDiffBlob encodes d as a standalone byte slice, letting callers
// frame it with their own length prefix (used by EncodeDbDiff to make each
// tree entry independently decodable without sequentially parsing the
// diffs ahead of it).
func encodeTreeDiffBlob(d overlay.Diff) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTreeDiff(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTreeDiffBlob(b []byte) (overlay.Diff, error) {
	return DecodeTreeDiff(bytes.NewReader(b))
}

func asByteReader(r io.Reader) byteReader {
	if br, ok := r.(byteReader); ok {
		return br
	}
	return bufio.NewReader(r)
}

func sortKeys(keys []kv.Key) {
	sort.Strings(keys)
}
