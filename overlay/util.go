package overlay

import (
	"bytes"
	"sort"

	"github.com/kvtx/kvtx/kv"
)

// sortedKeys returns the keys of a map[kv.Key]T in ascending byte-lexical
// order, matching the iteration order a BTreeMap would give.
func sortedKeys[T any](m map[kv.Key]T) []kv.Key {
	keys := make([]kv.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedKeysSet is sortedKeys specialized for set-shaped maps.
func sortedKeysSet(m map[kv.Key]struct{}) []kv.Key {
	keys := make([]kv.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bytesEqual(a, b kv.Value) bool {
	return bytes.Equal(a, b)
}
