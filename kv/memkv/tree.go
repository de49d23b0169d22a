package memkv

import (
	"sort"
	"sync"

	"github.com/kvtx/kvtx/kv"
)

type tree struct {
	name kv.Name

	mu   sync.RWMutex
	data map[kv.Key]kv.Value
}

func newTree(name kv.Name) *tree {
	return &tree{name: name, data: make(map[kv.Key]kv.Value)}
}

func (t *tree) Name() kv.Name { return t.name }

func (t *tree) Get(key kv.Key) (kv.Value, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.data[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (t *tree) ContainsKey(key kv.Key) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.data[key]
	return ok, nil
}

func (t *tree) Len() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data), nil
}

func (t *tree) IsEmpty() (bool, error) {
	n, _ := t.Len()
	return n == 0, nil
}

func (t *tree) Last() (kv.Key, kv.Value, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.data) == 0 {
		return "", nil, false, nil
	}
	var max kv.Key
	first := true
	for k := range t.data {
		if first || k > max {
			max = k
			first = false
		}
	}
	return max, t.data[max], true, nil
}

func (t *tree) sortedKeys() []kv.Key {
	keys := make([]kv.Key, 0, len(t.data))
	for k := range t.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *tree) Iter() (kv.Iterator, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := t.sortedKeys()
	values := make([]kv.Value, len(keys))
	for i, k := range keys {
		values[i] = t.data[k]
	}
	return &memIterator{keys: keys, values: values, idx: -1}, nil
}

func (t *tree) Insert(key kv.Key, value kv.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = value
	return nil
}

func (t *tree) Remove(key kv.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, key)
	return nil
}

func (t *tree) NewBatch() kv.Batch {
	return &batch{}
}

func (t *tree) ApplyBatch(b kv.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyBatchLocked(b)
}

// applyBatch is the entry used by DB.Transaction, which already holds the
// database-wide lock for the duration of the commit; like ApplyBatch, it
// also takes the tree's own lock.
func (t *tree) applyBatch(b kv.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyBatchLocked(b)
}

func (t *tree) applyBatchLocked(b kv.Batch) error {
	mb, ok := b.(*batch)
	if !ok {
		return nil
	}
	// Insert-before-remove ordering within one batch: replay ops in the
	// order they were recorded, so a key inserted then removed ends up
	// absent.
	for _, op := range mb.ops {
		if op.remove {
			delete(t.data, op.key)
		} else {
			t.data[op.key] = op.value
		}
	}
	return nil
}

type batchOp struct {
	key    kv.Key
	value  kv.Value
	remove bool
}

type batch struct {
	ops []batchOp
}

func (b *batch) Insert(key kv.Key, value kv.Value) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

func (b *batch) Remove(key kv.Key) {
	b.ops = append(b.ops, batchOp{key: key, remove: true})
}

func (b *batch) Len() int { return len(b.ops) }

type memIterator struct {
	keys   []kv.Key
	values []kv.Value
	idx    int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}

func (it *memIterator) Key() kv.Key     { return it.keys[it.idx] }
func (it *memIterator) Value() kv.Value { return it.values[it.idx] }
func (it *memIterator) Err() error      { return nil }
func (it *memIterator) Close() error    { return nil }
