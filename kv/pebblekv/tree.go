package pebblekv

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"github.com/kvtx/kvtx/kv"
)

type tree struct {
	db   *DB
	name kv.Name
}

func (t *tree) Name() kv.Name { return t.name }

func (t *tree) Get(key kv.Key) (kv.Value, error) {
	pk := encodeKey(t.name, key)
	if t.db.clean != nil {
		if v, ok := t.db.clean.HasGet(nil, pk); ok {
			return append(kv.Value{}, v...), nil
		}
	}
	v, closer, err := t.db.pebble.Get(pk)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := append(kv.Value{}, v...)
	if t.db.clean != nil {
		t.db.clean.Set(pk, out)
	}
	return out, nil
}

func (t *tree) ContainsKey(key kv.Key) (bool, error) {
	v, err := t.Get(key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func (t *tree) Len() (int, error) {
	lower, upper := prefixBounds(t.name)
	it, err := t.db.pebble.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, it.Error()
}

func (t *tree) IsEmpty() (bool, error) {
	lower, upper := prefixBounds(t.name)
	it, err := t.db.pebble.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return false, err
	}
	defer it.Close()
	return !it.First(), it.Error()
}

func (t *tree) Last() (kv.Key, kv.Value, bool, error) {
	lower, upper := prefixBounds(t.name)
	it, err := t.db.pebble.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return "", nil, false, err
	}
	defer it.Close()
	if !it.Last() {
		return "", nil, false, it.Error()
	}
	key := string(bytes.TrimPrefix(it.Key(), lower))
	val := append(kv.Value{}, it.Value()...)
	return key, val, true, it.Error()
}

func (t *tree) Iter() (kv.Iterator, error) {
	lower, upper := prefixBounds(t.name)
	it, err := t.db.pebble.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{it: it, prefix: lower, started: false}, nil
}

func (t *tree) Insert(key kv.Key, value kv.Value) error {
	pk := encodeKey(t.name, key)
	if err := t.db.pebble.Set(pk, value, pebble.Sync); err != nil {
		return err
	}
	if t.db.clean != nil {
		t.db.clean.Set(pk, value)
	}
	return nil
}

func (t *tree) Remove(key kv.Key) error {
	pk := encodeKey(t.name, key)
	if err := t.db.pebble.Delete(pk, pebble.Sync); err != nil {
		return err
	}
	if t.db.clean != nil {
		t.db.clean.Del(pk)
	}
	return nil
}

func (t *tree) NewBatch() kv.Batch {
	return &batch{}
}

func (t *tree) ApplyBatch(b kv.Batch) error {
	return t.db.Transaction([]kv.Tree{t}, []kv.Batch{b})
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

type pebbleIterator struct {
	it      *pebble.Iterator
	prefix  []byte
	started bool
}

func (p *pebbleIterator) Next() bool {
	if !p.started {
		p.started = true
		return p.it.First()
	}
	return p.it.Next()
}

func (p *pebbleIterator) Key() kv.Key     { return string(bytes.TrimPrefix(p.it.Key(), p.prefix)) }
func (p *pebbleIterator) Value() kv.Value { return append(kv.Value{}, p.it.Value()...) }
func (p *pebbleIterator) Err() error      { return p.it.Error() }
func (p *pebbleIterator) Close() error    { return p.it.Close() }
