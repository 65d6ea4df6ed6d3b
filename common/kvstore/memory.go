// Copyright 2023 The ZiboFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/cubefs/cubefs/util/btree"
)

const memTreeDegree = 32

type (
	memStore struct {
		lock sync.RWMutex
		tree *btree.BTree
	}
	memItem struct {
		key   []byte
		value []byte
	}
	memIterator struct {
		items []*memItem
		pos   int
	}
	memBatch struct {
		puts    []*memItem
		deletes [][]byte
	}
)

func (i *memItem) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*memItem).key) < 0
}

func (i *memItem) Copy() btree.Item {
	return &memItem{key: i.key, value: i.value}
}

func newMemStore() Store {
	return &memStore{tree: btree.New(memTreeDegree)}
}

func (s *memStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	item := s.tree.Get(&memItem{key: key})
	if item == nil {
		return nil, ErrNotFound
	}
	value := item.(*memItem).value
	data := make([]byte, len(value))
	copy(data, value)
	return data, nil
}

func (s *memStore) Put(ctx context.Context, key []byte, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.putLocked(key, value)
	return nil
}

func (s *memStore) Delete(ctx context.Context, key []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tree.Delete(&memItem{key: key})
	return nil
}

// List snapshots the matching range under the read lock, so the iterator
// stays valid across concurrent writes.
func (s *memStore) List(ctx context.Context, prefix []byte) Iterator {
	s.lock.RLock()
	defer s.lock.RUnlock()
	items := make([]*memItem, 0, 8)
	s.tree.AscendGreaterOrEqual(&memItem{key: prefix}, func(item btree.Item) bool {
		it := item.(*memItem)
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		items = append(items, it)
		return true
	})
	return &memIterator{items: items}
}

func (s *memStore) NewWriteBatch() WriteBatch {
	return &memBatch{}
}

func (s *memStore) Write(ctx context.Context, batch WriteBatch) error {
	b := batch.(*memBatch)
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, item := range b.puts {
		s.putLocked(item.key, item.value)
	}
	for _, key := range b.deletes {
		s.tree.Delete(&memItem{key: key})
	}
	return nil
}

func (s *memStore) Close() {}

func (s *memStore) putLocked(key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	s.tree.ReplaceOrInsert(&memItem{key: k, value: v})
}

func (i *memIterator) Next() ([]byte, []byte, error) {
	if i.pos >= len(i.items) {
		return nil, nil, nil
	}
	item := i.items[i.pos]
	i.pos++
	key := make([]byte, len(item.key))
	copy(key, item.key)
	value := make([]byte, len(item.value))
	copy(value, item.value)
	return key, value, nil
}

func (i *memIterator) Close() {}

func (b *memBatch) Put(key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	b.puts = append(b.puts, &memItem{key: k, value: v})
}

func (b *memBatch) Delete(key []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	b.deletes = append(b.deletes, k)
}

func (b *memBatch) Count() int {
	return len(b.puts) + len(b.deletes)
}

func (b *memBatch) Close() {}
