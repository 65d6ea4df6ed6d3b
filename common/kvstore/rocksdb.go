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
	"context"
	"errors"
	"os"

	rdb "github.com/tecbot/gorocksdb"
)

type (
	rocksdb struct {
		path     string
		db       *rdb.DB
		opt      *rdb.Options
		readOpt  *rdb.ReadOptions
		writeOpt *rdb.WriteOptions
	}
	rocksdbIterator struct {
		iterator *rdb.Iterator
		prefix   []byte
	}
	rocksdbBatch struct {
		batch *rdb.WriteBatch
	}
)

func newRocksdb(ctx context.Context, path string, option *Option) (Store, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	if option == nil {
		option = &Option{CreateIfMissing: true}
	}

	dbOpt := rdb.NewDefaultOptions()
	dbOpt.SetCreateIfMissing(option.CreateIfMissing)
	if option.MaxOpenFiles > 0 {
		dbOpt.SetMaxOpenFiles(option.MaxOpenFiles)
	}
	if option.WriteBufferSize > 0 {
		dbOpt.SetWriteBufferSize(option.WriteBufferSize)
	}
	if option.BlockSize > 0 {
		blockOpt := rdb.NewDefaultBlockBasedTableOptions()
		blockOpt.SetBlockSize(option.BlockSize)
		dbOpt.SetBlockBasedTableFactory(blockOpt)
	}

	db, err := rdb.OpenDb(dbOpt, path)
	if err != nil {
		return nil, err
	}

	wo := rdb.NewDefaultWriteOptions()
	if option.Sync {
		wo.SetSync(true)
	}

	return &rocksdb{
		path:     path,
		db:       db,
		opt:      dbOpt,
		readOpt:  rdb.NewDefaultReadOptions(),
		writeOpt: wo,
	}, nil
}

func (s *rocksdb) Get(ctx context.Context, key []byte) ([]byte, error) {
	value, err := s.db.Get(s.readOpt, key)
	if err != nil {
		return nil, err
	}
	defer value.Free()
	if !value.Exists() {
		return nil, ErrNotFound
	}
	data := make([]byte, value.Size())
	copy(data, value.Data())
	return data, nil
}

func (s *rocksdb) Put(ctx context.Context, key []byte, value []byte) error {
	return s.db.Put(s.writeOpt, key, value)
}

func (s *rocksdb) Delete(ctx context.Context, key []byte) error {
	return s.db.Delete(s.writeOpt, key)
}

func (s *rocksdb) List(ctx context.Context, prefix []byte) Iterator {
	it := s.db.NewIterator(s.readOpt)
	it.Seek(prefix)
	return &rocksdbIterator{iterator: it, prefix: prefix}
}

func (s *rocksdb) NewWriteBatch() WriteBatch {
	return &rocksdbBatch{batch: rdb.NewWriteBatch()}
}

func (s *rocksdb) Write(ctx context.Context, batch WriteBatch) error {
	return s.db.Write(s.writeOpt, batch.(*rocksdbBatch).batch)
}

func (s *rocksdb) Close() {
	s.db.Close()
	s.readOpt.Destroy()
	s.writeOpt.Destroy()
	s.opt.Destroy()
}

func (i *rocksdbIterator) Next() ([]byte, []byte, error) {
	if !i.iterator.ValidForPrefix(i.prefix) {
		if err := i.iterator.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	keySlice := i.iterator.Key()
	valueSlice := i.iterator.Value()
	key := make([]byte, keySlice.Size())
	copy(key, keySlice.Data())
	value := make([]byte, valueSlice.Size())
	copy(value, valueSlice.Data())
	keySlice.Free()
	valueSlice.Free()
	i.iterator.Next()
	return key, value, nil
}

func (i *rocksdbIterator) Close() {
	i.iterator.Close()
}

func (b *rocksdbBatch) Put(key, value []byte) {
	b.batch.Put(key, value)
}

func (b *rocksdbBatch) Delete(key []byte) {
	b.batch.Delete(key)
}

func (b *rocksdbBatch) Count() int {
	return b.batch.Count()
}

func (b *rocksdbBatch) Close() {
	b.batch.Destroy()
}
