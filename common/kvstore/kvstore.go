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
)

const (
	RocksdbKVType = KVType("rocksdb")
	MemoryKVType  = KVType("memory")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
)

type (
	KVType string

	// Store is an ordered key-value engine with atomic batch writes and
	// prefix iteration. Keys are raw bytes ordered lexicographically.
	Store interface {
		Get(ctx context.Context, key []byte) (value []byte, err error)
		Put(ctx context.Context, key []byte, value []byte) error
		Delete(ctx context.Context, key []byte) error
		List(ctx context.Context, prefix []byte) Iterator
		NewWriteBatch() WriteBatch
		Write(ctx context.Context, batch WriteBatch) error
		Close()
	}

	// Iterator walks keys under one prefix in ascending order. Next returns
	// nil key at the end of the range.
	Iterator interface {
		Next() (key []byte, value []byte, err error)
		Close()
	}

	WriteBatch interface {
		Put(key, value []byte)
		Delete(key []byte)
		Count() int
		Close()
	}

	Option struct {
		Sync            bool `json:"sync"`
		CreateIfMissing bool `json:"create_if_missing"`
		MaxOpenFiles    int  `json:"max_open_files"`
		WriteBufferSize int  `json:"write_buffer_size"`
		BlockSize       int  `json:"block_size"`
	}
)

func NewKVStore(ctx context.Context, path string, kvType KVType, option *Option) (Store, error) {
	switch kvType {
	case RocksdbKVType:
		return newRocksdb(ctx, path, option)
	case MemoryKVType:
		return newMemStore(), nil
	default:
		return nil, ErrKVTypeNotFound
	}
}
