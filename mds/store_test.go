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

package mds

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zibofs/zibofs/common/kvstore"
	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

type fakeAllocator struct {
	calls int
	fail  bool
}

func (a *fakeAllocator) AllocateChunk(ctx context.Context, replica uint32, chunkID string) ([]proto.ReplicaLocation, error) {
	a.calls++
	if a.fail {
		return nil, errors.ErrNoAllocatableNode
	}
	if replica == 0 {
		replica = 1
	}
	replicas := make([]proto.ReplicaLocation, 0, replica)
	for i := uint32(0); i < replica; i++ {
		replicas = append(replicas, proto.ReplicaLocation{
			NodeID:      fmt.Sprintf("node-%d", i),
			NodeAddress: fmt.Sprintf("127.0.0.1:92%02d", i),
			DiskID:      "disk-01",
			ChunkID:     chunkID,
			StorageTier: proto.StorageTierDisk,
		})
	}
	return replicas, nil
}

func newTestStore(t *testing.T) (*metaStore, *fakeAllocator) {
	kv, err := kvstore.NewKVStore(context.Background(), "", kvstore.MemoryKVType, nil)
	require.NoError(t, err)
	alloc := &fakeAllocator{}
	store := newMetaStore(kv, alloc, 16)
	require.NoError(t, store.EnsureRoot(context.Background()))
	t.Cleanup(func() {
		store.Close()
		kv.Close()
	})
	return store, alloc
}

func TestEnsureRootIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.EnsureRoot(ctx))

	attr, err := store.Getattr(ctx, proto.RootInodeID)
	require.NoError(t, err)
	require.True(t, attr.IsDir())
	require.Equal(t, uint32(2), attr.Nlink)
}

func TestCreateLookupGetattr(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	attr, err := store.Create(ctx, "/a", 0o644, 1000, 1000, 0, 0)
	require.NoError(t, err)
	require.Equal(t, proto.InodeFile, attr.Type)
	require.Equal(t, uint32(1), attr.Replica)
	require.Equal(t, uint64(16), attr.ChunkSize)
	require.NotZero(t, attr.InodeID)

	got, err := store.Lookup(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, attr.InodeID, got.InodeID)

	got, err = store.Getattr(ctx, attr.InodeID)
	require.NoError(t, err)
	require.Equal(t, uint32(1000), got.Uid)

	_, err = store.Lookup(ctx, "/missing")
	require.Equal(t, errors.ErrPathDoesNotExist, err)
	_, err = store.Getattr(ctx, 9999)
	require.Equal(t, errors.ErrInodeDoesNotExist, err)

	_, err = store.Create(ctx, "/a", 0o644, 0, 0, 0, 0)
	require.Equal(t, errors.ErrAlreadyExists, err)
	_, err = store.Create(ctx, "/a/b", 0o644, 0, 0, 0, 0)
	require.Equal(t, errors.ErrNotDirectory, err)
	_, err = store.Create(ctx, "/nodir/b", 0o644, 0, 0, 0, 0)
	require.Equal(t, errors.ErrPathDoesNotExist, err)
}

func TestMkdirReaddir(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	dir, err := store.Mkdir(ctx, "/d", 0o755, 0, 0)
	require.NoError(t, err)
	require.True(t, dir.IsDir())
	require.Equal(t, uint32(2), dir.Nlink)

	_, err = store.Create(ctx, "/d/b", 0o644, 0, 0, 0, 0)
	require.NoError(t, err)
	_, err = store.Mkdir(ctx, "/d/a", 0o755, 0, 0)
	require.NoError(t, err)

	entries, err := store.Readdir(ctx, "/d")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Name)
	require.Equal(t, proto.InodeDir, entries[0].Type)
	require.Equal(t, "b", entries[1].Name)
	require.Equal(t, proto.InodeFile, entries[1].Type)

	_, err = store.Readdir(ctx, "/d/b")
	require.Equal(t, errors.ErrNotDirectory, err)
}

func TestOpenClose(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	attr, err := store.Create(ctx, "/f", 0o644, 0, 0, 0, 0)
	require.NoError(t, err)

	h1, got, err := store.Open(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, attr.InodeID, got.InodeID)
	h2, _, err := store.Open(ctx, "/f")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	require.NoError(t, store.CloseHandle(ctx, h1))
	require.Equal(t, errors.ErrNotFound, store.CloseHandle(ctx, h1))
	require.NoError(t, store.CloseHandle(ctx, h2))

	_, _, err = store.Open(ctx, "/missing")
	require.Equal(t, errors.ErrPathDoesNotExist, err)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	attr, err := store.Create(ctx, "/old", 0o644, 0, 0, 0, 0)
	require.NoError(t, err)
	_, err = store.Mkdir(ctx, "/dst", 0o755, 0, 0)
	require.NoError(t, err)

	require.NoError(t, store.Rename(ctx, "/old", "/dst/new"))
	got, err := store.Lookup(ctx, "/dst/new")
	require.NoError(t, err)
	require.Equal(t, attr.InodeID, got.InodeID)
	_, err = store.Lookup(ctx, "/old")
	require.Equal(t, errors.ErrPathDoesNotExist, err)

	_, err = store.Create(ctx, "/other", 0o644, 0, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, errors.ErrAlreadyExists, store.Rename(ctx, "/other", "/dst/new"))
	require.Equal(t, errors.ErrPathDoesNotExist, store.Rename(ctx, "/nope", "/dst/x"))
}

func TestUnlinkReclaimsChunkMetas(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	attr, err := store.Create(ctx, "/f", 0o644, 0, 0, 1, 16)
	require.NoError(t, err)
	_, err = store.AllocateWrite(ctx, attr.InodeID, 0, 64)
	require.NoError(t, err)

	iter := store.kv.List(ctx, chunkPrefix(attr.InodeID))
	key, _, err := iter.Next()
	iter.Close()
	require.NoError(t, err)
	require.NotNil(t, key)

	require.NoError(t, store.Unlink(ctx, "/f"))
	_, err = store.Lookup(ctx, "/f")
	require.Equal(t, errors.ErrPathDoesNotExist, err)
	_, err = store.Getattr(ctx, attr.InodeID)
	require.Equal(t, errors.ErrInodeDoesNotExist, err)

	iter = store.kv.List(ctx, chunkPrefix(attr.InodeID))
	key, _, err = iter.Next()
	iter.Close()
	require.NoError(t, err)
	require.Nil(t, key)

	_, err = store.Mkdir(ctx, "/d", 0o755, 0, 0)
	require.NoError(t, err)
	require.Equal(t, errors.ErrIsDirectory, store.Unlink(ctx, "/d"))
}

func TestRmdir(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Mkdir(ctx, "/d", 0o755, 0, 0)
	require.NoError(t, err)
	_, err = store.Create(ctx, "/d/f", 0o644, 0, 0, 0, 0)
	require.NoError(t, err)

	require.Equal(t, errors.ErrNotEmpty, store.Rmdir(ctx, "/d"))
	require.NoError(t, store.Unlink(ctx, "/d/f"))
	require.NoError(t, store.Rmdir(ctx, "/d"))
	_, err = store.Lookup(ctx, "/d")
	require.Equal(t, errors.ErrPathDoesNotExist, err)

	_, err = store.Create(ctx, "/f", 0o644, 0, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, errors.ErrNotDirectory, store.Rmdir(ctx, "/f"))
}

func TestAllocateWriteIdempotent(t *testing.T) {
	ctx := context.Background()
	store, alloc := newTestStore(t)

	attr, err := store.Create(ctx, "/f", 0o644, 0, 0, 2, 16)
	require.NoError(t, err)

	layout, err := store.AllocateWrite(ctx, attr.InodeID, 0, 32)
	require.NoError(t, err)
	require.Equal(t, uint64(16), layout.ChunkSize)
	require.Len(t, layout.Chunks, 2)
	require.Equal(t, uint32(0), layout.Chunks[0].Index)
	require.Equal(t, uint32(1), layout.Chunks[1].Index)
	require.Len(t, layout.Chunks[0].Replicas, 2)
	require.Equal(t, 2, alloc.calls)
	firstID := layout.Chunks[0].Replicas[0].ChunkID

	again, err := store.AllocateWrite(ctx, attr.InodeID, 0, 32)
	require.NoError(t, err)
	require.Len(t, again.Chunks, 2)
	require.Equal(t, firstID, again.Chunks[0].Replicas[0].ChunkID)
	require.Equal(t, 2, alloc.calls)

	_, err = store.AllocateWrite(ctx, attr.InodeID, 0, 0)
	require.Equal(t, errors.ErrInvalidArgument, err)

	alloc.fail = true
	_, err = store.AllocateWrite(ctx, attr.InodeID, 64, 16)
	require.Equal(t, errors.ErrNoAllocatableNode, err)
}

func TestGetLayoutSkipsHoles(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	attr, err := store.Create(ctx, "/f", 0o644, 0, 0, 1, 16)
	require.NoError(t, err)
	_, err = store.AllocateWrite(ctx, attr.InodeID, 32, 16)
	require.NoError(t, err)

	layout, err := store.GetLayout(ctx, attr.InodeID, 0, 48)
	require.NoError(t, err)
	require.Len(t, layout.Chunks, 1)
	require.Equal(t, uint32(2), layout.Chunks[0].Index)

	_, err = store.GetLayout(ctx, attr.InodeID, 0, 0)
	require.Equal(t, errors.ErrInvalidArgument, err)
}

func TestCommitWriteGrowsOnly(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	attr, err := store.Create(ctx, "/f", 0o644, 0, 0, 0, 0)
	require.NoError(t, err)
	v0 := attr.Version

	require.NoError(t, store.CommitWrite(ctx, attr.InodeID, 100))
	got, err := store.Getattr(ctx, attr.InodeID)
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.Size)
	require.Greater(t, got.Version, v0)

	require.NoError(t, store.CommitWrite(ctx, attr.InodeID, 50))
	got, err = store.Getattr(ctx, attr.InodeID)
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.Size)
}

func TestInodeDocKeepsUnknownFields(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	attr, err := store.Create(ctx, "/f", 0o644, 0, 0, 0, 0)
	require.NoError(t, err)

	data, err := store.kv.Get(ctx, inodeKey(attr.InodeID))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["future_field"] = json.RawMessage(`"keep-me"`)
	patched, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, store.kv.Put(ctx, inodeKey(attr.InodeID), patched))

	require.NoError(t, store.CommitWrite(ctx, attr.InodeID, 10))

	data, err = store.kv.Get(ctx, inodeKey(attr.InodeID))
	require.NoError(t, err)
	doc = nil
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, json.RawMessage(`"keep-me"`), doc["future_field"])
}

func TestChunkKeyRoundTrip(t *testing.T) {
	inodeID, index, err := parseChunkKey(chunkKey(42, 7))
	require.NoError(t, err)
	require.Equal(t, uint64(42), inodeID)
	require.Equal(t, uint32(7), index)

	_, _, err = parseChunkKey([]byte("I/42"))
	require.Error(t, err)

	// "C/1/" must not cover inode 10 on prefix scans.
	require.Equal(t, "C/1/", string(chunkPrefix(1)))
	require.Equal(t, "C/10/0", string(chunkKey(10, 0)))
}
