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
	"sort"
	"strings"
	"sync"

	"github.com/cubefs/cubefs/blobstore/util/taskpool"
	"github.com/google/uuid"

	"github.com/zibofs/zibofs/util"

	"github.com/zibofs/zibofs/common/kvstore"
	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

const (
	defaultChunkSize = 4 << 20
	defaultReplica   = 1

	reclaimWorkers = 4
)

// allocator plans replica placements for one new chunk.
type allocator interface {
	AllocateChunk(ctx context.Context, replica uint32, chunkID string) ([]proto.ReplicaLocation, error)
}

// metaStore is the namespace and layout authority, persisted in an ordered
// kv engine. Every mutation is one batched write, except Unlink which issues
// a follow-up batch for the chunk metas of the removed inode.
type metaStore struct {
	kv        kvstore.Store
	alloc     allocator
	chunkSize uint64

	// serializes the id counters, the engine only guards single keys
	counterLock sync.Mutex

	reclaim taskpool.TaskPool
}

func newMetaStore(kv kvstore.Store, alloc allocator, chunkSize uint64) *metaStore {
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	return &metaStore{
		kv:        kv,
		alloc:     alloc,
		chunkSize: chunkSize,
		reclaim:   taskpool.New(reclaimWorkers, reclaimWorkers),
	}
}

func (s *metaStore) Close() {
	s.reclaim.Close()
}

// EnsureRoot creates inode 1 if this is a fresh store.
func (s *metaStore) EnsureRoot(ctx context.Context) error {
	_, err := s.kv.Get(ctx, inodeKey(proto.RootInodeID))
	if err == nil {
		return nil
	}
	if err != kvstore.ErrNotFound {
		return err
	}
	now := util.NowSec()
	root := &proto.InodeAttr{
		InodeID: proto.RootInodeID,
		Type:    proto.InodeDir,
		Mode:    0o755,
		Nlink:   2,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Version: 1,
	}
	data, err := encodeInodeAttr(root)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, inodeKey(proto.RootInodeID), data)
}

func (s *metaStore) getInode(ctx context.Context, inodeID uint64) (*inodeRecord, error) {
	data, err := s.kv.Get(ctx, inodeKey(inodeID))
	if err == kvstore.ErrNotFound {
		return nil, errors.ErrInodeDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	return decodeInode(data)
}

func (s *metaStore) getDentry(ctx context.Context, parentID uint64, name string) (uint64, error) {
	data, err := s.kv.Get(ctx, dentryKey(parentID, name))
	if err == kvstore.ErrNotFound {
		return 0, errors.ErrPathDoesNotExist
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(data)
}

func splitPath(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, errors.ErrInvalidArgument
	}
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// resolvePath walks the dentry chain from the root.
func (s *metaStore) resolvePath(ctx context.Context, path string) (uint64, error) {
	parts, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	current := proto.RootInodeID
	for _, part := range parts {
		child, err := s.getDentry(ctx, current, part)
		if err != nil {
			return 0, err
		}
		current = child
	}
	return current, nil
}

// resolveParent resolves everything but the last component, returning the
// parent inode and the trailing name.
func (s *metaStore) resolveParent(ctx context.Context, path string) (uint64, string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return 0, "", err
	}
	if len(parts) == 0 {
		return 0, "", errors.ErrInvalidArgument
	}
	current := proto.RootInodeID
	for _, part := range parts[:len(parts)-1] {
		child, err := s.getDentry(ctx, current, part)
		if err != nil {
			return 0, "", err
		}
		current = child
	}
	return current, parts[len(parts)-1], nil
}

func (s *metaStore) nextID(ctx context.Context, key string, initial uint64) (uint64, error) {
	s.counterLock.Lock()
	defer s.counterLock.Unlock()
	current := initial
	data, err := s.kv.Get(ctx, []byte(key))
	switch err {
	case nil:
		if current, err = decodeUint64(data); err != nil {
			return 0, err
		}
	case kvstore.ErrNotFound:
	default:
		return 0, err
	}
	if err := s.kv.Put(ctx, []byte(key), encodeUint64(current+1)); err != nil {
		return 0, err
	}
	return current, nil
}

func (s *metaStore) Lookup(ctx context.Context, path string) (*proto.InodeAttr, error) {
	inodeID, err := s.resolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	record, err := s.getInode(ctx, inodeID)
	if err != nil {
		return nil, err
	}
	return &record.attr, nil
}

func (s *metaStore) Getattr(ctx context.Context, inodeID uint64) (*proto.InodeAttr, error) {
	record, err := s.getInode(ctx, inodeID)
	if err != nil {
		return nil, err
	}
	return &record.attr, nil
}

func (s *metaStore) Open(ctx context.Context, path string) (uint64, *proto.InodeAttr, error) {
	inodeID, err := s.resolvePath(ctx, path)
	if err != nil {
		return 0, nil, err
	}
	record, err := s.getInode(ctx, inodeID)
	if err != nil {
		return 0, nil, err
	}
	handleID, err := s.nextID(ctx, keyNextHandle, 1)
	if err != nil {
		return 0, nil, err
	}
	if err := s.kv.Put(ctx, handleKey(handleID), encodeUint64(inodeID)); err != nil {
		return 0, nil, err
	}
	return handleID, &record.attr, nil
}

func (s *metaStore) CloseHandle(ctx context.Context, handleID uint64) error {
	if _, err := s.kv.Get(ctx, handleKey(handleID)); err != nil {
		if err == kvstore.ErrNotFound {
			return errors.ErrNotFound
		}
		return err
	}
	return s.kv.Delete(ctx, handleKey(handleID))
}

func (s *metaStore) createInode(ctx context.Context, path string, attr *proto.InodeAttr) (*proto.InodeAttr, error) {
	parentID, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	parent, err := s.getInode(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.attr.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	if _, err := s.getDentry(ctx, parentID, name); err == nil {
		return nil, errors.ErrAlreadyExists
	} else if err != errors.ErrPathDoesNotExist {
		return nil, err
	}

	inodeID, err := s.nextID(ctx, keyNextInode, proto.RootInodeID+1)
	if err != nil {
		return nil, err
	}
	attr.InodeID = inodeID
	data, err := encodeInodeAttr(attr)
	if err != nil {
		return nil, err
	}

	batch := s.kv.NewWriteBatch()
	defer batch.Close()
	batch.Put(dentryKey(parentID, name), encodeUint64(inodeID))
	batch.Put(inodeKey(inodeID), data)
	if err := s.kv.Write(ctx, batch); err != nil {
		return nil, err
	}
	return attr, nil
}

func (s *metaStore) Create(ctx context.Context, path string, mode, uid, gid, replica uint32, chunkSize uint64) (*proto.InodeAttr, error) {
	if replica == 0 {
		replica = defaultReplica
	}
	if chunkSize == 0 {
		chunkSize = s.chunkSize
	}
	now := util.NowSec()
	return s.createInode(ctx, path, &proto.InodeAttr{
		Type:      proto.InodeFile,
		Mode:      mode,
		Uid:       uid,
		Gid:       gid,
		Nlink:     1,
		Atime:     now,
		Mtime:     now,
		Ctime:     now,
		Version:   1,
		Replica:   replica,
		ChunkSize: chunkSize,
	})
}

func (s *metaStore) Mkdir(ctx context.Context, path string, mode, uid, gid uint32) (*proto.InodeAttr, error) {
	now := util.NowSec()
	return s.createInode(ctx, path, &proto.InodeAttr{
		Type:    proto.InodeDir,
		Mode:    mode,
		Uid:     uid,
		Gid:     gid,
		Nlink:   2,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Version: 1,
	})
}

func (s *metaStore) Readdir(ctx context.Context, path string) ([]proto.Dentry, error) {
	inodeID, err := s.resolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	dir, err := s.getInode(ctx, inodeID)
	if err != nil {
		return nil, err
	}
	if !dir.attr.IsDir() {
		return nil, errors.ErrNotDirectory
	}

	prefix := dentryPrefix(inodeID)
	iter := s.kv.List(ctx, prefix)
	defer iter.Close()

	entries := []proto.Dentry{}
	for {
		key, value, err := iter.Next()
		if err != nil {
			return nil, err
		}
		if key == nil {
			break
		}
		childID, err := decodeUint64(value)
		if err != nil {
			return nil, err
		}
		entry := proto.Dentry{Name: dentryName(key, prefix), InodeID: childID}
		if child, err := s.getInode(ctx, childID); err == nil {
			entry.Type = child.attr.Type
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *metaStore) Rename(ctx context.Context, oldPath, newPath string) error {
	oldParent, oldName, err := s.resolveParent(ctx, oldPath)
	if err != nil {
		return err
	}
	newParent, newName, err := s.resolveParent(ctx, newPath)
	if err != nil {
		return err
	}
	childID, err := s.getDentry(ctx, oldParent, oldName)
	if err != nil {
		return err
	}
	if _, err := s.getDentry(ctx, newParent, newName); err == nil {
		return errors.ErrAlreadyExists
	} else if err != errors.ErrPathDoesNotExist {
		return err
	}

	batch := s.kv.NewWriteBatch()
	defer batch.Close()
	batch.Delete(dentryKey(oldParent, oldName))
	batch.Put(dentryKey(newParent, newName), encodeUint64(childID))
	return s.kv.Write(ctx, batch)
}

func (s *metaStore) Unlink(ctx context.Context, path string) error {
	parentID, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	childID, err := s.getDentry(ctx, parentID, name)
	if err != nil {
		return err
	}
	child, err := s.getInode(ctx, childID)
	if err != nil {
		return err
	}
	if child.attr.IsDir() {
		return errors.ErrIsDirectory
	}

	batch := s.kv.NewWriteBatch()
	defer batch.Close()
	batch.Delete(dentryKey(parentID, name))
	batch.Delete(inodeKey(childID))
	if err := s.kv.Write(ctx, batch); err != nil {
		return err
	}
	return s.reclaimChunkMetas(ctx, childID)
}

// reclaimChunkMetas drops every chunk meta of a removed inode. The scan runs
// inline, deletion batches fan out over the pool. Chunk bytes on storage
// nodes are not reclaimed here.
func (s *metaStore) reclaimChunkMetas(ctx context.Context, inodeID uint64) error {
	iter := s.kv.List(ctx, chunkPrefix(inodeID))
	defer iter.Close()

	var keys [][]byte
	for {
		key, _, err := iter.Next()
		if err != nil {
			return err
		}
		if key == nil {
			break
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}

	perWorker := (len(keys) + reclaimWorkers - 1) / reclaimWorkers
	var wg sync.WaitGroup
	errs := make([]error, 0, reclaimWorkers)
	var errLock sync.Mutex
	for start := 0; start < len(keys); start += perWorker {
		end := start + perWorker
		if end > len(keys) {
			end = len(keys)
		}
		part := keys[start:end]
		wg.Add(1)
		s.reclaim.Run(func() {
			defer wg.Done()
			batch := s.kv.NewWriteBatch()
			defer batch.Close()
			for _, key := range part {
				batch.Delete(key)
			}
			if err := s.kv.Write(ctx, batch); err != nil {
				errLock.Lock()
				errs = append(errs, err)
				errLock.Unlock()
			}
		})
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (s *metaStore) Rmdir(ctx context.Context, path string) error {
	parentID, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	childID, err := s.getDentry(ctx, parentID, name)
	if err != nil {
		return err
	}
	child, err := s.getInode(ctx, childID)
	if err != nil {
		return err
	}
	if !child.attr.IsDir() {
		return errors.ErrNotDirectory
	}

	iter := s.kv.List(ctx, dentryPrefix(childID))
	key, _, err := iter.Next()
	iter.Close()
	if err != nil {
		return err
	}
	if key != nil {
		return errors.ErrNotEmpty
	}

	batch := s.kv.NewWriteBatch()
	defer batch.Close()
	batch.Delete(dentryKey(parentID, name))
	batch.Delete(inodeKey(childID))
	return s.kv.Write(ctx, batch)
}

func newChunkID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func chunkRange(offset, size, chunkSize uint64) (start, end uint32) {
	return uint32(offset / chunkSize), uint32((offset + size - 1) / chunkSize)
}

// AllocateWrite returns the layout covering [offset, offset+size), planning
// replicas for indexes that have none yet. Already allocated indexes are
// returned as-is, overwrites never re-plan a replica set.
func (s *metaStore) AllocateWrite(ctx context.Context, inodeID, offset, size uint64) (*proto.FileLayout, error) {
	if size == 0 {
		return nil, errors.ErrInvalidArgument
	}
	record, err := s.getInode(ctx, inodeID)
	if err != nil {
		return nil, err
	}
	chunkSize := record.attr.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.chunkSize
	}
	replica := record.attr.Replica
	if replica == 0 {
		replica = defaultReplica
	}

	layout := &proto.FileLayout{InodeID: inodeID, ChunkSize: chunkSize}
	batch := s.kv.NewWriteBatch()
	defer batch.Close()

	start, end := chunkRange(offset, size, chunkSize)
	for index := start; index <= end; index++ {
		data, err := s.kv.Get(ctx, chunkKey(inodeID, index))
		switch err {
		case nil:
			meta, err := decodeChunkMeta(data)
			if err != nil {
				return nil, err
			}
			layout.Chunks = append(layout.Chunks, *meta)
			continue
		case kvstore.ErrNotFound:
		default:
			return nil, err
		}

		replicas, err := s.alloc.AllocateChunk(ctx, replica, newChunkID())
		if err != nil {
			return nil, err
		}
		meta := &proto.ChunkMeta{InodeID: inodeID, Index: index, Replicas: replicas}
		encoded, err := encodeChunkMeta(meta)
		if err != nil {
			return nil, err
		}
		batch.Put(chunkKey(inodeID, index), encoded)
		layout.Chunks = append(layout.Chunks, *meta)
	}
	if batch.Count() > 0 {
		if err := s.kv.Write(ctx, batch); err != nil {
			return nil, err
		}
	}
	sort.Slice(layout.Chunks, func(i, j int) bool { return layout.Chunks[i].Index < layout.Chunks[j].Index })
	return layout, nil
}

// GetLayout is the read-side ranging, it never allocates. Holes in the range
// simply do not appear in the result.
func (s *metaStore) GetLayout(ctx context.Context, inodeID, offset, size uint64) (*proto.FileLayout, error) {
	if size == 0 {
		return nil, errors.ErrInvalidArgument
	}
	record, err := s.getInode(ctx, inodeID)
	if err != nil {
		return nil, err
	}
	chunkSize := record.attr.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.chunkSize
	}

	layout := &proto.FileLayout{InodeID: inodeID, ChunkSize: chunkSize}
	start, end := chunkRange(offset, size, chunkSize)
	for index := start; index <= end; index++ {
		data, err := s.kv.Get(ctx, chunkKey(inodeID, index))
		if err == kvstore.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		meta, err := decodeChunkMeta(data)
		if err != nil {
			return nil, err
		}
		layout.Chunks = append(layout.Chunks, *meta)
	}
	return layout, nil
}

// CommitWrite publishes a completed write: size only ever grows.
func (s *metaStore) CommitWrite(ctx context.Context, inodeID, newSize uint64) error {
	record, err := s.getInode(ctx, inodeID)
	if err != nil {
		return err
	}
	if newSize > record.attr.Size {
		record.attr.Size = newSize
	}
	record.attr.Mtime = util.NowSec()
	record.attr.Version++
	data, err := record.encode()
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, inodeKey(inodeID), data)
}
