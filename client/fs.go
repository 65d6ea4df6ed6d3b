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

package client

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/util/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zibofs/zibofs/metrics"
	"github.com/zibofs/zibofs/proto"
)

type FSConfig struct {
	MDS              MDSConfig       `json:"mds"`
	StorageTransport TransportConfig `json:"storage_transport"`
}

// FileSystem is the data-path client: it turns byte-range writes and reads
// into chunk rpcs against the layout the metadata service hands out.
type FileSystem struct {
	mds     *MDSClient
	storage *StorageClient
}

func NewFileSystem(cfg *FSConfig) *FileSystem {
	return &FileSystem{
		mds:     NewMDSClient(&cfg.MDS),
		storage: NewStorageClient(&StorageConfig{Transport: cfg.StorageTransport}),
	}
}

// MDS exposes the namespace client for callers that bridge path operations.
func (f *FileSystem) MDS() *MDSClient {
	return f.mds
}

func (f *FileSystem) Close() {
	f.mds.CloseClient()
	f.storage.Close()
}

// replicaAddrs lists the addresses to try for one replica. The primary goes
// first because it propagates to the secondary synchronously.
func replicaAddrs(r *proto.ReplicaLocation) []string {
	addrs := make([]string, 0, 3)
	for _, a := range []string{r.PrimaryAddress, r.NodeAddress, r.SecondaryAddress} {
		if a == "" {
			continue
		}
		dup := false
		for _, prev := range addrs {
			if prev == a {
				dup = true
				break
			}
		}
		if !dup {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func (f *FileSystem) writeReplica(ctx context.Context, r *proto.ReplicaLocation, chunkOff uint64, payload []byte) error {
	addrs := replicaAddrs(r)
	if len(addrs) == 0 {
		return errors.Newf("replica %s/%s has no address", r.NodeID, r.ChunkID)
	}
	args := &WriteChunkArgs{
		DiskID:  r.DiskID,
		ChunkID: r.ChunkID,
		Offset:  chunkOff,
		Epoch:   r.Epoch,
	}
	var err error
	for _, addr := range addrs {
		if err = f.storage.WriteChunk(ctx, addr, args, payload); err == nil {
			return nil
		}
	}
	return err
}

// Write pushes buf at offset into every replica of every covered chunk,
// then publishes the new size. The layout call plans replicas for chunk
// indexes that do not exist yet, so overwrites and appends go through the
// same path.
func (f *FileSystem) Write(ctx context.Context, inodeID, offset uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	layout, err := f.mds.AllocateWrite(ctx, &AllocateWriteArgs{
		InodeID: inodeID,
		Offset:  offset,
		Size:    uint64(len(buf)),
	})
	if err != nil {
		return err
	}
	if layout.ChunkSize == 0 {
		return errors.New("layout without chunk size")
	}

	end := offset + uint64(len(buf))
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range layout.Chunks {
		chunk := &layout.Chunks[i]
		chunkStart := uint64(chunk.Index) * layout.ChunkSize
		chunkEnd := chunkStart + layout.ChunkSize
		writeStart := chunkStart
		if offset > writeStart {
			writeStart = offset
		}
		writeEnd := chunkEnd
		if end < writeEnd {
			writeEnd = end
		}
		if writeStart >= writeEnd {
			continue
		}
		chunkOff := writeStart - chunkStart
		payload := buf[writeStart-offset : writeStart-offset+(writeEnd-writeStart)]
		for j := range chunk.Replicas {
			replica := &chunk.Replicas[j]
			eg.Go(func() error {
				return f.writeReplica(egCtx, replica, chunkOff, payload)
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	metrics.ChunkBytes.WithLabelValues("client", "write").Add(float64(len(buf)))
	return f.mds.CommitWrite(ctx, inodeID, end)
}

func (f *FileSystem) readChunk(ctx context.Context, chunk *proto.ChunkMeta, chunkOff, size uint64) ([]byte, error) {
	var err error
	for i := range chunk.Replicas {
		replica := &chunk.Replicas[i]
		for _, addr := range replicaAddrs(replica) {
			var data []byte
			data, err = f.storage.ReadChunk(ctx, addr, &ReadChunkArgs{
				DiskID:  replica.DiskID,
				ChunkID: replica.ChunkID,
				Offset:  chunkOff,
				Size:    size,
			})
			if err == nil {
				if uint64(len(data)) > size {
					data = data[:size]
				}
				return data, nil
			}
		}
	}
	if err == nil {
		err = errors.Newf("chunk %d has no readable replica", chunk.Index)
	}
	return nil, err
}

// Read returns up to size bytes at offset, clipped to the file size. Holes
// in the layout read back as zeroes.
func (f *FileSystem) Read(ctx context.Context, inodeID, offset, size uint64) ([]byte, error) {
	attr, err := f.mds.Getattr(ctx, inodeID)
	if err != nil {
		return nil, err
	}
	if offset >= attr.Size {
		return nil, nil
	}
	if offset+size > attr.Size {
		size = attr.Size - offset
	}
	if size == 0 {
		return nil, nil
	}

	layout, err := f.mds.GetLayout(ctx, &GetLayoutArgs{InodeID: inodeID, Offset: offset, Size: size})
	if err != nil {
		return nil, err
	}
	if layout.ChunkSize == 0 {
		return nil, errors.New("layout without chunk size")
	}

	out := make([]byte, size)
	end := offset + size
	eg, ctx := errgroup.WithContext(ctx)
	for i := range layout.Chunks {
		chunk := &layout.Chunks[i]
		chunkStart := uint64(chunk.Index) * layout.ChunkSize
		chunkEnd := chunkStart + layout.ChunkSize
		readStart := chunkStart
		if offset > readStart {
			readStart = offset
		}
		readEnd := chunkEnd
		if end < readEnd {
			readEnd = end
		}
		if readStart >= readEnd {
			continue
		}
		chunkOff := readStart - chunkStart
		want := readEnd - readStart
		dst := out[readStart-offset : readStart-offset+want]
		eg.Go(func() error {
			data, err := f.readChunk(ctx, chunk, chunkOff, want)
			if err != nil {
				return err
			}
			copy(dst, data)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	metrics.ChunkBytes.WithLabelValues("client", "read").Add(float64(len(out)))
	return out, nil
}
