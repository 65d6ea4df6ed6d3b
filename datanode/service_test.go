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

package datanode

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

type fakeStore struct {
	lock   sync.Mutex
	chunks map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{chunks: make(map[string][]byte)}
}

func (s *fakeStore) key(diskID, chunkID string) string {
	return diskID + "/" + chunkID
}

func (s *fakeStore) Write(ctx context.Context, diskID, chunkID string, offset uint64, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.chunks[s.key(diskID, chunkID)] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) Read(ctx context.Context, diskID, chunkID string, offset, size uint64) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	data, ok := s.chunks[s.key(diskID, chunkID)]
	if !ok {
		return nil, errors.ErrChunkDoesNotExist
	}
	return data, nil
}

func (s *fakeStore) Delete(ctx context.Context, diskID, chunkID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	key := s.key(diskID, chunkID)
	if _, ok := s.chunks[key]; !ok {
		return errors.ErrChunkDoesNotExist
	}
	delete(s.chunks, key)
	return nil
}

func (s *fakeStore) DiskReports() []proto.DiskReport {
	return []proto.DiskReport{{DiskID: "disk-01", CapacityBytes: 1 << 30, FreeBytes: 1 << 30, IsHealthy: true}}
}

func (s *fakeStore) Close() {}

func newTestService(store ChunkStore) *storageService {
	cli := client.NewStorageClient(&client.StorageConfig{})
	return newStorageService("node-a", store, cli, 0)
}

func TestWriteChunkValidatesArgs(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore())
	require.Equal(t, errors.ErrInvalidArgument, svc.WriteChunk(ctx, &client.WriteChunkArgs{ChunkID: "c1"}, nil))
	require.Equal(t, errors.ErrInvalidArgument, svc.WriteChunk(ctx, &client.WriteChunkArgs{DiskID: "disk-01"}, nil))
	_, err := svc.ReadChunk(ctx, &client.ReadChunkArgs{DiskID: "disk-01"})
	require.Equal(t, errors.ErrInvalidArgument, err)
	require.Equal(t, errors.ErrInvalidArgument, svc.DeleteChunk(ctx, &client.DeleteChunkArgs{ChunkID: "c1"}))
}

func TestSecondaryRejectsClientWrites(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore())
	svc.ConfigureReplication(&client.ConfigureReplicationArgs{Enabled: true, IsPrimary: false, Epoch: 2})

	args := &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c1"}
	require.Equal(t, errors.ErrNotLeader, svc.WriteChunk(ctx, args, []byte("x")))

	// the same write arriving on the replication path is accepted
	repl := &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c1", Epoch: 2, IsReplication: true}
	require.NoError(t, svc.WriteChunk(ctx, repl, []byte("x")))
	require.Equal(t, uint64(1), svc.AppliedLsn())
}

func TestReplicatedWriteEpochFencing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore())
	svc.ConfigureReplication(&client.ConfigureReplicationArgs{Enabled: true, IsPrimary: false, Epoch: 3})

	stale := &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c1", Epoch: 2, IsReplication: true}
	require.Equal(t, errors.ErrStaleEpoch, svc.WriteChunk(ctx, stale, []byte("x")))
	require.Equal(t, uint64(0), svc.AppliedLsn())

	equal := &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c1", Epoch: 3, IsReplication: true}
	require.NoError(t, svc.WriteChunk(ctx, equal, []byte("x")))

	// a newer epoch is accepted and advances the local epoch
	newer := &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c2", Epoch: 5, IsReplication: true}
	require.NoError(t, svc.WriteChunk(ctx, newer, []byte("y")))
	require.Equal(t, uint64(5), svc.ReplicationState().epoch)
}

func TestPrimaryForwardsToPeer(t *testing.T) {
	ctx := context.Background()

	var forwarded *http.Request
	var forwardedBody []byte
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r.Clone(r.Context())
		forwardedBody, _ = ioutil.ReadAll(r.Body)
	}))
	defer peer.Close()

	svc := newTestService(newFakeStore())
	svc.ConfigureReplication(&client.ConfigureReplicationArgs{
		Enabled:     true,
		IsPrimary:   true,
		Epoch:       4,
		GroupID:     "group-a",
		PeerAddress: peer.URL,
	})

	args := &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c1", Offset: 8}
	require.NoError(t, svc.WriteChunk(ctx, args, []byte("payload")))

	require.NotNil(t, forwarded)
	require.Equal(t, "/chunk/write", forwarded.URL.Path)
	query := forwarded.URL.Query()
	require.Equal(t, "disk-01", query.Get("disk_id"))
	require.Equal(t, "c1", query.Get("chunk_id"))
	require.Equal(t, "8", query.Get("offset"))
	require.Equal(t, "4", query.Get("epoch"))
	require.Equal(t, "true", query.Get("is_replication"))
	require.Equal(t, []byte("payload"), forwardedBody)

	// the caller's args are not mutated by forwarding
	require.False(t, args.IsReplication)
	require.Equal(t, uint64(0), args.Epoch)
}

func TestForwardFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "peer down", http.StatusInternalServerError)
	}))
	defer peer.Close()

	store := newFakeStore()
	svc := newTestService(store)
	svc.ConfigureReplication(&client.ConfigureReplicationArgs{
		Enabled:     true,
		IsPrimary:   true,
		Epoch:       1,
		PeerAddress: peer.URL,
	})

	args := &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c1"}
	require.Error(t, svc.WriteChunk(ctx, args, []byte("x")))

	// the local apply happened before the forward failed
	require.Equal(t, uint64(1), svc.AppliedLsn())
}

func TestDeleteChunkIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := newTestService(store)

	require.NoError(t, svc.WriteChunk(ctx, &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c1"}, []byte("x")))
	require.NoError(t, svc.DeleteChunk(ctx, &client.DeleteChunkArgs{DiskID: "disk-01", ChunkID: "c1"}))
	require.NoError(t, svc.DeleteChunk(ctx, &client.DeleteChunkArgs{DiskID: "disk-01", ChunkID: "c1"}))
}

func TestApplyAssignment(t *testing.T) {
	svc := newTestService(newFakeStore())

	svc.ApplyAssignment(nil)
	svc.ApplyAssignment(&proto.HeartbeatAssignment{GroupID: "g"})
	require.Equal(t, uint64(0), svc.ReplicationState().epoch)

	svc.ApplyAssignment(&proto.HeartbeatAssignment{
		GroupID:          "group-a",
		Epoch:            3,
		PrimaryNodeID:    "node-a",
		PrimaryAddress:   "10.0.0.1:9200",
		SecondaryNodeID:  "node-b",
		SecondaryAddress: "10.0.0.2:9200",
	})
	repl := svc.ReplicationState()
	require.True(t, repl.enabled)
	require.True(t, repl.isPrimary)
	require.Equal(t, uint64(3), repl.epoch)
	require.Equal(t, "10.0.0.2:9200", repl.peerAddress)

	// demotion after a failover, the peer flips to the new primary
	svc.ApplyAssignment(&proto.HeartbeatAssignment{
		GroupID:          "group-a",
		Epoch:            4,
		PrimaryNodeID:    "node-b",
		PrimaryAddress:   "10.0.0.2:9200",
		SecondaryNodeID:  "node-a",
		SecondaryAddress: "10.0.0.1:9200",
	})
	repl = svc.ReplicationState()
	require.False(t, repl.isPrimary)
	require.Equal(t, uint64(4), repl.epoch)
	require.Equal(t, "10.0.0.2:9200", repl.peerAddress)

	// epochs never move backwards
	svc.ApplyAssignment(&proto.HeartbeatAssignment{GroupID: "group-a", Epoch: 2, PrimaryNodeID: "node-b"})
	require.Equal(t, uint64(4), svc.ReplicationState().epoch)
}
