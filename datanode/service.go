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
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

const defaultReplicationTimeoutMs = 2000

type replState struct {
	enabled     bool
	isPrimary   bool
	epoch       uint64
	groupID     string
	peerAddress string
}

// storageService wraps the chunk store with the write fencing protocol.
// When replication is enabled only the primary accepts client writes, and
// every accepted write is forwarded to the peer synchronously before the
// client sees success. Forwarded writes carry the sender's epoch, a receiver
// holding a newer epoch rejects them so a deposed primary cannot smuggle
// data past a failover.
type storageService struct {
	nodeID             string
	store              ChunkStore
	storageCli         *client.StorageClient
	replicationTimeout time.Duration

	lock       sync.Mutex
	repl       replState
	appliedLsn uint64
}

func newStorageService(nodeID string, store ChunkStore, storageCli *client.StorageClient, replicationTimeoutMs uint64) *storageService {
	if replicationTimeoutMs == 0 {
		replicationTimeoutMs = defaultReplicationTimeoutMs
	}
	return &storageService{
		nodeID:             nodeID,
		store:              store,
		storageCli:         storageCli,
		replicationTimeout: time.Duration(replicationTimeoutMs) * time.Millisecond,
	}
}

func (s *storageService) WriteChunk(ctx context.Context, args *client.WriteChunkArgs, data []byte) error {
	span := trace.SpanFromContextSafe(ctx)

	if args.DiskID == "" || args.ChunkID == "" {
		return errors.ErrInvalidArgument
	}

	s.lock.Lock()
	if s.repl.enabled && !args.IsReplication && !s.repl.isPrimary {
		s.lock.Unlock()
		return errors.ErrNotLeader
	}
	if args.IsReplication && args.Epoch > 0 {
		if args.Epoch < s.repl.epoch {
			s.lock.Unlock()
			span.Warnf("replicated write on chunk[%s] with epoch %d, local epoch %d", args.ChunkID, args.Epoch, s.repl.epoch)
			return errors.ErrStaleEpoch
		}
		if args.Epoch > s.repl.epoch {
			s.repl.epoch = args.Epoch
		}
	}
	repl := s.repl
	s.lock.Unlock()

	if err := s.store.Write(ctx, args.DiskID, args.ChunkID, args.Offset, data); err != nil {
		return err
	}

	s.lock.Lock()
	s.appliedLsn++
	s.lock.Unlock()

	if repl.isPrimary && !args.IsReplication && repl.peerAddress != "" {
		forwardCtx, cancel := context.WithTimeout(ctx, s.replicationTimeout)
		defer cancel()
		forward := *args
		forward.IsReplication = true
		forward.Epoch = repl.epoch
		if err := s.storageCli.WriteChunk(forwardCtx, repl.peerAddress, &forward, data); err != nil {
			span.Errorf("replicate chunk[%s] to %s failed: %s", args.ChunkID, repl.peerAddress, err)
			return err
		}
	}
	return nil
}

func (s *storageService) ReadChunk(ctx context.Context, args *client.ReadChunkArgs) ([]byte, error) {
	if args.DiskID == "" || args.ChunkID == "" {
		return nil, errors.ErrInvalidArgument
	}
	return s.store.Read(ctx, args.DiskID, args.ChunkID, args.Offset, args.Size)
}

// DeleteChunk is idempotent, deleting an absent chunk succeeds.
func (s *storageService) DeleteChunk(ctx context.Context, args *client.DeleteChunkArgs) error {
	if args.DiskID == "" || args.ChunkID == "" {
		return errors.ErrInvalidArgument
	}
	err := s.store.Delete(ctx, args.DiskID, args.ChunkID)
	if err == errors.ErrChunkDoesNotExist {
		return nil
	}
	return err
}

func (s *storageService) ConfigureReplication(args *client.ConfigureReplicationArgs) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.repl.enabled = args.Enabled
	s.repl.isPrimary = args.IsPrimary
	s.repl.groupID = args.GroupID
	s.repl.peerAddress = args.PeerAddress
	s.repl.epoch = args.Epoch
	if s.repl.epoch == 0 {
		s.repl.epoch = 1
	}
}

// ApplyAssignment folds the scheduler's answer from a heartbeat into the
// local replication state. A zero epoch means the scheduler has no group
// for us yet and is ignored.
func (s *storageService) ApplyAssignment(assignment *proto.HeartbeatAssignment) {
	if assignment == nil || assignment.Epoch == 0 {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	if assignment.Epoch > s.repl.epoch {
		s.repl.epoch = assignment.Epoch
	}
	s.repl.groupID = assignment.GroupID
	s.repl.isPrimary = assignment.PrimaryNodeID == s.nodeID
	switch s.nodeID {
	case assignment.PrimaryNodeID:
		s.repl.peerAddress = assignment.SecondaryAddress
	case assignment.SecondaryNodeID:
		s.repl.peerAddress = assignment.PrimaryAddress
	default:
		s.repl.peerAddress = ""
	}
	s.repl.enabled = assignment.PrimaryNodeID != "" && assignment.SecondaryNodeID != ""
}

func (s *storageService) AppliedLsn() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.appliedLsn
}

func (s *storageService) ReplicationState() replState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.repl
}
