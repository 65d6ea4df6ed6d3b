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

	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

// chunkAllocator places new chunks on the disk tier. Optical nodes never
// receive fresh writes, they only take archived copies.
type chunkAllocator struct {
	cache *nodeCache
}

func newChunkAllocator(cache *nodeCache) *chunkAllocator {
	return &chunkAllocator{cache: cache}
}

func (a *chunkAllocator) AllocateChunk(ctx context.Context, replica uint32, chunkID string) ([]proto.ReplicaLocation, error) {
	if replica == 0 {
		replica = 1
	}
	selections := a.cache.PickNodes(int(replica), proto.NodeTypeOptical, false)
	if len(selections) == 0 {
		return nil, errors.ErrNoAllocatableNode
	}
	replicas := make([]proto.ReplicaLocation, 0, len(selections))
	for _, sel := range selections {
		replicas = append(replicas, proto.ReplicaLocation{
			NodeID:           sel.NodeID,
			NodeAddress:      sel.Address,
			DiskID:           sel.DiskID,
			ChunkID:          chunkID,
			GroupID:          sel.GroupID,
			Epoch:            sel.Epoch,
			PrimaryNodeID:    sel.NodeID,
			PrimaryAddress:   sel.Address,
			SecondaryNodeID:  sel.SecondaryNodeID,
			SecondaryAddress: sel.SecondaryAddress,
			SyncReady:        sel.SyncReady,
			StorageTier:      proto.StorageTierDisk,
			ReplicaState:     proto.ReplicaReady,
		})
	}
	return replicas, nil
}
