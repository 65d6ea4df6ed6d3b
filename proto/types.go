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

package proto

type InodeType int

const (
	InodeFile InodeType = iota
	InodeDir
)

type StorageTier int

const (
	StorageTierDisk StorageTier = iota
	StorageTierOptical
)

type ReplicaState int

const (
	ReplicaReady ReplicaState = iota
	ReplicaBuilding
	ReplicaFailed
)

// InodeAttr is the persisted attribute record of one inode. Unknown fields
// survive a read-modify-write because the codec keeps the raw document.
type InodeAttr struct {
	InodeID   uint64    `json:"inode_id"`
	Type      InodeType `json:"type"`
	Mode      uint32    `json:"mode"`
	Uid       uint32    `json:"uid"`
	Gid       uint32    `json:"gid"`
	Size      uint64    `json:"size"`
	Atime     uint64    `json:"atime"`
	Mtime     uint64    `json:"mtime"`
	Ctime     uint64    `json:"ctime"`
	Nlink     uint32    `json:"nlink"`
	Version   uint64    `json:"version"`
	ChunkSize uint64    `json:"chunk_size"`
	Replica   uint32    `json:"replica"`
}

func (a *InodeAttr) IsDir() bool {
	return a.Type == InodeDir
}

type Dentry struct {
	Name    string    `json:"name"`
	InodeID uint64    `json:"inode_id"`
	Type    InodeType `json:"type"`
}

// ReplicaLocation pins one copy of a chunk to a concrete (node, disk) pair
// together with the group/epoch fencing context frozen at allocation time.
type ReplicaLocation struct {
	NodeID           string       `json:"node_id"`
	NodeAddress      string       `json:"node_address"`
	DiskID           string       `json:"disk_id"`
	ChunkID          string       `json:"chunk_id"`
	Size             uint64       `json:"size"`
	GroupID          string       `json:"group_id"`
	Epoch            uint64       `json:"epoch"`
	PrimaryNodeID    string       `json:"primary_node_id"`
	PrimaryAddress   string       `json:"primary_address"`
	SecondaryNodeID  string       `json:"secondary_node_id"`
	SecondaryAddress string       `json:"secondary_address"`
	SyncReady        bool         `json:"sync_ready"`
	StorageTier      StorageTier  `json:"storage_tier"`
	ReplicaState     ReplicaState `json:"replica_state"`
}

type ChunkMeta struct {
	InodeID  uint64            `json:"inode_id"`
	Index    uint32            `json:"index"`
	Replicas []ReplicaLocation `json:"replicas"`
}

type FileLayout struct {
	InodeID   uint64      `json:"inode_id"`
	ChunkSize uint64      `json:"chunk_size"`
	Chunks    []ChunkMeta `json:"chunks"`
}

type DiskReport struct {
	DiskID        string `json:"disk_id"`
	MountPoint    string `json:"mount_point"`
	CapacityBytes uint64 `json:"capacity_bytes"`
	FreeBytes     uint64 `json:"free_bytes"`
	IsHealthy     bool   `json:"is_healthy"`
}
