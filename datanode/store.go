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

	"github.com/zibofs/zibofs/proto"
)

// ChunkStore is the per-node chunk engine behind the storage service. The
// three node flavors plug in here: real disks, the simulated virtual store
// and the append-only optical image store.
type ChunkStore interface {
	Write(ctx context.Context, diskID, chunkID string, offset uint64, data []byte) error
	Read(ctx context.Context, diskID, chunkID string, offset, size uint64) ([]byte, error)
	Delete(ctx context.Context, diskID, chunkID string) error
	DiskReports() []proto.DiskReport
	Close()
}
