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
	"math/rand"
	"sync"
	"time"

	zerrors "github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

const (
	defaultVirtualDiskCapacity = 64 << 30
	defaultVirtualBytesPerSec  = 200 << 20
)

type VirtualStoreConfig struct {
	DiskIDs           []string `json:"disk_ids"`
	MountPointPrefix  string   `json:"mount_point_prefix"`
	DiskCapacityBytes uint64   `json:"disk_capacity_bytes"`
	BaseLatencyMs     uint64   `json:"base_latency_ms"`
	BytesPerSec       uint64   `json:"bytes_per_sec"`
	JitterMs          uint64   `json:"jitter_ms"`
}

// virtualStore fakes a data node for capacity and failover drills. Writes
// are validated, delayed by the latency model and discarded; reads
// synthesize a constant pattern.
type virtualStore struct {
	cfg     *VirtualStoreConfig
	diskIDs map[string]struct{}

	lock sync.Mutex
	rnd  *rand.Rand
}

func newVirtualStore(cfg *VirtualStoreConfig) ChunkStore {
	if len(cfg.DiskIDs) == 0 {
		cfg.DiskIDs = []string{"disk-01"}
	}
	if cfg.MountPointPrefix == "" {
		cfg.MountPointPrefix = "/virtual"
	}
	if cfg.DiskCapacityBytes == 0 {
		cfg.DiskCapacityBytes = defaultVirtualDiskCapacity
	}
	if cfg.BytesPerSec == 0 {
		cfg.BytesPerSec = defaultVirtualBytesPerSec
	}
	diskIDs := make(map[string]struct{}, len(cfg.DiskIDs))
	for _, id := range cfg.DiskIDs {
		diskIDs[id] = struct{}{}
	}
	return &virtualStore{
		cfg:     cfg,
		diskIDs: diskIDs,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *virtualStore) simulateIO(ctx context.Context, bytes uint64) error {
	delayMs := s.cfg.BaseLatencyMs
	if bytes > 0 {
		delayMs += (bytes + s.cfg.BytesPerSec - 1) / s.cfg.BytesPerSec * 1000
	}
	if s.cfg.JitterMs > 0 {
		s.lock.Lock()
		delayMs += uint64(s.rnd.Int63n(int64(s.cfg.JitterMs) + 1))
		s.lock.Unlock()
	}
	if delayMs == 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *virtualStore) checkDisk(diskID string) error {
	if _, ok := s.diskIDs[diskID]; !ok {
		return zerrors.ErrDiskDoesNotExist
	}
	return nil
}

func (s *virtualStore) Write(ctx context.Context, diskID, chunkID string, offset uint64, data []byte) error {
	if err := s.checkDisk(diskID); err != nil {
		return err
	}
	return s.simulateIO(ctx, uint64(len(data)))
}

func (s *virtualStore) Read(ctx context.Context, diskID, chunkID string, offset, size uint64) ([]byte, error) {
	if err := s.checkDisk(diskID); err != nil {
		return nil, err
	}
	if err := s.simulateIO(ctx, size); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 'x'
	}
	return data, nil
}

func (s *virtualStore) Delete(ctx context.Context, diskID, chunkID string) error {
	if err := s.checkDisk(diskID); err != nil {
		return err
	}
	return s.simulateIO(ctx, 0)
}

func (s *virtualStore) DiskReports() []proto.DiskReport {
	reports := make([]proto.DiskReport, 0, len(s.cfg.DiskIDs))
	for _, id := range s.cfg.DiskIDs {
		reports = append(reports, proto.DiskReport{
			DiskID:        id,
			MountPoint:    s.cfg.MountPointPrefix + "/" + id,
			CapacityBytes: s.cfg.DiskCapacityBytes,
			FreeBytes:     s.cfg.DiskCapacityBytes,
			IsHealthy:     true,
		})
	}
	return reports
}

func (s *virtualStore) Close() {}
