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
	"path/filepath"
	"sort"
	"strings"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	zerrors "github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

type OpticalStoreConfig struct {
	// same "id:root;id:root" form as the real store, or a single data root
	DiskSpec string `json:"disks"`
	DataRoot string `json:"data_root"`
	DiskIDs  []string `json:"disk_ids"`

	MaxImageSizeBytes uint64 `json:"max_image_size_bytes"`
	CapacityBytes     uint64 `json:"capacity_bytes"`
}

// opticalStore serves the archive tier: one imageDisk per configured disk.
// Chunk writes land as whole records, the offset argument only applies to
// reads.
type opticalStore struct {
	disks map[string]*imageDisk
	order []string
}

func newOpticalStore(cfg *OpticalStoreConfig) (ChunkStore, error) {
	roots := make(map[string]string)
	switch {
	case cfg.DiskSpec != "":
		for _, entry := range strings.Split(cfg.DiskSpec, ";") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			idx := strings.Index(entry, ":")
			if idx < 0 {
				return nil, errors.Newf("invalid disk entry %q: missing ':'", entry)
			}
			diskID := strings.TrimSpace(entry[:idx])
			root := strings.TrimSpace(entry[idx+1:])
			if diskID == "" || root == "" {
				return nil, errors.Newf("invalid disk entry %q: empty field", entry)
			}
			roots[diskID] = root
		}
	case cfg.DataRoot != "":
		ids := cfg.DiskIDs
		if len(ids) == 0 {
			ids = []string{"disk-01"}
		}
		for _, id := range ids {
			roots[id] = filepath.Join(cfg.DataRoot, id)
		}
	default:
		return nil, errors.New("either disks or data_root must be set")
	}
	if len(roots) == 0 {
		return nil, errors.New("no disks configured")
	}

	s := &opticalStore{disks: make(map[string]*imageDisk, len(roots))}
	for diskID, root := range roots {
		d, err := openImageDisk(diskID, root, cfg.MaxImageSizeBytes, cfg.CapacityBytes)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.disks[diskID] = d
		s.order = append(s.order, diskID)
	}
	sort.Strings(s.order)
	return s, nil
}

func (s *opticalStore) disk(diskID string) (*imageDisk, error) {
	d, ok := s.disks[diskID]
	if !ok {
		return nil, zerrors.ErrDiskDoesNotExist
	}
	return d, nil
}

func (s *opticalStore) Write(ctx context.Context, diskID, chunkID string, offset uint64, data []byte) error {
	d, err := s.disk(diskID)
	if err != nil {
		return err
	}
	return d.WriteChunk(chunkID, data)
}

func (s *opticalStore) Read(ctx context.Context, diskID, chunkID string, offset, size uint64) ([]byte, error) {
	d, err := s.disk(diskID)
	if err != nil {
		return nil, err
	}
	return d.ReadChunk(chunkID, offset, size)
}

func (s *opticalStore) Delete(ctx context.Context, diskID, chunkID string) error {
	d, err := s.disk(diskID)
	if err != nil {
		return err
	}
	return d.DeleteChunk(chunkID)
}

func (s *opticalStore) DiskReports() []proto.DiskReport {
	reports := make([]proto.DiskReport, 0, len(s.order))
	for _, diskID := range s.order {
		d := s.disks[diskID]
		capacity, free := d.Usage()
		reports = append(reports, proto.DiskReport{
			DiskID:        diskID,
			MountPoint:    d.root,
			CapacityBytes: capacity,
			FreeBytes:     free,
			IsHealthy:     true,
		})
	}
	return reports
}

func (s *opticalStore) Close() {
	for _, d := range s.disks {
		d.Close()
	}
}
