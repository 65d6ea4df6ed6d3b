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
	"io"
	"os"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	zerrors "github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
	"github.com/zibofs/zibofs/util"
	"github.com/zibofs/zibofs/util/limiter"
)

type RealStoreConfig struct {
	// "disk-01:/mnt/disk1;disk-02:/mnt/disk2", wins over DataRoot
	DiskSpec string `json:"disks"`
	DataRoot string `json:"data_root"`

	ReadConcurrency  int `json:"read_concurrency"`
	WriteConcurrency int `json:"write_concurrency"`
	ReadMBPS         int `json:"read_mbps"`
	WriteMBPS        int `json:"write_mbps"`
}

// realStore keeps chunks as plain files under hex-sharded directories, one
// tree per disk. IO goes through the node wide limiter.
type realStore struct {
	disks    *diskManager
	resolver *pathResolver
	lim      limiter.Limiter
}

func newRealStore(cfg *RealStoreConfig) (ChunkStore, error) {
	disks := newDiskManager()
	switch {
	case cfg.DiskSpec != "":
		if err := disks.InitFromConfig(cfg.DiskSpec); err != nil {
			return nil, err
		}
	case cfg.DataRoot != "":
		if err := disks.InitFromDataRoot(cfg.DataRoot); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("either disks or data_root must be set")
	}
	return &realStore{
		disks:    disks,
		resolver: newPathResolver(),
		lim: limiter.NewLimiter(limiter.LimitConfig{
			ReadConcurrency:  cfg.ReadConcurrency,
			WriteConcurrency: cfg.WriteConcurrency,
			ReadMBPS:         cfg.ReadMBPS,
			WriteMBPS:        cfg.WriteMBPS,
		}),
	}, nil
}

type offsetWriter struct {
	f   *os.File
	off int64
}

func (w *offsetWriter) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.off)
	w.off += int64(n)
	return n, err
}

func (s *realStore) Write(ctx context.Context, diskID, chunkID string, offset uint64, data []byte) error {
	mountPoint := s.disks.GetMountPoint(diskID)
	if mountPoint == "" {
		return zerrors.ErrDiskDoesNotExist
	}
	path, err := s.resolver.Resolve(mountPoint, chunkID)
	if err != nil {
		return err
	}

	if err := s.lim.AcquireWrite(); err != nil {
		return err
	}
	defer s.lim.ReleaseWrite()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := s.lim.Writer(ctx, &offsetWriter{f: f, off: int64(offset)})
	_, err = w.Write(data)
	return err
}

func (s *realStore) Read(ctx context.Context, diskID, chunkID string, offset, size uint64) ([]byte, error) {
	mountPoint := s.disks.GetMountPoint(diskID)
	if mountPoint == "" {
		return nil, zerrors.ErrDiskDoesNotExist
	}
	path, err := s.resolver.Resolve(mountPoint, chunkID)
	if err != nil {
		return nil, err
	}

	if err := s.lim.AcquireRead(); err != nil {
		return nil, err
	}
	defer s.lim.ReleaseRead()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, zerrors.ErrChunkDoesNotExist
		}
		return nil, err
	}
	defer f.Close()

	buf := util.GetBuffer(int(size))
	r := s.lim.Reader(ctx, io.NewSectionReader(f, int64(offset), int64(size)))
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

func (s *realStore) Delete(ctx context.Context, diskID, chunkID string) error {
	mountPoint := s.disks.GetMountPoint(diskID)
	if mountPoint == "" {
		return zerrors.ErrDiskDoesNotExist
	}
	path, err := s.resolver.Resolve(mountPoint, chunkID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return zerrors.ErrChunkDoesNotExist
		}
		return err
	}
	return nil
}

func (s *realStore) DiskReports() []proto.DiskReport {
	s.disks.Refresh()
	return s.disks.Reports()
}

func (s *realStore) Close() {}
