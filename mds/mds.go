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
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/common/kvstore"
)

const (
	defaultSchedulerRefreshMs = 2000
	defaultArchiveTrigger     = 10 << 30
	defaultArchiveTarget      = 8 << 30
	defaultColdFileTTLSec     = 3600
	defaultArchiveIntervalMs  = 5000
	defaultArchiveMaxChunks   = 64
)

type Config struct {
	DBPath string         `json:"db_path"`
	KVType kvstore.KVType `json:"kv_type"`
	Store  kvstore.Option `json:"store"`

	ChunkSizeBytes     uint64 `json:"chunk_size_bytes"`
	SchedulerRefreshMs uint64 `json:"scheduler_refresh_ms"`

	// StaticNodes seeds placement until the first scheduler cluster view
	// replaces it, entries of the form "node_id@address,type=virtual,weight=2".
	StaticNodes []string `json:"static_nodes"`

	EnableOpticalArchive     bool   `json:"enable_optical_archive"`
	ArchiveTriggerBytes      uint64 `json:"archive_trigger_bytes"`
	ArchiveTargetBytes       uint64 `json:"archive_target_bytes"`
	ColdFileTTLSec           uint64 `json:"cold_file_ttl_sec"`
	ArchiveScanIntervalMs    uint64 `json:"archive_scan_interval_ms"`
	ArchiveMaxChunksPerRound int    `json:"archive_max_chunks_per_round"`

	Scheduler        client.SchedulerConfig `json:"scheduler"`
	StorageTransport client.TransportConfig `json:"storage_transport"`
}

func (cfg *Config) fixup() {
	if cfg.KVType == "" {
		cfg.KVType = kvstore.RocksdbKVType
	}
	if cfg.ChunkSizeBytes == 0 {
		cfg.ChunkSizeBytes = defaultChunkSize
	}
	if cfg.SchedulerRefreshMs == 0 {
		cfg.SchedulerRefreshMs = defaultSchedulerRefreshMs
	}
	if cfg.ArchiveTriggerBytes == 0 {
		cfg.ArchiveTriggerBytes = defaultArchiveTrigger
	}
	if cfg.ArchiveTargetBytes == 0 {
		cfg.ArchiveTargetBytes = defaultArchiveTarget
	}
	if cfg.ColdFileTTLSec == 0 {
		cfg.ColdFileTTLSec = defaultColdFileTTLSec
	}
	if cfg.ArchiveScanIntervalMs == 0 {
		cfg.ArchiveScanIntervalMs = defaultArchiveIntervalMs
	}
	if cfg.ArchiveMaxChunksPerRound == 0 {
		cfg.ArchiveMaxChunksPerRound = defaultArchiveMaxChunks
	}
}

// MDS owns the namespace store, the placement cache and the background
// loops that keep both in sync with the cluster.
type MDS struct {
	cfg   *Config
	kv    kvstore.Store
	store *metaStore
	cache *nodeCache

	archiver     *archiveManager
	storageCli   *client.StorageClient
	schedulerCli *client.SchedulerClient

	done chan struct{}
}

func NewMDS(ctx context.Context, cfg *Config) (*MDS, error) {
	cfg.fixup()
	if cfg.DBPath == "" && cfg.KVType != kvstore.MemoryKVType {
		return nil, errors.New("db_path is required")
	}

	kv, err := kvstore.NewKVStore(ctx, cfg.DBPath, cfg.KVType, &cfg.Store)
	if err != nil {
		return nil, errors.Info(err, "open meta store")
	}

	cache := newNodeCache()
	if len(cfg.StaticNodes) > 0 {
		if err := cache.Seed(cfg.StaticNodes); err != nil {
			kv.Close()
			return nil, err
		}
	}

	store := newMetaStore(kv, newChunkAllocator(cache), cfg.ChunkSizeBytes)
	if err := store.EnsureRoot(ctx); err != nil {
		store.Close()
		kv.Close()
		return nil, err
	}

	m := &MDS{
		cfg:        cfg,
		kv:         kv,
		store:      store,
		cache:      cache,
		storageCli: client.NewStorageClient(&client.StorageConfig{Transport: cfg.StorageTransport}),
		done:       make(chan struct{}),
	}
	m.archiver = newArchiveManager(store, cache, m.storageCli, archiveOptions{
		triggerBytes:  cfg.ArchiveTriggerBytes,
		targetBytes:   cfg.ArchiveTargetBytes,
		coldTTLSec:    cfg.ColdFileTTLSec,
		maxChunks:     cfg.ArchiveMaxChunksPerRound,
		archiveEnable: cfg.EnableOpticalArchive,
	})

	if cfg.Scheduler.Address != "" {
		m.schedulerCli = client.NewSchedulerClient(&cfg.Scheduler)
		m.refreshLoop()
	}
	if cfg.EnableOpticalArchive || cfg.ColdFileTTLSec > 0 {
		m.archiveLoop()
	}
	return m, nil
}

// refreshLoop pulls cluster views from the scheduler and feeds the node
// cache. Generations already applied are skipped on the server side.
func (m *MDS) refreshLoop() {
	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	ticker := time.NewTicker(time.Duration(m.cfg.SchedulerRefreshMs) * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				view, err := m.schedulerCli.GetClusterView(ctx, m.cache.Generation()+1)
				if err != nil {
					span.Warnf("refresh cluster view failed: %s", err)
					continue
				}
				m.cache.ApplyClusterView(view)
			case <-m.done:
				span.Info("cluster view refresh loop exits")
				return
			}
		}
	}()
}

func (m *MDS) archiveLoop() {
	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	ticker := time.NewTicker(time.Duration(m.cfg.ArchiveScanIntervalMs) * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, _, err := m.archiver.RunOnce(ctx); err != nil {
					span.Warnf("archive round failed: %s", err)
				}
			case <-m.done:
				span.Info("archive loop exits")
				return
			}
		}
	}()
}

func (m *MDS) Close() {
	close(m.done)
	m.store.Close()
	m.kv.Close()
	m.storageCli.Close()
	if m.schedulerCli != nil {
		m.schedulerCli.Close()
	}
}
