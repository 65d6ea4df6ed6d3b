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
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/metrics"
	"github.com/zibofs/zibofs/proto"
	"github.com/zibofs/zibofs/util"
)

// chunkIO is the slice of the storage api the archiver needs.
type chunkIO interface {
	WriteChunk(ctx context.Context, addr string, args *client.WriteChunkArgs, data []byte) error
	ReadChunk(ctx context.Context, addr string, args *client.ReadChunkArgs) ([]byte, error)
	DeleteChunk(ctx context.Context, addr string, args *client.DeleteChunkArgs) error
}

type archiveOptions struct {
	triggerBytes  uint64
	targetBytes   uint64
	coldTTLSec    uint64
	maxChunks     int
	archiveEnable bool
}

func (o *archiveOptions) sanitize() {
	if o.targetBytes > o.triggerBytes {
		o.targetBytes = o.triggerBytes
	}
	if o.maxChunks <= 0 {
		o.maxChunks = 1
	}
}

// archiveManager moves chunk copies onto the optical tier once the disk
// tier fills past the trigger mark and evicts the disk copies of cold
// files that already have a safe optical replica. The hysteresis window
// (trigger on, target off) keeps the archiver from flapping around one
// threshold.
type archiveManager struct {
	store *metaStore
	cache *nodeCache
	cli   chunkIO
	opts  archiveOptions

	// archiveMode latches between rounds so usage oscillating inside the
	// window does not toggle archiving on and off.
	archiveMode bool
}

func newArchiveManager(store *metaStore, cache *nodeCache, cli chunkIO, opts archiveOptions) *archiveManager {
	opts.sanitize()
	return &archiveManager{store: store, cache: cache, cli: cli, opts: opts}
}

// updateMode recomputes the hysteresis latch from the most loaded
// allocatable disk-tier node. No usable disk means no archiving.
func (m *archiveManager) updateMode() bool {
	var maxUsed uint64
	seen := false
	for _, n := range m.cache.Snapshot() {
		if !n.allocatable || !n.isPrimary || n.nodeType == proto.NodeTypeOptical {
			continue
		}
		for _, d := range n.disks {
			if !d.IsHealthy || d.CapacityBytes == 0 {
				continue
			}
			used := uint64(0)
			if d.CapacityBytes > d.FreeBytes {
				used = d.CapacityBytes - d.FreeBytes
			}
			if !seen || used > maxUsed {
				maxUsed = used
			}
			seen = true
		}
	}
	if !seen {
		m.archiveMode = false
		return false
	}
	if maxUsed >= m.opts.triggerBytes {
		m.archiveMode = true
	} else if maxUsed <= m.opts.targetBytes {
		m.archiveMode = false
	}
	return m.archiveMode
}

func hasTier(replicas []proto.ReplicaLocation, tier proto.StorageTier) bool {
	for _, r := range replicas {
		if r.StorageTier == tier && r.ReplicaState == proto.ReplicaReady {
			return true
		}
	}
	return false
}

// readAddrs lists the addresses to try for one replica, primary first.
func readAddrs(r *proto.ReplicaLocation) []string {
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

// RunOnce performs one archive scan: refresh the hysteresis latch, copy up
// to maxChunks disk-only chunks onto optical nodes, then evict the disk
// copies of cold files that are safe on optical. All meta updates land in
// one batch so a crashed round never leaves a chunk half-recorded.
func (m *archiveManager) RunOnce(ctx context.Context) (archived, evicted int, err error) {
	span := trace.SpanFromContextSafe(ctx)

	archiving := m.opts.archiveEnable && m.updateMode()
	evicting := m.opts.coldTTLSec > 0
	if !archiving && !evicting {
		return 0, 0, nil
	}

	now := util.NowSec()
	batch := m.store.kv.NewWriteBatch()
	defer batch.Close()
	attrs := make(map[uint64]*proto.InodeAttr)

	iter := m.store.kv.List(ctx, chunkScanPrefix())
	defer iter.Close()
	for {
		key, value, ierr := iter.Next()
		if ierr != nil {
			return archived, evicted, errors.NewIO(ierr)
		}
		if key == nil {
			break
		}
		inodeID, index, perr := parseChunkKey(key)
		if perr != nil {
			span.Warnf("skip malformed chunk key %q: %v", key, perr)
			continue
		}
		meta, derr := decodeChunkMeta(value)
		if derr != nil {
			span.Warnf("skip undecodable chunk %d/%d: %v", inodeID, index, derr)
			continue
		}
		attr, ok := attrs[inodeID]
		if !ok {
			record, gerr := m.store.getInode(ctx, inodeID)
			if gerr != nil {
				// Orphan meta, unlink reclamation races the scan.
				continue
			}
			attr = &record.attr
			attrs[inodeID] = attr
		}

		modified := false
		if archiving && archived < m.opts.maxChunks && !hasTier(meta.Replicas, proto.StorageTierOptical) {
			if m.archiveChunk(ctx, attr, meta) {
				archived++
				modified = true
				metrics.ArchivedChunks.Inc()
			}
		}
		if evicting && attr.Atime > 0 && attr.Atime+m.opts.coldTTLSec <= now {
			if n := m.evictDiskReplicas(ctx, meta); n > 0 {
				evicted += n
				modified = true
			}
		}
		if modified {
			encoded, eerr := encodeChunkMeta(meta)
			if eerr != nil {
				return archived, evicted, eerr
			}
			batch.Put(chunkKey(inodeID, index), encoded)
		}
		if archived >= m.opts.maxChunks && !evicting {
			break
		}
	}

	if batch.Count() > 0 {
		if werr := m.store.kv.Write(ctx, batch); werr != nil {
			return archived, evicted, errors.NewIO(werr)
		}
	}
	if archived > 0 || evicted > 0 {
		span.Infof("archive round done: archived %d, evicted %d", archived, evicted)
	}
	return archived, evicted, nil
}

// archiveChunk copies one chunk from its disk tier onto an optical node and
// appends the optical replica to the meta. The chunk id is reused so the
// optical copy is addressed the same way on its own tier.
func (m *archiveManager) archiveChunk(ctx context.Context, attr *proto.InodeAttr, meta *proto.ChunkMeta) bool {
	span := trace.SpanFromContextSafe(ctx)

	var source *proto.ReplicaLocation
	for i := range meta.Replicas {
		r := &meta.Replicas[i]
		if r.StorageTier == proto.StorageTierDisk && r.ReplicaState == proto.ReplicaReady {
			source = r
			break
		}
	}
	if source == nil {
		return false
	}
	targets := m.cache.PickNodes(1, proto.NodeTypeOptical, true)
	if len(targets) == 0 {
		return false
	}
	target := targets[0]

	size := attr.ChunkSize
	if size == 0 {
		size = defaultChunkSize
	}
	var data []byte
	var err error
	for _, addr := range readAddrs(source) {
		data, err = m.cli.ReadChunk(ctx, addr, &client.ReadChunkArgs{
			DiskID:  source.DiskID,
			ChunkID: source.ChunkID,
			Size:    size,
		})
		if err == nil {
			break
		}
	}
	if err != nil || data == nil {
		span.Warnf("archive read %s failed: %v", source.ChunkID, err)
		return false
	}
	err = m.cli.WriteChunk(ctx, target.Address, &client.WriteChunkArgs{
		DiskID:  target.DiskID,
		ChunkID: source.ChunkID,
		Epoch:   target.Epoch,
	}, data)
	if err != nil {
		span.Warnf("archive write %s to %s failed: %v", source.ChunkID, target.NodeID, err)
		return false
	}
	meta.Replicas = append(meta.Replicas, proto.ReplicaLocation{
		NodeID:           target.NodeID,
		NodeAddress:      target.Address,
		DiskID:           target.DiskID,
		ChunkID:          source.ChunkID,
		Size:             uint64(len(data)),
		GroupID:          target.GroupID,
		Epoch:            target.Epoch,
		PrimaryNodeID:    target.NodeID,
		PrimaryAddress:   target.Address,
		SecondaryNodeID:  target.SecondaryNodeID,
		SecondaryAddress: target.SecondaryAddress,
		SyncReady:        target.SyncReady,
		StorageTier:      proto.StorageTierOptical,
		ReplicaState:     proto.ReplicaReady,
	})
	return true
}

// evictDiskReplicas drops the disk copies of a chunk that is safe on the
// optical tier. Replicas whose delete rpc failed stay in the meta and get
// retried on a later round.
func (m *archiveManager) evictDiskReplicas(ctx context.Context, meta *proto.ChunkMeta) int {
	if !hasTier(meta.Replicas, proto.StorageTierOptical) {
		return 0
	}
	span := trace.SpanFromContextSafe(ctx)

	type target struct {
		index int
		addr  string
	}
	var targets []target
	for i := range meta.Replicas {
		r := &meta.Replicas[i]
		if r.StorageTier != proto.StorageTierDisk {
			continue
		}
		addrs := readAddrs(r)
		if len(addrs) == 0 {
			continue
		}
		targets = append(targets, target{index: i, addr: addrs[0]})
	}
	if len(targets) == 0 {
		return 0
	}

	dropped := make([]bool, len(meta.Replicas))
	var wg sync.WaitGroup
	var lock sync.Mutex
	for _, t := range targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := &meta.Replicas[t.index]
			err := m.cli.DeleteChunk(ctx, t.addr, &client.DeleteChunkArgs{
				DiskID:  r.DiskID,
				ChunkID: r.ChunkID,
			})
			if err != nil {
				span.Warnf("evict %s on %s failed: %v", r.ChunkID, r.NodeID, err)
				return
			}
			lock.Lock()
			dropped[t.index] = true
			lock.Unlock()
		}()
	}
	wg.Wait()

	kept := meta.Replicas[:0]
	evicted := 0
	for i := range meta.Replicas {
		if dropped[i] {
			evicted++
			continue
		}
		kept = append(kept, meta.Replicas[i])
	}
	meta.Replicas = kept
	return evicted
}
