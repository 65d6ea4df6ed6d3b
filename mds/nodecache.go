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
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/zibofs/zibofs/proto"
)

const (
	minPickAttempts = 64
	maxPickAttempts = 1000000
)

// nodeInfo is one allocatable target as the cache sees it, derived from the
// scheduler's cluster view or from static seeding.
type nodeInfo struct {
	nodeID           string
	address          string
	groupID          string
	nodeType         proto.NodeType
	weight           uint32
	virtualNodeCount uint32
	nextVirtualIndex uint32
	allocatable      bool
	isPrimary        bool
	syncReady        bool
	epoch            uint64
	secondaryNodeID  string
	secondaryAddress string
	disks            []proto.NodeDiskView
	nextDiskIndex    int
}

// nodeSelection is one planned placement slot. For virtual nodes the id
// carries a logical suffix so one physical node exposes many slots.
type nodeSelection struct {
	NodeID           string
	Address          string
	NodeType         proto.NodeType
	GroupID          string
	Epoch            uint64
	DiskID           string
	SecondaryNodeID  string
	SecondaryAddress string
	SyncReady        bool
}

// nodeCache mirrors the scheduler's cluster view for allocation decisions.
// Selection state (cursor, repeat counter, per-node disk/virtual indexes)
// lives here so placement keeps rotating across refreshes.
type nodeCache struct {
	lock       sync.Mutex
	nodes      []*nodeInfo
	generation uint64

	cursor          int
	repeatRemaining uint32
}

func newNodeCache() *nodeCache {
	return &nodeCache{}
}

func (c *nodeCache) Generation() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.generation
}

// ApplyClusterView replaces the node vector when the generation advanced.
func (c *nodeCache) ApplyClusterView(view *proto.ClusterView) bool {
	if view == nil || len(view.Nodes) == 0 {
		return false
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if view.Generation <= c.generation {
		return false
	}

	nodes := make([]*nodeInfo, 0, len(view.Nodes))
	for i := range view.Nodes {
		v := &view.Nodes[i]
		n := &nodeInfo{
			nodeID:           v.NodeID,
			address:          v.Address,
			groupID:          v.GroupID,
			nodeType:         v.NodeType,
			weight:           v.Weight,
			virtualNodeCount: v.VirtualNodeCount,
			isPrimary:        v.Role == proto.NodeRolePrimary,
			syncReady:        v.SyncReady,
			epoch:            v.Epoch,
			disks:            v.Disks,
			allocatable:      v.Health == proto.NodeHealthy && v.Admin == proto.NodeAdminEnabled && v.Power == proto.NodePowerOn && hasHealthyDisk(v.Disks),
		}
		if n.groupID == "" {
			n.groupID = n.nodeID
		}
		if n.isPrimary {
			n.secondaryNodeID = v.PeerNodeID
			n.secondaryAddress = v.PeerAddress
		}
		nodes = append(nodes, n)
	}
	c.nodes = nodes
	c.generation = view.Generation
	if c.cursor >= len(nodes) {
		c.cursor = 0
	}
	c.repeatRemaining = 0
	return true
}

func hasHealthyDisk(disks []proto.NodeDiskView) bool {
	for _, d := range disks {
		if d.IsHealthy {
			return true
		}
	}
	return false
}

// Seed installs a static node table from config entries of the form
// "node_id@address,key=value,..." with keys type, weight, virtual_node_count,
// group and disk. Seeded nodes are allocatable primaries, the first cluster
// view from a live scheduler replaces them.
func (c *nodeCache) Seed(entries []string) error {
	nodes := make([]*nodeInfo, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ",")
		at := strings.Index(fields[0], "@")
		if at <= 0 || at == len(fields[0])-1 {
			return errors.Newf("invalid static node %q: want node_id@address", entry)
		}
		n := &nodeInfo{
			nodeID:      fields[0][:at],
			address:     fields[0][at+1:],
			weight:      1,
			allocatable: true,
			isPrimary:   true,
			epoch:       1,
		}
		diskID := "disk-01"
		for _, field := range fields[1:] {
			kv := strings.SplitN(strings.TrimSpace(field), "=", 2)
			if len(kv) != 2 {
				return errors.Newf("invalid static node attribute %q", field)
			}
			switch kv[0] {
			case "type":
				switch kv[1] {
				case "real":
					n.nodeType = proto.NodeTypeReal
				case "virtual":
					n.nodeType = proto.NodeTypeVirtual
				case "optical":
					n.nodeType = proto.NodeTypeOptical
				default:
					return errors.Newf("invalid static node type %q", kv[1])
				}
			case "weight":
				w, err := strconv.ParseUint(kv[1], 10, 32)
				if err != nil || w == 0 {
					return errors.Newf("invalid static node weight %q", kv[1])
				}
				n.weight = uint32(w)
			case "virtual_node_count":
				vc, err := strconv.ParseUint(kv[1], 10, 32)
				if err != nil || vc == 0 {
					return errors.Newf("invalid static virtual_node_count %q", kv[1])
				}
				n.virtualNodeCount = uint32(vc)
			case "group":
				n.groupID = kv[1]
			case "disk":
				diskID = kv[1]
			default:
				return errors.Newf("unknown static node attribute %q", kv[0])
			}
		}
		if n.groupID == "" {
			n.groupID = n.nodeID
		}
		n.disks = []proto.NodeDiskView{{DiskID: diskID, IsHealthy: true}}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return errors.New("no static nodes configured")
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.generation > 0 {
		return nil
	}
	c.nodes = nodes
	c.cursor = 0
	c.repeatRemaining = 0
	return nil
}

func (c *nodeCache) Snapshot() []nodeInfo {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]nodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, *n)
	}
	return out
}

func (c *nodeCache) matchLocked(n *nodeInfo, typeFilter proto.NodeType, strict bool) bool {
	if !n.allocatable || !n.isPrimary {
		return false
	}
	if strict {
		return n.nodeType == typeFilter
	}
	return n.nodeType != typeFilter
}

// nextSelectionLocked advances the weighted round-robin by one slot: the
// cursor stays on a node until its weight is spent, then moves on. Skipping
// an ineligible node resets the repeat counter so a node re-entering the
// rotation starts a fresh run.
func (c *nodeCache) nextSelectionLocked(typeFilter proto.NodeType, strict bool) *nodeSelection {
	for scanned := 0; scanned < len(c.nodes); scanned++ {
		n := c.nodes[c.cursor%len(c.nodes)]
		if !c.matchLocked(n, typeFilter, strict) {
			c.cursor = (c.cursor + 1) % len(c.nodes)
			c.repeatRemaining = 0
			continue
		}
		if c.repeatRemaining == 0 {
			c.repeatRemaining = n.weight
			if c.repeatRemaining == 0 {
				c.repeatRemaining = 1
			}
		}
		c.repeatRemaining--
		if c.repeatRemaining == 0 {
			c.cursor = (c.cursor + 1) % len(c.nodes)
		}
		return c.selectionLocked(n)
	}
	return nil
}

func (c *nodeCache) selectionLocked(n *nodeInfo) *nodeSelection {
	sel := &nodeSelection{
		NodeID:           n.nodeID,
		Address:          n.address,
		NodeType:         n.nodeType,
		GroupID:          n.groupID,
		Epoch:            n.epoch,
		SecondaryNodeID:  n.secondaryNodeID,
		SecondaryAddress: n.secondaryAddress,
		SyncReady:        n.syncReady,
	}
	virtualIndex := uint32(0)
	if n.nodeType == proto.NodeTypeVirtual && n.virtualNodeCount > 0 {
		virtualIndex = n.nextVirtualIndex % n.virtualNodeCount
		n.nextVirtualIndex++
		sel.NodeID = fmt.Sprintf("%s-v%d", n.nodeID, virtualIndex)
	}
	sel.DiskID = pickDisk(n, virtualIndex)
	return sel
}

func pickDisk(n *nodeInfo, virtualIndex uint32) string {
	if len(n.disks) == 0 {
		return "disk-01"
	}
	idx := (n.nextDiskIndex + int(virtualIndex)) % len(n.disks)
	n.nextDiskIndex = (n.nextDiskIndex + 1) % len(n.disks)
	return n.disks[idx].DiskID
}

// PickNodes returns up to count selections. With strict=false the filter
// type is excluded (the disk-tier pick), with strict=true only the filter
// type qualifies (the optical pick). Duplicate node ids are suppressed until
// every distinct logical slot has been used once, then duplicates fill the
// remainder.
func (c *nodeCache) PickNodes(count int, typeFilter proto.NodeType, strict bool) []*nodeSelection {
	if count <= 0 {
		return nil
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.nodes) == 0 {
		return nil
	}

	logicalCount := 0
	weightSum := 0
	for _, n := range c.nodes {
		if !c.matchLocked(n, typeFilter, strict) {
			continue
		}
		slots := 1
		if n.nodeType == proto.NodeTypeVirtual && n.virtualNodeCount > 1 {
			slots = int(n.virtualNodeCount)
		}
		logicalCount += slots
		weightSum += int(n.weight)
	}
	if logicalCount == 0 {
		return nil
	}

	uniqueTarget := count
	if logicalCount < uniqueTarget {
		uniqueTarget = logicalCount
	}
	maxAttempts := uniqueTarget * weightSum * 2
	if maxAttempts < minPickAttempts {
		maxAttempts = minPickAttempts
	}
	if maxAttempts > maxPickAttempts {
		maxAttempts = maxPickAttempts
	}

	selections := make([]*nodeSelection, 0, count)
	seen := make(map[string]struct{}, uniqueTarget)
	for attempt := 0; attempt < maxAttempts && len(selections) < count; attempt++ {
		sel := c.nextSelectionLocked(typeFilter, strict)
		if sel == nil {
			break
		}
		if len(seen) < uniqueTarget {
			if _, dup := seen[sel.NodeID]; dup {
				continue
			}
			seen[sel.NodeID] = struct{}{}
		}
		selections = append(selections, sel)
	}
	return selections
}
