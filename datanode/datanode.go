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
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/proto"
	"github.com/zibofs/zibofs/util"
)

const defaultHeartbeatIntervalMs = 1000

type Config struct {
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"` // real, virtual or optical
	Address          string `json:"address"`
	GroupID          string `json:"group_id"`
	Role             string `json:"role"` // primary or secondary hint
	PeerNodeID       string `json:"peer_node_id"`
	PeerAddress      string `json:"peer_address"`
	Weight           uint32 `json:"weight"`
	VirtualNodeCount uint32 `json:"virtual_node_count"`

	HeartbeatIntervalMs  uint64 `json:"heartbeat_interval_ms"`
	ReplicationTimeoutMs uint64 `json:"replication_timeout_ms"`

	Scheduler        client.SchedulerConfig `json:"scheduler"`
	StorageTransport client.TransportConfig `json:"storage_transport"`

	Real    *RealStoreConfig    `json:"real"`
	Virtual *VirtualStoreConfig `json:"virtual"`
	Optical *OpticalStoreConfig `json:"optical"`
}

func parseNodeType(s string) (proto.NodeType, error) {
	switch s {
	case "", "real":
		return proto.NodeTypeReal, nil
	case "virtual":
		return proto.NodeTypeVirtual, nil
	case "optical":
		return proto.NodeTypeOptical, nil
	default:
		return 0, errors.Newf("unknown node type %q", s)
	}
}

func parseRoleHint(s string) proto.NodeRole {
	switch s {
	case "primary":
		return proto.NodeRolePrimary
	case "secondary":
		return proto.NodeRoleSecondary
	default:
		return proto.NodeRoleUnknown
	}
}

// DataNode bundles the chunk store, the storage service and the heartbeat
// reporter of one node process.
type DataNode struct {
	cfg      *Config
	nodeType proto.NodeType
	store    ChunkStore
	service  *storageService

	schedulerCli *client.SchedulerClient

	done chan struct{}
}

func NewDataNode(ctx context.Context, cfg *Config) (*DataNode, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("node_id is required")
	}
	if cfg.Address == "" {
		return nil, errors.New("address is required")
	}
	nodeType, err := parseNodeType(cfg.NodeType)
	if err != nil {
		return nil, err
	}
	if cfg.HeartbeatIntervalMs == 0 {
		cfg.HeartbeatIntervalMs = defaultHeartbeatIntervalMs
	}

	var store ChunkStore
	switch nodeType {
	case proto.NodeTypeVirtual:
		vcfg := cfg.Virtual
		if vcfg == nil {
			vcfg = &VirtualStoreConfig{}
		}
		store = newVirtualStore(vcfg)
	case proto.NodeTypeOptical:
		if cfg.Optical == nil {
			return nil, errors.New("optical store config is required")
		}
		store, err = newOpticalStore(cfg.Optical)
	default:
		if cfg.Real == nil {
			return nil, errors.New("real store config is required")
		}
		store, err = newRealStore(cfg.Real)
	}
	if err != nil {
		return nil, err
	}

	storageCli := client.NewStorageClient(&client.StorageConfig{Transport: cfg.StorageTransport})
	node := &DataNode{
		cfg:      cfg,
		nodeType: nodeType,
		store:    store,
		service:  newStorageService(cfg.NodeID, store, storageCli, cfg.ReplicationTimeoutMs),
		done:     make(chan struct{}),
	}
	if cfg.PeerAddress != "" {
		node.service.ConfigureReplication(&client.ConfigureReplicationArgs{
			Enabled:     true,
			IsPrimary:   parseRoleHint(cfg.Role) != proto.NodeRoleSecondary,
			Epoch:       1,
			GroupID:     cfg.GroupID,
			PeerAddress: cfg.PeerAddress,
		})
	}
	if cfg.Scheduler.Address != "" {
		node.schedulerCli = client.NewSchedulerClient(&cfg.Scheduler)
		node.heartbeatLoop()
	}
	return node, nil
}

func (n *DataNode) buildHeartbeat() *proto.Heartbeat {
	return &proto.Heartbeat{
		NodeID:           n.cfg.NodeID,
		NodeType:         n.nodeType,
		Address:          n.cfg.Address,
		Weight:           n.cfg.Weight,
		VirtualNodeCount: n.cfg.VirtualNodeCount,
		ReportTsMs:       util.NowMs(),
		GroupID:          n.cfg.GroupID,
		Role:             parseRoleHint(n.cfg.Role),
		PeerNodeID:       n.cfg.PeerNodeID,
		PeerAddress:      n.cfg.PeerAddress,
		AppliedLsn:       n.service.AppliedLsn(),
		Disks:            n.store.DiskReports(),
	}
}

func (n *DataNode) heartbeatLoop() {
	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	ticker := time.NewTicker(time.Duration(n.cfg.HeartbeatIntervalMs) * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				assignment, err := n.schedulerCli.ReportHeartbeat(ctx, n.buildHeartbeat())
				if err != nil {
					span.Warnf("report heartbeat failed: %s", err)
					continue
				}
				n.service.ApplyAssignment(assignment)
			case <-n.done:
				span.Info("heartbeat loop exits")
				return
			}
		}
	}()
}

func (n *DataNode) Close() {
	close(n.done)
	n.store.Close()
	if n.schedulerCli != nil {
		n.schedulerCli.Close()
	}
}
