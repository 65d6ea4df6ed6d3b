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

package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/metrics"
	"github.com/zibofs/zibofs/proto"
	"github.com/zibofs/zibofs/util"
)

type groupState struct {
	primaryID   string
	secondaryID string
	epoch       uint64
	syncReady   bool
}

// clusterState is the scheduler's authoritative membership table. One mutex
// covers nodes, groups, operations and the generation counter. The epoch of a
// group only moves in maybeFailoverLocked.
type clusterState struct {
	detector *failureDetector

	lock       sync.RWMutex
	nodes      map[string]*proto.NodeView
	groups     map[string]*groupState
	operations map[string]*proto.NodeOperation
	opCounter  uint64
	generation uint64
}

func newClusterState(detector *failureDetector) *clusterState {
	return &clusterState{
		detector:   detector,
		nodes:      make(map[string]*proto.NodeView),
		groups:     make(map[string]*groupState),
		operations: make(map[string]*proto.NodeOperation),
	}
}

func (s *clusterState) ReportHeartbeat(hb *proto.Heartbeat) (*proto.HeartbeatAssignment, error) {
	if hb.NodeID == "" {
		return nil, errors.ErrInvalidArgument
	}

	nowMs := util.NowMs()
	reportMs := hb.ReportTsMs
	if reportMs == 0 {
		reportMs = nowMs
	}
	groupID := hb.GroupID
	if groupID == "" {
		groupID = hb.NodeID
	}
	weight := hb.Weight
	if weight == 0 {
		weight = 1
	}
	virtualCount := hb.VirtualNodeCount
	if virtualCount == 0 {
		virtualCount = 1
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	n, ok := s.nodes[hb.NodeID]
	if !ok {
		n = &proto.NodeView{
			NodeID:       hb.NodeID,
			Admin:        proto.NodeAdminEnabled,
			Power:        proto.NodePowerOn,
			DesiredAdmin: proto.NodeAdminEnabled,
			DesiredPower: proto.NodePowerOn,
		}
		s.nodes[hb.NodeID] = n
	}

	n.NodeType = hb.NodeType
	n.Address = hb.Address
	n.Weight = weight
	n.VirtualNodeCount = virtualCount
	n.GroupID = groupID
	n.PeerNodeID = hb.PeerNodeID
	n.PeerAddress = hb.PeerAddress
	n.AppliedLsn = hb.AppliedLsn
	n.LastHeartbeatMs = reportMs
	// a heartbeat is direct proof of liveness, no detector involved
	n.Health = proto.NodeHealthy
	if n.DesiredPower == proto.NodePowerOn {
		n.Power = proto.NodePowerOn
	}
	n.Disks = n.Disks[:0]
	for _, d := range hb.Disks {
		n.Disks = append(n.Disks, proto.NodeDiskView{
			DiskID:        d.DiskID,
			CapacityBytes: d.CapacityBytes,
			FreeBytes:     d.FreeBytes,
			IsHealthy:     d.IsHealthy,
			LastUpdateMs:  nowMs,
		})
	}

	g, ok := s.groups[groupID]
	if !ok {
		g = &groupState{epoch: 1}
		if hb.Role == proto.NodeRoleSecondary {
			g.secondaryID = hb.NodeID
		} else {
			g.primaryID = hb.NodeID
		}
		s.groups[groupID] = g
	}
	s.reconcileGroupLocked(groupID)
	s.generation++

	return s.assignmentLocked(hb.NodeID, groupID), nil
}

func (s *clusterState) assignmentLocked(nodeID, groupID string) *proto.HeartbeatAssignment {
	g := s.groups[groupID]
	assignment := &proto.HeartbeatAssignment{
		Generation:      s.generation,
		GroupID:         groupID,
		AssignedRole:    proto.NodeRoleUnknown,
		Epoch:           g.epoch,
		PrimaryNodeID:   g.primaryID,
		SecondaryNodeID: g.secondaryID,
	}
	if primary, ok := s.nodes[g.primaryID]; ok {
		assignment.PrimaryAddress = primary.Address
	}
	if secondary, ok := s.nodes[g.secondaryID]; ok {
		assignment.SecondaryAddress = secondary.Address
	}
	switch nodeID {
	case g.primaryID:
		assignment.AssignedRole = proto.NodeRolePrimary
	case g.secondaryID:
		assignment.AssignedRole = proto.NodeRoleSecondary
	}
	return assignment
}

func (s *clusterState) groupMembersLocked(groupID string) []string {
	members := make([]string, 0, 2)
	for id, n := range s.nodes {
		if n.GroupID == groupID {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return members
}

func primaryEligible(n *proto.NodeView) bool {
	return n.Health == proto.NodeHealthy &&
		n.Admin == proto.NodeAdminEnabled &&
		n.Power == proto.NodePowerOn
}

func secondaryEligible(n *proto.NodeView) bool {
	return n.Health == proto.NodeHealthy &&
		n.Power == proto.NodePowerOn &&
		n.Admin != proto.NodeAdminDisabled
}

// reconcileGroupLocked repairs the role table of one group: dangling ids are
// dropped, vacant roles are filled from eligible members, and the resulting
// role, epoch and sync flag are stamped onto every member view.
func (s *clusterState) reconcileGroupLocked(groupID string) {
	g, ok := s.groups[groupID]
	if !ok {
		return
	}
	members := s.groupMembersLocked(groupID)
	memberSet := make(map[string]struct{}, len(members))
	for _, id := range members {
		memberSet[id] = struct{}{}
	}

	if _, ok := memberSet[g.primaryID]; !ok {
		g.primaryID = ""
	}
	if _, ok := memberSet[g.secondaryID]; !ok {
		g.secondaryID = ""
	}

	if g.primaryID == "" {
		for _, id := range members {
			if id == g.secondaryID {
				continue
			}
			if primaryEligible(s.nodes[id]) {
				g.primaryID = id
				break
			}
		}
	}
	if g.secondaryID == "" {
		for _, id := range members {
			if id == g.primaryID {
				continue
			}
			if secondaryEligible(s.nodes[id]) {
				g.secondaryID = id
				break
			}
		}
	}
	if g.primaryID != "" && g.primaryID == g.secondaryID {
		g.secondaryID = ""
	}

	g.syncReady = false
	if g.primaryID != "" && g.secondaryID != "" {
		if secondary, ok := s.nodes[g.secondaryID]; ok && secondaryEligible(secondary) {
			g.syncReady = true
		}
	}

	for _, id := range members {
		n := s.nodes[id]
		switch id {
		case g.primaryID:
			n.Role = proto.NodeRolePrimary
		case g.secondaryID:
			n.Role = proto.NodeRoleSecondary
		default:
			n.Role = proto.NodeRoleUnknown
		}
		n.Epoch = g.epoch
		n.SyncReady = g.syncReady
		if peer, ok := s.nodes[n.PeerNodeID]; ok {
			n.PeerAddress = peer.Address
		}
	}
}

// maybeFailoverLocked promotes the secondary when the primary went bad. This
// is the only place a group epoch advances.
func (s *clusterState) maybeFailoverLocked(groupID string) bool {
	g, ok := s.groups[groupID]
	if !ok {
		return false
	}
	primary, primaryOk := s.nodes[g.primaryID]
	secondary, secondaryOk := s.nodes[g.secondaryID]
	if primaryOk && primaryEligible(primary) {
		return false
	}
	if !secondaryOk || !secondaryEligible(secondary) {
		return false
	}
	g.primaryID, g.secondaryID = g.secondaryID, g.primaryID
	g.epoch++
	metrics.FailoverTotal.Inc()
	return true
}

// TickHealth runs the periodic sweep: re-evaluate every node's health and
// power, then give every group a failover chance. The generation only moves
// when something observable changed.
func (s *clusterState) TickHealth(nowMs uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	changed := false
	healthCount := make(map[proto.HealthState]int, 3)
	for _, n := range s.nodes {
		health := s.detector.Evaluate(nowMs, n.LastHeartbeatMs, n.DesiredPower)
		if health != n.Health {
			n.Health = health
			changed = true
		}
		if n.DesiredPower == proto.NodePowerOff &&
			nowMs > n.LastHeartbeatMs &&
			nowMs-n.LastHeartbeatMs >= s.detector.deadTimeoutMs {
			if n.Power != proto.NodePowerOff {
				n.Power = proto.NodePowerOff
				changed = true
			}
		} else if n.Health == proto.NodeHealthy && n.Power != proto.NodePowerOn {
			n.Power = proto.NodePowerOn
			changed = true
		}
		healthCount[n.Health]++
	}

	groupIDs := make([]string, 0, len(s.groups))
	for id := range s.groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)
	for _, id := range groupIDs {
		if s.maybeFailoverLocked(id) {
			changed = true
		}
		s.reconcileGroupLocked(id)
	}

	if changed {
		s.generation++
	}

	for _, health := range []proto.HealthState{proto.NodeHealthy, proto.NodeSuspect, proto.NodeDead} {
		metrics.ClusterNodes.WithLabelValues(health.String()).Set(float64(healthCount[health]))
	}
}

// Snapshot returns the cluster view. Callers polling for changes pass the
// generation after the one they already hold and get an empty node list back
// when the current generation is older than minGeneration.
func (s *clusterState) Snapshot(minGeneration uint64) *proto.ClusterView {
	s.lock.RLock()
	defer s.lock.RUnlock()

	view := &proto.ClusterView{Generation: s.generation}
	if s.generation < minGeneration {
		return view
	}
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	view.Nodes = make([]proto.NodeView, 0, len(ids))
	for _, id := range ids {
		n := *s.nodes[id]
		n.Disks = append([]proto.NodeDiskView(nil), s.nodes[id].Disks...)
		view.Nodes = append(view.Nodes, n)
	}
	return view
}

func (s *clusterState) GetNode(nodeID string) (*proto.NodeView, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, errors.ErrNodeDoesNotExist
	}
	view := *n
	view.Disks = append([]proto.NodeDiskView(nil), n.Disks...)
	return &view, nil
}

func (s *clusterState) SetAdminState(nodeID string, state proto.AdminState) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return errors.ErrNodeDoesNotExist
	}
	n.Admin = state
	n.DesiredAdmin = state
	s.reconcileGroupLocked(n.GroupID)
	s.generation++
	return nil
}

func (s *clusterState) SetNodeStates(nodeID string, mutate func(n *proto.NodeView)) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return errors.ErrNodeDoesNotExist
	}
	mutate(n)
	s.reconcileGroupLocked(n.GroupID)
	s.generation++
	return nil
}

func (s *clusterState) CreateOperation(nodeID string, opType proto.OperationType) *proto.NodeOperation {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.opCounter++
	op := &proto.NodeOperation{
		OperationID: fmt.Sprintf("op-%d", s.opCounter),
		NodeID:      nodeID,
		Type:        opType,
		Status:      proto.OpRunning,
		StartTsMs:   util.NowMs(),
	}
	s.operations[op.OperationID] = op
	return op
}

func (s *clusterState) UpdateOperation(operationID string, status proto.OperationStatus, message string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	op, ok := s.operations[operationID]
	if !ok {
		return errors.ErrNotFound
	}
	op.Status = status
	op.Message = message
	if status.Terminal() {
		op.FinishTsMs = util.NowMs()
	}
	return nil
}

func (s *clusterState) GetOperation(operationID string) (*proto.NodeOperation, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	op, ok := s.operations[operationID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	view := *op
	return &view, nil
}
