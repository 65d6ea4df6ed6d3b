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
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zibofs/zibofs/proto"
)

type ActuatorResult struct {
	Success bool
	Message string
}

// NodeActuator performs the platform side of a power operation. The
// transitional cluster states are published before it runs; the final states
// are applied only when it reports success.
type NodeActuator interface {
	Execute(ctx context.Context, opType proto.OperationType, node *proto.NodeView, force bool) ActuatorResult
}

type lifecycleManager struct {
	state    *clusterState
	actuator NodeActuator
}

func newLifecycleManager(state *clusterState, actuator NodeActuator) *lifecycleManager {
	return &lifecycleManager{state: state, actuator: actuator}
}

// RunOperation drives one node through a start, stop or reboot. Transitional
// states are published before the actuator runs so pollers see the node
// leaving service immediately.
func (m *lifecycleManager) RunOperation(ctx context.Context, nodeID string, opType proto.OperationType, force bool) (*proto.NodeOperation, error) {
	span := trace.SpanFromContextSafe(ctx)

	node, err := m.state.GetNode(nodeID)
	if err != nil {
		span.Warnf("operation on unknown node[%s]: %s", nodeID, err)
		return nil, err
	}

	op := m.state.CreateOperation(nodeID, opType)

	m.state.SetNodeStates(nodeID, func(n *proto.NodeView) {
		switch opType {
		case proto.OpStop:
			n.Admin = proto.NodeAdminDraining
			n.DesiredAdmin = proto.NodeAdminDraining
			n.DesiredPower = proto.NodePowerOff
			n.Power = proto.NodePowerStopping
		case proto.OpStart:
			n.DesiredPower = proto.NodePowerOn
			n.Power = proto.NodePowerStarting
			n.Admin = proto.NodeAdminEnabled
			n.DesiredAdmin = proto.NodeAdminEnabled
		case proto.OpReboot:
			n.DesiredPower = proto.NodePowerOn
			n.Power = proto.NodePowerStopping
			n.Admin = proto.NodeAdminDraining
			n.DesiredAdmin = proto.NodeAdminDraining
		}
	})

	result := ActuatorResult{Success: true, Message: "No actuator configured"}
	if m.actuator != nil {
		result = m.actuator.Execute(ctx, opType, node, force)
	}
	if !result.Success {
		span.Errorf("operation[%s] on node[%s] failed: %s", op.OperationID, nodeID, result.Message)
		m.state.UpdateOperation(op.OperationID, proto.OpFailed, result.Message)
		return m.state.GetOperation(op.OperationID)
	}

	m.state.SetNodeStates(nodeID, func(n *proto.NodeView) {
		switch opType {
		case proto.OpStop:
			n.Power = proto.NodePowerOff
			n.Admin = proto.NodeAdminDisabled
			n.DesiredAdmin = proto.NodeAdminDisabled
		case proto.OpStart:
			n.Power = proto.NodePowerStarting
		case proto.OpReboot:
			n.Power = proto.NodePowerStarting
			n.Admin = proto.NodeAdminEnabled
			n.DesiredAdmin = proto.NodeAdminEnabled
		}
	})
	m.state.UpdateOperation(op.OperationID, proto.OpSucceeded, result.Message)

	return m.state.GetOperation(op.OperationID)
}
