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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

type fakeActuator struct {
	result ActuatorResult
	calls  []proto.OperationType
	force  []bool
}

func (a *fakeActuator) Execute(ctx context.Context, opType proto.OperationType, node *proto.NodeView, force bool) ActuatorResult {
	a.calls = append(a.calls, opType)
	a.force = append(a.force, force)
	return a.result
}

func TestRunOperationUnknownNode(t *testing.T) {
	s := newTestState()
	m := newLifecycleManager(s, nil)
	_, err := m.RunOperation(context.Background(), "ghost", proto.OpStart, false)
	require.Equal(t, errors.ErrNodeDoesNotExist, err)
}

func TestRunOperationWithoutActuator(t *testing.T) {
	s := newTestState()
	_, err := s.ReportHeartbeat(heartbeat("n1", "g1", proto.NodeRoleUnknown))
	require.NoError(t, err)

	m := newLifecycleManager(s, nil)
	op, err := m.RunOperation(context.Background(), "n1", proto.OpStop, false)
	require.NoError(t, err)
	require.Equal(t, proto.OpSucceeded, op.Status)
	require.Equal(t, "No actuator configured", op.Message)

	n, err := s.GetNode("n1")
	require.NoError(t, err)
	require.Equal(t, proto.NodePowerOff, n.Power)
	require.Equal(t, proto.NodeAdminDisabled, n.Admin)
	require.Equal(t, proto.NodePowerOff, n.DesiredPower)
}

func TestRunOperationStart(t *testing.T) {
	s := newTestState()
	_, err := s.ReportHeartbeat(heartbeat("n1", "g1", proto.NodeRoleUnknown))
	require.NoError(t, err)

	actuator := &fakeActuator{result: ActuatorResult{Success: true, Message: "ok"}}
	m := newLifecycleManager(s, actuator)

	op, err := m.RunOperation(context.Background(), "n1", proto.OpStart, false)
	require.NoError(t, err)
	require.Equal(t, proto.OpSucceeded, op.Status)
	require.Equal(t, []proto.OperationType{proto.OpStart}, actuator.calls)

	n, err := s.GetNode("n1")
	require.NoError(t, err)
	require.Equal(t, proto.NodePowerStarting, n.Power)
	require.Equal(t, proto.NodeAdminEnabled, n.Admin)
	require.Equal(t, proto.NodePowerOn, n.DesiredPower)
}

func TestRunOperationActuatorFailure(t *testing.T) {
	s := newTestState()
	_, err := s.ReportHeartbeat(heartbeat("n1", "g1", proto.NodeRoleUnknown))
	require.NoError(t, err)

	actuator := &fakeActuator{result: ActuatorResult{Success: false, Message: "Command failed with exit code: 3"}}
	m := newLifecycleManager(s, actuator)

	op, err := m.RunOperation(context.Background(), "n1", proto.OpReboot, true)
	require.NoError(t, err)
	require.Equal(t, proto.OpFailed, op.Status)
	require.Equal(t, "Command failed with exit code: 3", op.Message)
	require.Equal(t, []bool{true}, actuator.force)

	// transitional states hold when the actuator fails
	n, err := s.GetNode("n1")
	require.NoError(t, err)
	require.Equal(t, proto.NodePowerStopping, n.Power)
	require.Equal(t, proto.NodeAdminDraining, n.Admin)
}

func TestShellActuatorNoTemplate(t *testing.T) {
	a := newShellNodeActuator("", "", "")
	result := a.Execute(context.Background(), proto.OpStart, &proto.NodeView{NodeID: "n1"}, false)
	require.True(t, result.Success)
	require.Equal(t, "No command template configured, operation accepted", result.Message)
}

func TestShellActuatorSubstitution(t *testing.T) {
	a := newShellNodeActuator("test {node_id} = n1 -a {address} = a1 -a {force} = true", "", "")
	result := a.Execute(context.Background(), proto.OpStart, &proto.NodeView{NodeID: "n1", Address: "a1"}, true)
	require.True(t, result.Success)
	require.Contains(t, result.Message, "Command executed: ")
	require.Contains(t, result.Message, "test n1 = n1")
}

func TestShellActuatorExitCode(t *testing.T) {
	a := newShellNodeActuator("", "exit 3", "")
	result := a.Execute(context.Background(), proto.OpStop, &proto.NodeView{NodeID: "n1"}, false)
	require.False(t, result.Success)
	require.Equal(t, "Command failed with exit code: 3", result.Message)
}
