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
	"fmt"
	"os/exec"
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zibofs/zibofs/proto"
)

// shellNodeActuator shells out to operator supplied command templates. The
// placeholders {node_id}, {address} and {force} are substituted before the
// command runs through /bin/sh.
type shellNodeActuator struct {
	startTemplate  string
	stopTemplate   string
	rebootTemplate string
}

func newShellNodeActuator(start, stop, reboot string) *shellNodeActuator {
	return &shellNodeActuator{
		startTemplate:  start,
		stopTemplate:   stop,
		rebootTemplate: reboot,
	}
}

func (a *shellNodeActuator) Execute(ctx context.Context, opType proto.OperationType, node *proto.NodeView, force bool) ActuatorResult {
	span := trace.SpanFromContextSafe(ctx)

	var template string
	switch opType {
	case proto.OpStart:
		template = a.startTemplate
	case proto.OpStop:
		template = a.stopTemplate
	case proto.OpReboot:
		template = a.rebootTemplate
	}
	if template == "" {
		return ActuatorResult{Success: true, Message: "No command template configured, operation accepted"}
	}

	forceValue := "false"
	if force {
		forceValue = "true"
	}
	cmdLine := strings.ReplaceAll(template, "{node_id}", node.NodeID)
	cmdLine = strings.ReplaceAll(cmdLine, "{address}", node.Address)
	cmdLine = strings.ReplaceAll(cmdLine, "{force}", forceValue)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdLine)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			span.Errorf("actuator command[%s] exit code %d", cmdLine, exitErr.ExitCode())
			return ActuatorResult{
				Success: false,
				Message: fmt.Sprintf("Command failed with exit code: %d", exitErr.ExitCode()),
			}
		}
		span.Errorf("actuator command[%s] failed: %s", cmdLine, err)
		return ActuatorResult{Success: false, Message: err.Error()}
	}
	return ActuatorResult{Success: true, Message: "Command executed: " + cmdLine}
}
