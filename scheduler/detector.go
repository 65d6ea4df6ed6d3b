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
	"github.com/zibofs/zibofs/proto"
)

const (
	defaultSuspectTimeoutMs = 6000
	defaultDeadTimeoutMs    = 15000
	defaultTickIntervalMs   = 1000
)

// failureDetector classifies a node from the age of its last heartbeat.
// A node the operator powered off on purpose is never flagged.
type failureDetector struct {
	suspectTimeoutMs uint64
	deadTimeoutMs    uint64
}

func newFailureDetector(suspectTimeoutMs, deadTimeoutMs uint64) *failureDetector {
	if suspectTimeoutMs == 0 {
		suspectTimeoutMs = defaultSuspectTimeoutMs
	}
	if deadTimeoutMs == 0 {
		deadTimeoutMs = defaultDeadTimeoutMs
	}
	return &failureDetector{
		suspectTimeoutMs: suspectTimeoutMs,
		deadTimeoutMs:    deadTimeoutMs,
	}
}

func (d *failureDetector) Evaluate(nowMs, lastHeartbeatMs uint64, desiredPower proto.PowerState) proto.HealthState {
	if desiredPower == proto.NodePowerOff {
		return proto.NodeHealthy
	}
	if lastHeartbeatMs == 0 || nowMs <= lastHeartbeatMs {
		return proto.NodeSuspect
	}
	elapsed := nowMs - lastHeartbeatMs
	if elapsed >= d.deadTimeoutMs {
		return proto.NodeDead
	}
	if elapsed >= d.suspectTimeoutMs {
		return proto.NodeSuspect
	}
	return proto.NodeHealthy
}
