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
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zibofs/zibofs/util"
)

type Config struct {
	SuspectTimeoutMs uint64 `json:"suspect_timeout_ms"`
	DeadTimeoutMs    uint64 `json:"dead_timeout_ms"`
	TickIntervalMs   uint64 `json:"tick_interval_ms"`

	StartCmdTemplate  string `json:"start_cmd_template"`
	StopCmdTemplate   string `json:"stop_cmd_template"`
	RebootCmdTemplate string `json:"reboot_cmd_template"`
}

// Scheduler tracks data node membership and drives group failover. It is a
// single authoritative process, cluster state lives in memory and is rebuilt
// from heartbeats after a restart.
type Scheduler struct {
	cfg       *Config
	state     *clusterState
	lifecycle *lifecycleManager

	done chan struct{}
}

func NewScheduler(ctx context.Context, cfg *Config) *Scheduler {
	if cfg.TickIntervalMs == 0 {
		cfg.TickIntervalMs = defaultTickIntervalMs
	}
	state := newClusterState(newFailureDetector(cfg.SuspectTimeoutMs, cfg.DeadTimeoutMs))

	var actuator NodeActuator
	if cfg.StartCmdTemplate != "" || cfg.StopCmdTemplate != "" || cfg.RebootCmdTemplate != "" {
		actuator = newShellNodeActuator(cfg.StartCmdTemplate, cfg.StopCmdTemplate, cfg.RebootCmdTemplate)
	}

	s := &Scheduler{
		cfg:       cfg,
		state:     state,
		lifecycle: newLifecycleManager(state, actuator),
		done:      make(chan struct{}),
	}
	s.loop()
	return s
}

func (s *Scheduler) loop() {
	span, _ := trace.StartSpanFromContext(context.Background(), "")
	ticker := time.NewTicker(time.Duration(s.cfg.TickIntervalMs) * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.state.TickHealth(util.NowMs())
			case <-s.done:
				span.Info("scheduler tick loop exits")
				return
			}
		}
	}()
}

func (s *Scheduler) Close() {
	close(s.done)
}
