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

package client

import (
	"context"
	"fmt"

	"github.com/cubefs/cubefs/blobstore/common/rpc"

	"github.com/zibofs/zibofs/proto"
)

type GetClusterViewArgs struct {
	MinGeneration uint64 `json:"min_generation"`
}

type SetAdminStateArgs struct {
	NodeID     string           `json:"node_id"`
	AdminState proto.AdminState `json:"admin_state"`
}

type StartNodeArgs struct {
	NodeID string `json:"node_id"`
}

type StopNodeArgs struct {
	NodeID string `json:"node_id"`
	Force  bool   `json:"force"`
}

type RebootNodeArgs struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

type GetOperationArgs struct {
	OperationID string `json:"operation_id"`
}

type SchedulerConfig struct {
	Address   string          `json:"address"`
	Transport TransportConfig `json:"transport"`
}

type SchedulerClient struct {
	host string
	cli  rpc.Client
}

func NewSchedulerClient(cfg *SchedulerConfig) *SchedulerClient {
	return &SchedulerClient{
		host: hostURL(cfg.Address),
		cli:  newRPCClient(cfg.Transport),
	}
}

func (c *SchedulerClient) ReportHeartbeat(ctx context.Context, hb *proto.Heartbeat) (*proto.HeartbeatAssignment, error) {
	ret := new(proto.HeartbeatAssignment)
	if err := c.cli.PostWith(ctx, c.host+"/heartbeat", ret, hb); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *SchedulerClient) GetClusterView(ctx context.Context, minGeneration uint64) (*proto.ClusterView, error) {
	ret := new(proto.ClusterView)
	url := fmt.Sprintf("%s/cluster/view?min_generation=%d", c.host, minGeneration)
	if err := c.cli.GetWith(ctx, url, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *SchedulerClient) SetNodeAdminState(ctx context.Context, args *SetAdminStateArgs) error {
	return c.cli.PostWith(ctx, c.host+"/node/admin", nil, args)
}

func (c *SchedulerClient) StartNode(ctx context.Context, args *StartNodeArgs) (*proto.NodeOperation, error) {
	ret := new(proto.NodeOperation)
	if err := c.cli.PostWith(ctx, c.host+"/node/start", ret, args); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *SchedulerClient) StopNode(ctx context.Context, args *StopNodeArgs) (*proto.NodeOperation, error) {
	ret := new(proto.NodeOperation)
	if err := c.cli.PostWith(ctx, c.host+"/node/stop", ret, args); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *SchedulerClient) RebootNode(ctx context.Context, args *RebootNodeArgs) (*proto.NodeOperation, error) {
	ret := new(proto.NodeOperation)
	if err := c.cli.PostWith(ctx, c.host+"/node/reboot", ret, args); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *SchedulerClient) GetOperationStatus(ctx context.Context, operationID string) (*proto.NodeOperation, error) {
	ret := new(proto.NodeOperation)
	url := c.host + "/operation?operation_id=" + operationID
	if err := c.cli.GetWith(ctx, url, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *SchedulerClient) Close() {
	c.cli.Close()
}
