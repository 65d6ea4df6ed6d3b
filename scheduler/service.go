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
	"net/http"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/proto"
)

func (s *Scheduler) NewHandler() *rpc.Router {
	r := rpc.New()
	r.Handle(http.MethodPost, "/heartbeat", s.ReportHeartbeat, rpc.OptArgsBody())
	r.Handle(http.MethodGet, "/cluster/view", s.GetClusterView, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/node/admin", s.SetNodeAdminState, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/node/start", s.StartNode, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/node/stop", s.StopNode, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/node/reboot", s.RebootNode, rpc.OptArgsBody())
	r.Handle(http.MethodGet, "/operation", s.GetOperationStatus, rpc.OptArgsQuery())
	return r
}

// wireError maps internal sentinel errors onto coded rpc errors.
func wireError(err error) error {
	switch err {
	case nil:
		return nil
	case errors.ErrNodeDoesNotExist, errors.ErrNotFound:
		return errors.ErrNotFound
	case errors.ErrInvalidArgument:
		return errors.ErrInvalidArgument
	default:
		if rpc.DetectStatusCode(err) != http.StatusInternalServerError {
			return err
		}
		return errors.ErrInternal
	}
}

func (s *Scheduler) ReportHeartbeat(c *rpc.Context) {
	args := new(proto.Heartbeat)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.NodeID == "" {
		c.RespondError(errors.ErrInvalidArgument)
		return
	}
	assignment, err := s.state.ReportHeartbeat(args)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(assignment)
}

func (s *Scheduler) GetClusterView(c *rpc.Context) {
	args := new(client.GetClusterViewArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.state.Snapshot(args.MinGeneration))
}

func (s *Scheduler) SetNodeAdminState(c *rpc.Context) {
	args := new(client.SetAdminStateArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.NodeID == "" {
		c.RespondError(errors.ErrInvalidArgument)
		return
	}
	if err := s.state.SetAdminState(args.NodeID, args.AdminState); err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.Respond()
}

func (s *Scheduler) StartNode(c *rpc.Context) {
	args := new(client.StartNodeArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	s.runOperation(c, args.NodeID, proto.OpStart, false)
}

func (s *Scheduler) StopNode(c *rpc.Context) {
	args := new(client.StopNodeArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	s.runOperation(c, args.NodeID, proto.OpStop, args.Force)
}

func (s *Scheduler) RebootNode(c *rpc.Context) {
	args := new(client.RebootNodeArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.Reason != "" {
		span := trace.SpanFromContextSafe(c.Request.Context())
		span.Infof("reboot node[%s] requested: %s", args.NodeID, args.Reason)
	}
	s.runOperation(c, args.NodeID, proto.OpReboot, false)
}

func (s *Scheduler) runOperation(c *rpc.Context, nodeID string, opType proto.OperationType, force bool) {
	if nodeID == "" {
		c.RespondError(errors.ErrInvalidArgument)
		return
	}
	op, err := s.lifecycle.RunOperation(c.Request.Context(), nodeID, opType, force)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(op)
}

func (s *Scheduler) GetOperationStatus(c *rpc.Context) {
	args := new(client.GetOperationArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	op, err := s.state.GetOperation(args.OperationID)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(op)
}
