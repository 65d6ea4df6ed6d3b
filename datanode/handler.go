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
	"net/http"

	"github.com/cubefs/cubefs/blobstore/common/rpc"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/metrics"
	"github.com/zibofs/zibofs/util"
)

func (n *DataNode) NewHandler() *rpc.Router {
	r := rpc.New()
	r.Handle(http.MethodPost, "/chunk/write", n.WriteChunk, rpc.OptArgsQuery())
	r.Handle(http.MethodGet, "/chunk/read", n.ReadChunk, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/chunk/delete", n.DeleteChunk, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/replication/configure", n.SetReplication, rpc.OptArgsBody())
	r.Handle(http.MethodGet, "/disks", n.ListDisks, rpc.OptArgsQuery())
	return r
}

// wireError maps store sentinel errors onto coded rpc errors. Errors that
// already carry a wire code, NotLeader and StaleEpoch among them, pass
// through untouched.
func wireError(err error) error {
	switch err {
	case nil:
		return nil
	case errors.ErrDiskDoesNotExist, errors.ErrChunkDoesNotExist:
		return errors.ErrNotFound
	case errors.ErrInvalidArgument:
		return errors.ErrInvalidArgument
	default:
		if rpc.DetectStatusCode(err) != http.StatusInternalServerError {
			return err
		}
		return errors.NewIO(err)
	}
}

func (n *DataNode) WriteChunk(c *rpc.Context) {
	args := new(client.WriteChunkArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	size := int(c.Request.ContentLength)
	if size < 0 {
		size = 0
	}
	buf := util.GetBufferWriter(size)
	defer util.PutBufferWriter(buf)
	if _, err := buf.ReadFrom(c.Request.Body); err != nil {
		c.RespondError(errors.ErrInvalidArgument)
		return
	}
	data := buf.Bytes()
	if err := n.service.WriteChunk(c.Request.Context(), args, data); err != nil {
		c.RespondError(wireError(err))
		return
	}
	metrics.ChunkBytes.WithLabelValues("datanode", "write").Add(float64(len(data)))
	c.Respond()
}

func (n *DataNode) ReadChunk(c *rpc.Context) {
	args := new(client.ReadChunkArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	data, err := n.service.ReadChunk(c.Request.Context(), args)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	metrics.ChunkBytes.WithLabelValues("datanode", "read").Add(float64(len(data)))
	c.RespondWith(http.StatusOK, rpc.MIMEStream, data)
	util.PutBuffer(data)
}

func (n *DataNode) DeleteChunk(c *rpc.Context) {
	args := new(client.DeleteChunkArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := n.service.DeleteChunk(c.Request.Context(), args); err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.Respond()
}

func (n *DataNode) SetReplication(c *rpc.Context) {
	args := new(client.ConfigureReplicationArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	n.service.ConfigureReplication(args)
	c.Respond()
}

func (n *DataNode) ListDisks(c *rpc.Context) {
	c.RespondJSON(n.store.DiskReports())
}
