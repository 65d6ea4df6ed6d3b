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

package mds

import (
	"net/http"

	"github.com/cubefs/cubefs/blobstore/common/rpc"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/common/kvstore"
	"github.com/zibofs/zibofs/errors"
)

func (m *MDS) NewHandler() *rpc.Router {
	r := rpc.New()
	r.Handle(http.MethodGet, "/lookup", m.Lookup, rpc.OptArgsQuery())
	r.Handle(http.MethodGet, "/getattr", m.Getattr, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/open", m.Open, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/close", m.CloseHandle, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/create", m.Create, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/mkdir", m.Mkdir, rpc.OptArgsBody())
	r.Handle(http.MethodGet, "/readdir", m.Readdir, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/rename", m.Rename, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/unlink", m.Unlink, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/rmdir", m.Rmdir, rpc.OptArgsBody())
	r.Handle(http.MethodPost, "/write/allocate", m.AllocateWrite, rpc.OptArgsBody())
	r.Handle(http.MethodGet, "/layout", m.GetLayout, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/write/commit", m.CommitWrite, rpc.OptArgsBody())
	return r
}

// wireError maps internal sentinel errors onto coded rpc errors.
func wireError(err error) error {
	switch err {
	case nil:
		return nil
	case errors.ErrPathDoesNotExist, errors.ErrInodeDoesNotExist, errors.ErrNotFound, kvstore.ErrNotFound:
		return errors.ErrNotFound
	case errors.ErrNotDirectory, errors.ErrIsDirectory, errors.ErrInvalidArgument:
		return errors.ErrInvalidArgument
	case errors.ErrAlreadyExists, errors.ErrNotEmpty, errors.ErrNoAllocatableNode:
		return err
	default:
		if rpc.DetectStatusCode(err) != http.StatusInternalServerError {
			return err
		}
		return errors.ErrInternal
	}
}

func (m *MDS) Lookup(c *rpc.Context) {
	args := new(client.LookupArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	attr, err := m.store.Lookup(c.Request.Context(), args.Path)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(attr)
}

func (m *MDS) Getattr(c *rpc.Context) {
	args := new(client.GetattrArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.InodeID == 0 {
		c.RespondError(errors.ErrInvalidArgument)
		return
	}
	attr, err := m.store.Getattr(c.Request.Context(), args.InodeID)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(attr)
}

func (m *MDS) Open(c *rpc.Context) {
	args := new(client.OpenArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	handleID, attr, err := m.store.Open(c.Request.Context(), args.Path)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(&client.OpenRet{HandleID: handleID, Attr: *attr})
}

func (m *MDS) CloseHandle(c *rpc.Context) {
	args := new(client.CloseArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := m.store.CloseHandle(c.Request.Context(), args.HandleID); err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.Respond()
}

func (m *MDS) Create(c *rpc.Context) {
	args := new(client.CreateArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	attr, err := m.store.Create(c.Request.Context(), args.Path, args.Mode, args.Uid, args.Gid, args.Replica, args.ChunkSize)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(attr)
}

func (m *MDS) Mkdir(c *rpc.Context) {
	args := new(client.MkdirArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	attr, err := m.store.Mkdir(c.Request.Context(), args.Path, args.Mode, args.Uid, args.Gid)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(attr)
}

func (m *MDS) Readdir(c *rpc.Context) {
	args := new(client.ReaddirArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	entries, err := m.store.Readdir(c.Request.Context(), args.Path)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(&client.ReaddirRet{Entries: entries})
}

func (m *MDS) Rename(c *rpc.Context) {
	args := new(client.RenameArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := m.store.Rename(c.Request.Context(), args.OldPath, args.NewPath); err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.Respond()
}

func (m *MDS) Unlink(c *rpc.Context) {
	args := new(client.UnlinkArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := m.store.Unlink(c.Request.Context(), args.Path); err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.Respond()
}

func (m *MDS) Rmdir(c *rpc.Context) {
	args := new(client.RmdirArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := m.store.Rmdir(c.Request.Context(), args.Path); err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.Respond()
}

func (m *MDS) AllocateWrite(c *rpc.Context) {
	args := new(client.AllocateWriteArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.InodeID == 0 {
		c.RespondError(errors.ErrInvalidArgument)
		return
	}
	layout, err := m.store.AllocateWrite(c.Request.Context(), args.InodeID, args.Offset, args.Size)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(layout)
}

func (m *MDS) GetLayout(c *rpc.Context) {
	args := new(client.GetLayoutArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.InodeID == 0 {
		c.RespondError(errors.ErrInvalidArgument)
		return
	}
	layout, err := m.store.GetLayout(c.Request.Context(), args.InodeID, args.Offset, args.Size)
	if err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.RespondJSON(layout)
}

func (m *MDS) CommitWrite(c *rpc.Context) {
	args := new(client.CommitWriteArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.InodeID == 0 {
		c.RespondError(errors.ErrInvalidArgument)
		return
	}
	if err := m.store.CommitWrite(c.Request.Context(), args.InodeID, args.NewSize); err != nil {
		c.RespondError(wireError(err))
		return
	}
	c.Respond()
}
