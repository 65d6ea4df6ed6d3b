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
	"net/url"

	"github.com/cubefs/cubefs/blobstore/common/rpc"

	"github.com/zibofs/zibofs/proto"
)

type LookupArgs struct {
	Path string `json:"path"`
}

type GetattrArgs struct {
	InodeID uint64 `json:"inode_id"`
}

type OpenArgs struct {
	Path  string `json:"path"`
	Flags uint32 `json:"flags"`
}

type OpenRet struct {
	HandleID uint64          `json:"handle_id"`
	Attr     proto.InodeAttr `json:"attr"`
}

type CloseArgs struct {
	HandleID uint64 `json:"handle_id"`
}

type CreateArgs struct {
	Path      string `json:"path"`
	Mode      uint32 `json:"mode"`
	Uid       uint32 `json:"uid"`
	Gid       uint32 `json:"gid"`
	Replica   uint32 `json:"replica"`
	ChunkSize uint64 `json:"chunk_size"`
}

type MkdirArgs struct {
	Path string `json:"path"`
	Mode uint32 `json:"mode"`
	Uid  uint32 `json:"uid"`
	Gid  uint32 `json:"gid"`
}

type ReaddirArgs struct {
	Path string `json:"path"`
}

type ReaddirRet struct {
	Entries []proto.Dentry `json:"entries"`
}

type RenameArgs struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

type UnlinkArgs struct {
	Path string `json:"path"`
}

type RmdirArgs struct {
	Path string `json:"path"`
}

type AllocateWriteArgs struct {
	InodeID uint64 `json:"inode_id"`
	Offset  uint64 `json:"offset"`
	Size    uint64 `json:"size"`
}

type GetLayoutArgs struct {
	InodeID uint64 `json:"inode_id"`
	Offset  uint64 `json:"offset"`
	Size    uint64 `json:"size"`
}

type CommitWriteArgs struct {
	InodeID uint64 `json:"inode_id"`
	NewSize uint64 `json:"new_size"`
}

type MDSConfig struct {
	Address   string          `json:"address"`
	Transport TransportConfig `json:"transport"`
}

// MDSClient speaks the metadata api: namespace operations plus the chunk
// layout calls the write and read paths are built on.
type MDSClient struct {
	addr string
	cli  rpc.Client
}

func NewMDSClient(cfg *MDSConfig) *MDSClient {
	return &MDSClient{addr: hostURL(cfg.Address), cli: newRPCClient(cfg.Transport)}
}

func (c *MDSClient) Lookup(ctx context.Context, path string) (*proto.InodeAttr, error) {
	ret := new(proto.InodeAttr)
	reqURL := c.addr + "/lookup?path=" + url.QueryEscape(path)
	if err := c.cli.GetWith(ctx, reqURL, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *MDSClient) Getattr(ctx context.Context, inodeID uint64) (*proto.InodeAttr, error) {
	ret := new(proto.InodeAttr)
	reqURL := c.addr + fmt.Sprintf("/getattr?inode_id=%d", inodeID)
	if err := c.cli.GetWith(ctx, reqURL, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *MDSClient) Open(ctx context.Context, args *OpenArgs) (*OpenRet, error) {
	ret := new(OpenRet)
	if err := c.cli.PostWith(ctx, c.addr+"/open", ret, args); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *MDSClient) Close(ctx context.Context, handleID uint64) error {
	return c.cli.PostWith(ctx, c.addr+"/close", nil, &CloseArgs{HandleID: handleID})
}

func (c *MDSClient) Create(ctx context.Context, args *CreateArgs) (*proto.InodeAttr, error) {
	ret := new(proto.InodeAttr)
	if err := c.cli.PostWith(ctx, c.addr+"/create", ret, args); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *MDSClient) Mkdir(ctx context.Context, args *MkdirArgs) (*proto.InodeAttr, error) {
	ret := new(proto.InodeAttr)
	if err := c.cli.PostWith(ctx, c.addr+"/mkdir", ret, args); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *MDSClient) Readdir(ctx context.Context, path string) ([]proto.Dentry, error) {
	ret := new(ReaddirRet)
	reqURL := c.addr + "/readdir?path=" + url.QueryEscape(path)
	if err := c.cli.GetWith(ctx, reqURL, ret); err != nil {
		return nil, err
	}
	return ret.Entries, nil
}

func (c *MDSClient) Rename(ctx context.Context, oldPath, newPath string) error {
	return c.cli.PostWith(ctx, c.addr+"/rename", nil, &RenameArgs{OldPath: oldPath, NewPath: newPath})
}

func (c *MDSClient) Unlink(ctx context.Context, path string) error {
	return c.cli.PostWith(ctx, c.addr+"/unlink", nil, &UnlinkArgs{Path: path})
}

func (c *MDSClient) Rmdir(ctx context.Context, path string) error {
	return c.cli.PostWith(ctx, c.addr+"/rmdir", nil, &RmdirArgs{Path: path})
}

func (c *MDSClient) AllocateWrite(ctx context.Context, args *AllocateWriteArgs) (*proto.FileLayout, error) {
	ret := new(proto.FileLayout)
	if err := c.cli.PostWith(ctx, c.addr+"/write/allocate", ret, args); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *MDSClient) GetLayout(ctx context.Context, args *GetLayoutArgs) (*proto.FileLayout, error) {
	ret := new(proto.FileLayout)
	reqURL := c.addr + fmt.Sprintf("/layout?inode_id=%d&offset=%d&size=%d", args.InodeID, args.Offset, args.Size)
	if err := c.cli.GetWith(ctx, reqURL, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *MDSClient) CommitWrite(ctx context.Context, inodeID, newSize uint64) error {
	return c.cli.PostWith(ctx, c.addr+"/write/commit", nil, &CommitWriteArgs{InodeID: inodeID, NewSize: newSize})
}

func (c *MDSClient) CloseClient() {
	c.cli.Close()
}
