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
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
)

type WriteChunkArgs struct {
	DiskID        string `json:"disk_id"`
	ChunkID       string `json:"chunk_id"`
	Offset        uint64 `json:"offset"`
	Epoch         uint64 `json:"epoch"`
	IsReplication bool   `json:"is_replication"`
}

type ReadChunkArgs struct {
	DiskID  string `json:"disk_id"`
	ChunkID string `json:"chunk_id"`
	Offset  uint64 `json:"offset"`
	Size    uint64 `json:"size"`
}

type DeleteChunkArgs struct {
	DiskID  string `json:"disk_id"`
	ChunkID string `json:"chunk_id"`
}

type ConfigureReplicationArgs struct {
	Enabled     bool   `json:"enabled"`
	IsPrimary   bool   `json:"is_primary"`
	Epoch       uint64 `json:"epoch"`
	GroupID     string `json:"group_id"`
	PeerAddress string `json:"peer_address"`
}

type StorageConfig struct {
	Transport TransportConfig `json:"transport"`
}

// StorageClient talks to any data node, the target address is a per-call
// argument because replicas of one chunk live on different nodes. Chunk
// payloads travel as raw bodies, metadata rides in the query string.
type StorageClient struct {
	cli rpc.Client
}

func NewStorageClient(cfg *StorageConfig) *StorageClient {
	return &StorageClient{cli: newRPCClient(cfg.Transport)}
}

func (c *StorageClient) WriteChunk(ctx context.Context, addr string, args *WriteChunkArgs, data []byte) error {
	values := url.Values{}
	values.Set("disk_id", args.DiskID)
	values.Set("chunk_id", args.ChunkID)
	values.Set("offset", fmt.Sprint(args.Offset))
	values.Set("epoch", fmt.Sprint(args.Epoch))
	if args.IsReplication {
		values.Set("is_replication", "true")
	}
	reqURL := hostURL(addr) + "/chunk/write?" + values.Encode()
	req, err := http.NewRequest(http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", rpc.MIMEStream)
	resp, err := c.cli.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return rpc.ParseData(resp, nil)
}

func (c *StorageClient) ReadChunk(ctx context.Context, addr string, args *ReadChunkArgs) ([]byte, error) {
	values := url.Values{}
	values.Set("disk_id", args.DiskID)
	values.Set("chunk_id", args.ChunkID)
	values.Set("offset", fmt.Sprint(args.Offset))
	values.Set("size", fmt.Sprint(args.Size))
	reqURL := hostURL(addr) + "/chunk/read?" + values.Encode()
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cli.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, rpc.ParseData(resp, nil)
	}
	return ioutil.ReadAll(resp.Body)
}

func (c *StorageClient) DeleteChunk(ctx context.Context, addr string, args *DeleteChunkArgs) error {
	return c.cli.PostWith(ctx, hostURL(addr)+"/chunk/delete", nil, args)
}

func (c *StorageClient) ConfigureReplication(ctx context.Context, addr string, args *ConfigureReplicationArgs) error {
	return c.cli.PostWith(ctx, hostURL(addr)+"/replication/configure", nil, args)
}

func (c *StorageClient) Close() {
	c.cli.Close()
}
