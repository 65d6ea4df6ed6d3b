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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/stretchr/testify/require"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/common/kvstore"
	"github.com/zibofs/zibofs/proto"
)

func newTestMDS(t *testing.T) *MDS {
	m, err := NewMDS(context.Background(), &Config{
		KVType:      kvstore.MemoryKVType,
		StaticNodes: []string{"node-a@127.0.0.1:9200,weight=1"},
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNewMDSValidation(t *testing.T) {
	_, err := NewMDS(context.Background(), &Config{KVType: kvstore.RocksdbKVType})
	require.Error(t, err)
	_, err = NewMDS(context.Background(), &Config{
		KVType:      kvstore.MemoryKVType,
		StaticNodes: []string{"broken"},
	})
	require.Error(t, err)
}

func TestMDSHandlerRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestMDS(t)
	server := httptest.NewServer(m.NewHandler())
	defer server.Close()

	cli := client.NewMDSClient(&client.MDSConfig{Address: server.URL})
	defer cli.CloseClient()

	attr, err := cli.Create(ctx, &client.CreateArgs{Path: "/f", Mode: 0o644, Uid: 7, Gid: 7, ChunkSize: 16})
	require.NoError(t, err)
	require.Equal(t, proto.InodeFile, attr.Type)

	got, err := cli.Lookup(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, attr.InodeID, got.InodeID)

	got, err = cli.Getattr(ctx, attr.InodeID)
	require.NoError(t, err)
	require.Equal(t, uint32(7), got.Uid)

	open, err := cli.Open(ctx, &client.OpenArgs{Path: "/f"})
	require.NoError(t, err)
	require.Equal(t, attr.InodeID, open.Attr.InodeID)
	require.NoError(t, cli.Close(ctx, open.HandleID))

	_, err = cli.Mkdir(ctx, &client.MkdirArgs{Path: "/d", Mode: 0o755})
	require.NoError(t, err)
	require.NoError(t, cli.Rename(ctx, "/f", "/d/f"))

	entries, err := cli.Readdir(ctx, "/d")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "f", entries[0].Name)

	layout, err := cli.AllocateWrite(ctx, &client.AllocateWriteArgs{InodeID: attr.InodeID, Offset: 0, Size: 32})
	require.NoError(t, err)
	require.Len(t, layout.Chunks, 2)
	require.Equal(t, "node-a", layout.Chunks[0].Replicas[0].NodeID)

	require.NoError(t, cli.CommitWrite(ctx, attr.InodeID, 32))
	got, err = cli.Getattr(ctx, attr.InodeID)
	require.NoError(t, err)
	require.Equal(t, uint64(32), got.Size)

	layout, err = cli.GetLayout(ctx, &client.GetLayoutArgs{InodeID: attr.InodeID, Offset: 0, Size: 32})
	require.NoError(t, err)
	require.Len(t, layout.Chunks, 2)

	require.NoError(t, cli.Unlink(ctx, "/d/f"))
	require.NoError(t, cli.Rmdir(ctx, "/d"))
}

func TestMDSHandlerErrorCodes(t *testing.T) {
	ctx := context.Background()
	m := newTestMDS(t)
	server := httptest.NewServer(m.NewHandler())
	defer server.Close()

	cli := client.NewMDSClient(&client.MDSConfig{Address: server.URL})
	defer cli.CloseClient()

	_, err := cli.Lookup(ctx, "/missing")
	require.Equal(t, http.StatusNotFound, rpc.DetectStatusCode(err))

	_, err = cli.Create(ctx, &client.CreateArgs{Path: "/f"})
	require.NoError(t, err)
	_, err = cli.Create(ctx, &client.CreateArgs{Path: "/f"})
	require.Equal(t, http.StatusConflict, rpc.DetectStatusCode(err))

	_, err = cli.Create(ctx, &client.CreateArgs{Path: "/f/child"})
	require.Equal(t, http.StatusBadRequest, rpc.DetectStatusCode(err))

	_, err = cli.Getattr(ctx, 0)
	require.Equal(t, http.StatusBadRequest, rpc.DetectStatusCode(err))

	_, err = cli.Mkdir(ctx, &client.MkdirArgs{Path: "/d"})
	require.NoError(t, err)
	_, err = cli.Create(ctx, &client.CreateArgs{Path: "/d/f"})
	require.NoError(t, err)
	err = cli.Rmdir(ctx, "/d")
	require.Equal(t, 461, rpc.DetectStatusCode(err))
}
