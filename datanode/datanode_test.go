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
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zibofs/zibofs/client"
	"github.com/zibofs/zibofs/proto"
)

func TestParseNodeType(t *testing.T) {
	nt, err := parseNodeType("")
	require.NoError(t, err)
	require.Equal(t, proto.NodeTypeReal, nt)
	nt, err = parseNodeType("virtual")
	require.NoError(t, err)
	require.Equal(t, proto.NodeTypeVirtual, nt)
	nt, err = parseNodeType("optical")
	require.NoError(t, err)
	require.Equal(t, proto.NodeTypeOptical, nt)
	_, err = parseNodeType("tape")
	require.Error(t, err)

	require.Equal(t, proto.NodeRolePrimary, parseRoleHint("primary"))
	require.Equal(t, proto.NodeRoleSecondary, parseRoleHint("secondary"))
	require.Equal(t, proto.NodeRoleUnknown, parseRoleHint(""))
}

func TestNewDataNodeValidation(t *testing.T) {
	ctx := context.Background()
	_, err := NewDataNode(ctx, &Config{})
	require.Error(t, err)
	_, err = NewDataNode(ctx, &Config{NodeID: "node-a"})
	require.Error(t, err)
	_, err = NewDataNode(ctx, &Config{NodeID: "node-a", Address: "127.0.0.1:9200", NodeType: "real"})
	require.Error(t, err)
	_, err = NewDataNode(ctx, &Config{NodeID: "node-a", Address: "127.0.0.1:9200", NodeType: "optical"})
	require.Error(t, err)
}

func newVirtualNode(t *testing.T) *DataNode {
	node, err := NewDataNode(context.Background(), &Config{
		NodeID:   "node-a",
		NodeType: "virtual",
		Address:  "127.0.0.1:9200",
	})
	require.NoError(t, err)
	return node
}

func TestDataNodeHandler(t *testing.T) {
	ctx := context.Background()
	node := newVirtualNode(t)
	defer node.Close()

	server := httptest.NewServer(node.NewHandler())
	defer server.Close()

	cli := client.NewStorageClient(&client.StorageConfig{})
	defer cli.Close()

	args := &client.WriteChunkArgs{DiskID: "disk-01", ChunkID: "c1"}
	require.NoError(t, cli.WriteChunk(ctx, server.URL, args, []byte("hello")))

	data, err := cli.ReadChunk(ctx, server.URL, &client.ReadChunkArgs{DiskID: "disk-01", ChunkID: "c1", Size: 5})
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte("x"), 5), data)

	require.NoError(t, cli.DeleteChunk(ctx, server.URL, &client.DeleteChunkArgs{DiskID: "disk-01", ChunkID: "c1"}))

	err = cli.WriteChunk(ctx, server.URL, &client.WriteChunkArgs{DiskID: "disk-99", ChunkID: "c1"}, []byte("x"))
	require.Error(t, err)

	require.NoError(t, cli.ConfigureReplication(ctx, server.URL, &client.ConfigureReplicationArgs{
		Enabled: true, IsPrimary: false, Epoch: 2,
	}))
	err = cli.WriteChunk(ctx, server.URL, args, []byte("fenced"))
	require.Error(t, err)
}

func TestDataNodeHeartbeatPayload(t *testing.T) {
	node := newVirtualNode(t)
	defer node.Close()

	hb := node.buildHeartbeat()
	require.Equal(t, "node-a", hb.NodeID)
	require.Equal(t, proto.NodeTypeVirtual, hb.NodeType)
	require.Equal(t, "127.0.0.1:9200", hb.Address)
	require.NotZero(t, hb.ReportTsMs)
	require.Len(t, hb.Disks, 1)
	require.Equal(t, "disk-01", hb.Disks[0].DiskID)
}
