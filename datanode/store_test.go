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
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	zerrors "github.com/zibofs/zibofs/errors"
	"github.com/zibofs/zibofs/util"
)

func TestHexShard(t *testing.T) {
	require.Equal(t, "abcd", hexShard("abcdef0123"))
	require.Equal(t, "abcd", hexShard("ABCDEF"))
	require.Equal(t, "1200", hexShard("XYZ12"))
	require.Equal(t, "0000", hexShard(""))
	require.Equal(t, "0d10", hexShard("g0d1"))
}

func TestPathResolver(t *testing.T) {
	root, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(root)

	r := newPathResolver()
	path, err := r.Resolve(root, "ab12ffchunk")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "ab", "12", "ab12ffchunk"), path)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// same shard resolved twice goes through the created cache
	again, err := r.Resolve(root, "ab12other")
	require.NoError(t, err)
	require.Equal(t, filepath.Dir(path), filepath.Dir(again))
}

func TestDiskManagerInitFromConfig(t *testing.T) {
	m := newDiskManager()
	require.Error(t, m.InitFromConfig(""))
	require.Error(t, m.InitFromConfig("no-colon-here"))
	require.Error(t, m.InitFromConfig("disk-01:"))
	require.Error(t, m.InitFromConfig(":/mnt/disk1"))

	root, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(root)

	require.NoError(t, m.InitFromConfig("disk-01:"+root+" ; "))
	require.Equal(t, root, m.GetMountPoint("disk-01"))
	require.Equal(t, "", m.GetMountPoint("disk-99"))

	reports := m.Reports()
	require.Len(t, reports, 1)
	require.Equal(t, "disk-01", reports[0].DiskID)
	require.True(t, reports[0].IsHealthy)
	require.Greater(t, reports[0].CapacityBytes, uint64(0))
}

func TestDiskManagerInitFromDataRoot(t *testing.T) {
	root, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "disk-01"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pinned"), 0o755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, "pinned", diskIDFileName), []byte("disk-zz\n"), 0o644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, "not-a-dir"), []byte("x"), 0o644))

	m := newDiskManager()
	require.NoError(t, m.InitFromDataRoot(root))
	require.Equal(t, filepath.Join(root, "disk-01"), m.GetMountPoint("disk-01"))
	require.Equal(t, filepath.Join(root, "pinned"), m.GetMountPoint("disk-zz"))
	require.Equal(t, "", m.GetMountPoint("pinned"))

	empty, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(empty)
	require.Error(t, newDiskManager().InitFromDataRoot(empty))
}

func TestRealStoreReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	root, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(root)

	store, err := newRealStore(&RealStoreConfig{DiskSpec: "disk-01:" + root})
	require.NoError(t, err)
	defer store.Close()

	chunkID := "deadbeef0001"
	require.NoError(t, store.Write(ctx, "disk-01", chunkID, 0, []byte("hello world")))

	data, err := store.Read(ctx, "disk-01", chunkID, 0, 11)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), data)

	data, err = store.Read(ctx, "disk-01", chunkID, 6, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), data)

	// short read past the end is clipped, not an error
	data, err = store.Read(ctx, "disk-01", chunkID, 6, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), data)

	// overwrite inside the chunk at an offset
	require.NoError(t, store.Write(ctx, "disk-01", chunkID, 6, []byte("there")))
	data, err = store.Read(ctx, "disk-01", chunkID, 0, 11)
	require.NoError(t, err)
	require.Equal(t, []byte("hello there"), data)

	require.NoError(t, store.Delete(ctx, "disk-01", chunkID))
	_, err = store.Read(ctx, "disk-01", chunkID, 0, 4)
	require.Equal(t, zerrors.ErrChunkDoesNotExist, err)
	require.Equal(t, zerrors.ErrChunkDoesNotExist, store.Delete(ctx, "disk-01", chunkID))
}

func TestRealStoreUnknownDisk(t *testing.T) {
	ctx := context.Background()
	root, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(root)

	store, err := newRealStore(&RealStoreConfig{DiskSpec: "disk-01:" + root})
	require.NoError(t, err)
	defer store.Close()

	require.Equal(t, zerrors.ErrDiskDoesNotExist, store.Write(ctx, "disk-99", "c1", 0, []byte("x")))
	_, err = store.Read(ctx, "disk-99", "c1", 0, 1)
	require.Equal(t, zerrors.ErrDiskDoesNotExist, err)
	require.Equal(t, zerrors.ErrDiskDoesNotExist, store.Delete(ctx, "disk-99", "c1"))
}

func TestRealStoreConfigRequired(t *testing.T) {
	_, err := newRealStore(&RealStoreConfig{})
	require.Error(t, err)
}

func TestVirtualStore(t *testing.T) {
	ctx := context.Background()
	store := newVirtualStore(&VirtualStoreConfig{DiskIDs: []string{"disk-01", "disk-02"}})
	defer store.Close()

	require.NoError(t, store.Write(ctx, "disk-01", "c1", 0, []byte("discarded")))
	require.Equal(t, zerrors.ErrDiskDoesNotExist, store.Write(ctx, "disk-99", "c1", 0, nil))

	data, err := store.Read(ctx, "disk-02", "c1", 0, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("xxxxxxxx"), data)

	require.NoError(t, store.Delete(ctx, "disk-01", "c1"))

	reports := store.DiskReports()
	require.Len(t, reports, 2)
	require.Equal(t, "/virtual/disk-01", reports[0].MountPoint)
	require.Equal(t, reports[0].CapacityBytes, reports[0].FreeBytes)
}

func TestVirtualStoreLatencyModel(t *testing.T) {
	store := newVirtualStore(&VirtualStoreConfig{BaseLatencyMs: 10, BytesPerSec: 1})
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Write(ctx, "disk-01", "c1", 0, []byte("slow"))
	require.Equal(t, context.Canceled, err)
}
