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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/zibofs/zibofs/proto"
	"github.com/zibofs/zibofs/util"
)

// Keyspace layout. The trailing separator after numeric segments keeps
// "C/1/" from matching "C/10/..." on prefix scans.
//
//	I/<inode_id>           inode attr document
//	D/<parent_id>/<name>   child inode id
//	C/<inode_id>/<index>   chunk meta
//	H/<handle_id>          inode id
//	X/next_inode           inode id counter
//	X/next_handle          handle id counter
const (
	keyNextInode  = "X/next_inode"
	keyNextHandle = "X/next_handle"
)

func inodeKey(inodeID uint64) []byte {
	return util.StringsToBytes(fmt.Sprintf("I/%d", inodeID))
}

func dentryKey(parentID uint64, name string) []byte {
	return util.StringsToBytes(fmt.Sprintf("D/%d/%s", parentID, name))
}

func dentryPrefix(parentID uint64) []byte {
	return util.StringsToBytes(fmt.Sprintf("D/%d/", parentID))
}

func chunkKey(inodeID uint64, index uint32) []byte {
	return util.StringsToBytes(fmt.Sprintf("C/%d/%d", inodeID, index))
}

func chunkPrefix(inodeID uint64) []byte {
	return util.StringsToBytes(fmt.Sprintf("C/%d/", inodeID))
}

func chunkScanPrefix() []byte {
	return []byte("C/")
}

func handleKey(handleID uint64) []byte {
	return util.StringsToBytes(fmt.Sprintf("H/%d", handleID))
}

func encodeUint64(v uint64) []byte {
	return util.StringsToBytes(strconv.FormatUint(v, 10))
}

func decodeUint64(data []byte) (uint64, error) {
	v, err := strconv.ParseUint(util.BytesToString(data), 10, 64)
	if err != nil {
		return 0, errors.Info(err, "decode uint64")
	}
	return v, nil
}

// inodeRecord pairs the decoded attr with the raw document so fields this
// version does not know about survive a read-modify-write.
type inodeRecord struct {
	attr proto.InodeAttr
	raw  map[string]json.RawMessage
}

func decodeInode(data []byte) (*inodeRecord, error) {
	r := &inodeRecord{}
	if err := json.Unmarshal(data, &r.attr); err != nil {
		return nil, errors.Info(err, "decode inode attr")
	}
	if err := json.Unmarshal(data, &r.raw); err != nil {
		return nil, errors.Info(err, "decode inode doc")
	}
	return r, nil
}

func (r *inodeRecord) encode() ([]byte, error) {
	known, err := json.Marshal(&r.attr)
	if err != nil {
		return nil, err
	}
	if len(r.raw) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(r.raw))
	for k, v := range r.raw {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func encodeInodeAttr(attr *proto.InodeAttr) ([]byte, error) {
	return json.Marshal(attr)
}

func decodeChunkMeta(data []byte) (*proto.ChunkMeta, error) {
	meta := new(proto.ChunkMeta)
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, errors.Info(err, "decode chunk meta")
	}
	return meta, nil
}

func encodeChunkMeta(meta *proto.ChunkMeta) ([]byte, error) {
	return json.Marshal(meta)
}

// parseChunkKey recovers (inode, index) from a "C/<inode>/<index>" key.
func parseChunkKey(key []byte) (inodeID uint64, index uint32, err error) {
	parts := strings.Split(string(key), "/")
	if len(parts) != 3 || parts[0] != "C" {
		return 0, 0, errors.Newf("malformed chunk key %q", key)
	}
	inodeID, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, errors.Info(err, "malformed chunk key inode")
	}
	idx, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return 0, 0, errors.Info(err, "malformed chunk key index")
	}
	return inodeID, uint32(idx), nil
}

// dentryName recovers the entry name from a "D/<parent>/<name>" key.
func dentryName(key, prefix []byte) string {
	return string(key[len(prefix):])
}
