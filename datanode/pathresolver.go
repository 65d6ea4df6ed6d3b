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
	"os"
	"path/filepath"
	"sync"
)

// pathResolver shards chunk files into two directory levels taken from the
// first four hex characters of the chunk id, keeping directory fanout flat
// no matter how many chunks one disk holds.
type pathResolver struct {
	lock    sync.Mutex
	created map[string]struct{}
}

func newPathResolver() *pathResolver {
	return &pathResolver{created: make(map[string]struct{})}
}

func hexShard(chunkID string) string {
	shard := make([]byte, 0, 4)
	for i := 0; i < len(chunkID) && len(shard) < 4; i++ {
		c := chunkID[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
			shard = append(shard, c)
		case c >= 'A' && c <= 'F':
			shard = append(shard, c+'a'-'A')
		}
	}
	for len(shard) < 4 {
		shard = append(shard, '0')
	}
	return string(shard)
}

func (r *pathResolver) Resolve(mountPoint, chunkID string) (string, error) {
	shard := hexShard(chunkID)
	dir := filepath.Join(mountPoint, shard[0:2], shard[2:4])

	r.lock.Lock()
	_, ok := r.created[dir]
	r.lock.Unlock()
	if !ok {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		r.lock.Lock()
		r.created[dir] = struct{}{}
		r.lock.Unlock()
	}
	return filepath.Join(dir, chunkID), nil
}
