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
	"bufio"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/zibofs/zibofs/proto"
)

const diskIDFileName = ".disk_id"

type diskInfo struct {
	diskID        string
	mountPoint    string
	capacityBytes uint64
	freeBytes     uint64
	healthy       bool
}

// diskManager owns the disk table of a real node. Disks come either from an
// explicit "id:mount;id:mount" list or from scanning the subdirectories of a
// data root, where a .disk_id file pins the id across renames.
type diskManager struct {
	lock  sync.RWMutex
	disks map[string]*diskInfo
}

func newDiskManager() *diskManager {
	return &diskManager{disks: make(map[string]*diskInfo)}
}

func (m *diskManager) InitFromConfig(spec string) error {
	disks := make(map[string]*diskInfo)
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idx := strings.Index(entry, ":")
		if idx < 0 {
			return errors.Newf("invalid disk entry %q: missing ':'", entry)
		}
		diskID := strings.TrimSpace(entry[:idx])
		mountPoint := strings.TrimSpace(entry[idx+1:])
		if diskID == "" || mountPoint == "" {
			return errors.Newf("invalid disk entry %q: empty field", entry)
		}
		disks[diskID] = &diskInfo{diskID: diskID, mountPoint: mountPoint}
	}
	if len(disks) == 0 {
		return errors.New("no disks configured")
	}

	m.lock.Lock()
	m.disks = disks
	m.lock.Unlock()
	m.Refresh()
	return nil
}

func (m *diskManager) InitFromDataRoot(root string) error {
	entries, err := ioutil.ReadDir(root)
	if err != nil {
		return err
	}
	disks := make(map[string]*diskInfo)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		mountPoint := filepath.Join(root, entry.Name())
		diskID := readDiskID(mountPoint)
		if diskID == "" {
			diskID = entry.Name()
		}
		disks[diskID] = &diskInfo{diskID: diskID, mountPoint: mountPoint}
	}
	if len(disks) == 0 {
		return errors.Newf("no disk directories under %s", root)
	}

	m.lock.Lock()
	m.disks = disks
	m.lock.Unlock()
	m.Refresh()
	return nil
}

func readDiskID(mountPoint string) string {
	f, err := os.Open(filepath.Join(mountPoint, diskIDFileName))
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

// Refresh re-reads filesystem stats for every disk. A disk whose stats can
// not be read is reported unhealthy with zero capacity.
func (m *diskManager) Refresh() {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, d := range m.disks {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(d.mountPoint, &stat); err != nil {
			d.capacityBytes = 0
			d.freeBytes = 0
			d.healthy = false
			continue
		}
		d.capacityBytes = stat.Blocks * uint64(stat.Bsize)
		d.freeBytes = stat.Bavail * uint64(stat.Bsize)
		d.healthy = true
	}
}

// GetMountPoint returns "" when the disk is unknown or unhealthy.
func (m *diskManager) GetMountPoint(diskID string) string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	d, ok := m.disks[diskID]
	if !ok || !d.healthy {
		return ""
	}
	return d.mountPoint
}

func (m *diskManager) Reports() []proto.DiskReport {
	m.lock.RLock()
	defer m.lock.RUnlock()
	ids := make([]string, 0, len(m.disks))
	for id := range m.disks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	reports := make([]proto.DiskReport, 0, len(ids))
	for _, id := range ids {
		d := m.disks[id]
		reports = append(reports, proto.DiskReport{
			DiskID:        d.diskID,
			MountPoint:    d.mountPoint,
			CapacityBytes: d.capacityBytes,
			FreeBytes:     d.freeBytes,
			IsHealthy:     d.healthy,
		})
	}
	return reports
}
