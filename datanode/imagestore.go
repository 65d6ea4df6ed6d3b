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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	zerrors "github.com/zibofs/zibofs/errors"
)

const (
	manifestFileName       = "manifest.log"
	defaultMaxImageSize    = 1 << 30
	defaultImageCapacity   = 10 << 30
	manifestOpWrite        = "W"
	manifestOpDelete       = "D"
	manifestFieldSeparator = "|"
)

type chunkRecord struct {
	image  string
	offset uint64
	length uint64
}

// imageDisk is one optical volume: chunks are appended into numbered image
// files and indexed by an append-only manifest that is replayed on open.
// Chunks are written whole, a record never changes after the append.
type imageDisk struct {
	diskID       string
	root         string
	maxImageSize uint64
	capacity     uint64

	lock        sync.Mutex
	manifest    *os.File
	imageIndex  int
	currentSize uint64
	usedBytes   uint64
	chunks      map[string]chunkRecord
}

func openImageDisk(diskID, root string, maxImageSize, capacity uint64) (*imageDisk, error) {
	if maxImageSize == 0 {
		maxImageSize = defaultMaxImageSize
	}
	if capacity == 0 {
		capacity = defaultImageCapacity
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	d := &imageDisk{
		diskID:       diskID,
		root:         root,
		maxImageSize: maxImageSize,
		capacity:     capacity,
		chunks:       make(map[string]chunkRecord),
	}
	if err := d.replay(); err != nil {
		return nil, err
	}

	manifest, err := os.OpenFile(filepath.Join(root, manifestFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	d.manifest = manifest
	return d, nil
}

func (d *imageDisk) replay() error {
	f, err := os.Open(filepath.Join(d.root, manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	imageSizes := make(map[string]uint64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, manifestFieldSeparator)
		switch fields[0] {
		case manifestOpWrite:
			if len(fields) < 5 {
				return errors.Newf("corrupt manifest line %q", line)
			}
			offset, err := strconv.ParseUint(fields[3], 10, 64)
			if err != nil {
				return errors.Info(err, "corrupt manifest offset")
			}
			length, err := strconv.ParseUint(fields[4], 10, 64)
			if err != nil {
				return errors.Info(err, "corrupt manifest length")
			}
			chunkID, image := fields[1], fields[2]
			if old, ok := d.chunks[chunkID]; ok {
				d.usedBytes -= old.length
			}
			d.chunks[chunkID] = chunkRecord{image: image, offset: offset, length: length}
			d.usedBytes += length
			if end := offset + length; end > imageSizes[image] {
				imageSizes[image] = end
			}
		case manifestOpDelete:
			if len(fields) < 2 {
				return errors.Newf("corrupt manifest line %q", line)
			}
			if old, ok := d.chunks[fields[1]]; ok {
				d.usedBytes -= old.length
				delete(d.chunks, fields[1])
			}
		default:
			return errors.Newf("corrupt manifest line %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	for image, size := range imageSizes {
		index := parseImageIndex(image)
		if index > d.imageIndex || (index == d.imageIndex && size > d.currentSize) {
			if index > d.imageIndex {
				d.imageIndex = index
				d.currentSize = size
			} else {
				d.currentSize = size
			}
		}
	}
	return nil
}

func imageName(index int) string {
	return fmt.Sprintf("image_%d.iso", index)
}

func parseImageIndex(name string) int {
	name = strings.TrimPrefix(name, "image_")
	name = strings.TrimSuffix(name, ".iso")
	index, err := strconv.Atoi(name)
	if err != nil {
		return 0
	}
	return index
}

func (d *imageDisk) WriteChunk(chunkID string, data []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	length := uint64(len(data))
	if d.usedBytes+length > d.capacity {
		return zerrors.NewIO(errors.Newf("optical disk %s full", d.diskID))
	}
	if d.currentSize > 0 && d.currentSize+length > d.maxImageSize {
		d.imageIndex++
		d.currentSize = 0
	}
	image := imageName(d.imageIndex)

	f, err := os.OpenFile(filepath.Join(d.root, image), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	offset := d.currentSize
	if _, err = f.WriteAt(data, int64(offset)); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}

	line := strings.Join([]string{
		manifestOpWrite, chunkID, image,
		strconv.FormatUint(offset, 10),
		strconv.FormatUint(length, 10),
		d.diskID,
	}, manifestFieldSeparator)
	if _, err = d.manifest.WriteString(line + "\n"); err != nil {
		return err
	}

	if old, ok := d.chunks[chunkID]; ok {
		d.usedBytes -= old.length
	}
	d.chunks[chunkID] = chunkRecord{image: image, offset: offset, length: length}
	d.usedBytes += length
	d.currentSize = offset + length
	return nil
}

func (d *imageDisk) ReadChunk(chunkID string, offset, size uint64) ([]byte, error) {
	d.lock.Lock()
	record, ok := d.chunks[chunkID]
	d.lock.Unlock()
	if !ok {
		return nil, zerrors.ErrChunkDoesNotExist
	}
	if offset >= record.length {
		return []byte{}, nil
	}
	readLen := record.length - offset
	if size < readLen {
		readLen = size
	}

	f, err := os.Open(filepath.Join(d.root, record.image))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, readLen)
	if _, err := f.ReadAt(buf, int64(record.offset+offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *imageDisk) DeleteChunk(chunkID string) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	record, ok := d.chunks[chunkID]
	if !ok {
		return zerrors.ErrChunkDoesNotExist
	}
	line := manifestOpDelete + manifestFieldSeparator + chunkID
	if _, err := d.manifest.WriteString(line + "\n"); err != nil {
		return err
	}
	d.usedBytes -= record.length
	delete(d.chunks, chunkID)
	return nil
}

func (d *imageDisk) Usage() (capacity, free uint64) {
	d.lock.Lock()
	defer d.lock.Unlock()
	free = 0
	if d.usedBytes < d.capacity {
		free = d.capacity - d.usedBytes
	}
	return d.capacity, free
}

func (d *imageDisk) Close() {
	d.manifest.Close()
}
