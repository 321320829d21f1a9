/*
Copyright 2013 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package trunk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fastdfs-go/storaged/internal/dioerr"
	"github.com/fastdfs-go/storaged/internal/storagelog"
)

// container is one open trunk container file (spec.md §3): a
// pre-allocated, fixed-size file holding a sequence of slots. Grounded
// on the teacher's diskpacked.go, which keeps a single *os.File open per
// data file and appends to it under a mutex; here every container stays
// open for the allocator's lifetime since slots are read and rewritten
// at arbitrary offsets, not just appended.
type container struct {
	fileID uint32
	path   string
	size   int64
	f      *os.File
}

func containerFilename(dir string, fileID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("trunk-%05d", fileID))
}

// checkAndInit implements spec.md §4.D's check_and_init: create a new
// container with the configured size and zero-fill, or sanity-check an
// existing one's length.
func checkAndInit(dir string, fileID uint32, size int64) (*container, error) {
	path := containerFilename(dir, fileID)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dioerr.Wrap("open", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dioerr.Wrap("stat", path, err)
	}
	switch {
	case fi.Size() == 0:
		if err := preallocate(f, size); err != nil {
			f.Close()
			return nil, dioerr.Wrap("fallocate", path, err)
		}
	case fi.Size() != size:
		f.Close()
		return nil, fmt.Errorf("trunk: container %q has length %d, want %d", path, fi.Size(), size)
	}
	return &container{fileID: fileID, path: path, size: size, f: f}, nil
}

// readHeader reads the 24-byte slot header at offset.
func (c *container) readHeader(offset int64) (SlotHeader, error) {
	var buf [HeaderSize]byte
	if _, err := c.f.ReadAt(buf[:], offset); err != nil {
		return SlotHeader{}, dioerr.Wrap("read", c.path, err)
	}
	return UnpackHeader(buf), nil
}

// writeHeader writes h at offset.
func (c *container) writeHeader(offset int64, h SlotHeader) error {
	buf := PackHeader(h)
	if _, err := c.f.WriteAt(buf[:], offset); err != nil {
		return dioerr.Wrap("write", c.path, err)
	}
	return nil
}

// zeroHeader clears the header at offset back to the all-zero free
// template (used by free() and by free-ing up a slot after an abort).
func (c *container) zeroHeader(offset int64) error {
	return c.writeHeader(offset, SlotHeader{})
}

// checkSlotFree implements spec.md §4.D's check_slot_free: read the
// header at slotOffset and require it to be the free template, tolerating
// the three fields the original parser tolerates (see tolerantlyFree in
// header.go). Any tolerated non-zero hit is logged per spec.md §9's open
// question ("replicate literally but flag any hit with a warning").
func (c *container) checkSlotFree(slotOffset int64, log storagelog.Logger) error {
	h, err := c.readHeader(slotOffset)
	if err != nil {
		return err
	}
	if h.IsFree() {
		return nil
	}
	if tolerantlyFree(h) {
		log.Warnf("trunk: container %q offset %d: tolerated non-zero alloc_size/file_size/file_type on an otherwise-empty slot header", c.path, slotOffset)
		return nil
	}
	return fmt.Errorf("%w: container %q offset %d", dioerr.ErrSlotOccupied, c.path, slotOffset)
}

func (c *container) sync() error {
	return dioerr.Wrap("fsync", c.path, c.f.Sync())
}

func (c *container) close() error {
	return dioerr.Wrap("close", c.path, c.f.Close())
}
