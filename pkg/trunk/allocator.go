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
	"sync"

	"github.com/google/btree"

	"github.com/fastdfs-go/storaged/internal/storagelog"
)

// MinSlotSize is the smallest leftover worth keeping as its own free
// slot after a split (spec.md §4.C); a smaller remainder is folded into
// the allocated slot instead of becoming an unusably tiny free entry.
const MinSlotSize = 256

// SlotRef locates one slot inside one trunk container. Size is the
// slot's alloc_size, header included.
type SlotRef struct {
	FileID uint32
	Offset uint32
	Size   uint32
}

// freeSlot is the btree.Item ordering free slots by (size, file, offset)
// for best-fit lookup with stable tie-breaking, per spec.md §4.C.
type freeSlot SlotRef

func (a freeSlot) Less(than btree.Item) bool {
	b := than.(freeSlot)
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	if a.FileID != b.FileID {
		return a.FileID < b.FileID
	}
	return a.Offset < b.Offset
}

// Allocator manages the free-slot index and container set for one store
// path (spec.md §4.C): a single mutex serializes alloc/free/confirm
// because writes within a path are already serialized by the DIO writer
// pool, so there's no benefit to finer-grained locking. Grounded on the
// teacher's diskpacked.go (one mutex around the current container and
// its index), generalized with github.com/google/btree for best-fit
// lookup, which diskpacked has no equivalent of since it never reuses
// space.
type Allocator struct {
	mu sync.Mutex

	dataDir       string
	containerSize int64
	log           storagelog.Logger
	binlog        *Binlog

	free     *btree.BTree
	byOffset map[uint32]map[uint32]SlotRef // fileID -> offset -> free slot, for adjacency lookups

	containerSizes map[uint32]int64
	containers     map[uint32]*container
	nextFileID     uint32

	pending map[string]SlotRef // lease -> slot allocated but not yet confirmed
}

// NewAllocator opens (or creates) the binlog at dataDir/trunk.binlog,
// replays it to rebuild the free-slot index and container set, and
// reconciles any allocation that crashed before it was confirmed (spec.md
// §4.C "Failure semantics").
func NewAllocator(dataDir string, containerSize int64, log storagelog.Logger) (*Allocator, error) {
	binlogPath := filepath.Join(dataDir, "trunk.binlog")
	bl, records, err := OpenBinlog(binlogPath)
	if err != nil {
		return nil, err
	}
	a := &Allocator{
		dataDir:        dataDir,
		containerSize:  containerSize,
		log:            log,
		binlog:         bl,
		free:           btree.New(32),
		byOffset:       map[uint32]map[uint32]SlotRef{},
		containerSizes: map[uint32]int64{},
		containers:     map[uint32]*container{},
		pending:        map[string]SlotRef{},
	}
	a.replay(records)
	if err := a.reconcilePending(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allocator) replay(records []binlogRecord) {
	for _, rec := range records {
		switch rec.kind {
		case "container":
			a.containerSizes[rec.fileID] = int64(rec.size)
			if rec.fileID >= a.nextFileID {
				a.nextFileID = rec.fileID + 1
			}
			a.insertFree(SlotRef{FileID: rec.fileID, Offset: 0, Size: rec.size})
		case "alloc":
			ref := SlotRef{FileID: rec.fileID, Offset: rec.offset, Size: rec.size}
			if m, ok := a.byOffset[ref.FileID]; ok {
				if existing, ok2 := m[ref.Offset]; ok2 {
					a.removeFree(existing)
					if leftover := existing.Size - ref.Size; leftover > 0 {
						a.insertFree(SlotRef{FileID: ref.FileID, Offset: ref.Offset + ref.Size, Size: leftover})
					}
				}
			}
			a.pending[rec.lease] = ref
		case "confirm":
			delete(a.pending, rec.lease)
		case "free":
			ref := SlotRef{FileID: rec.fileID, Offset: rec.offset, Size: rec.size}
			for lease, p := range a.pending {
				if p == ref {
					delete(a.pending, lease)
				}
			}
			a.insertFreeCoalesced(ref)
		}
	}
}

// reconcilePending implements the crash-recovery rule of spec.md §4.C:
// any slot left allocated-but-unconfirmed in the binlog is reclaimed as
// free if (and only if) its on-disk header is still the zero template;
// a non-zero header means confirm actually ran and only the binlog
// append of the confirm record was lost, so the slot stays occupied.
func (a *Allocator) reconcilePending() error {
	for lease, ref := range a.pending {
		c, err := a.getContainer(ref.FileID)
		if err != nil {
			return err
		}
		h, err := c.readHeader(int64(ref.Offset))
		if err != nil {
			return err
		}
		delete(a.pending, lease)
		if h.IsFree() {
			a.log.Warnf("trunk: reclaiming unconfirmed slot container=%d offset=%d size=%d after restart", ref.FileID, ref.Offset, ref.Size)
			a.insertFreeCoalesced(ref)
		}
	}
	return nil
}

func (a *Allocator) insertFree(ref SlotRef) {
	a.free.ReplaceOrInsert(freeSlot(ref))
	m := a.byOffset[ref.FileID]
	if m == nil {
		m = map[uint32]SlotRef{}
		a.byOffset[ref.FileID] = m
	}
	m[ref.Offset] = ref
}

func (a *Allocator) removeFree(ref SlotRef) {
	a.free.Delete(freeSlot(ref))
	if m := a.byOffset[ref.FileID]; m != nil {
		delete(m, ref.Offset)
	}
}

// insertFreeCoalesced inserts ref into the free list, first merging it
// with an immediately-preceding and/or immediately-following free slot
// in the same container (spec.md §4.C "coalesces adjacent free slots
// only").
func (a *Allocator) insertFreeCoalesced(ref SlotRef) {
	m := a.byOffset[ref.FileID]
	if m != nil {
		for offset, prev := range m {
			if offset+prev.Size == ref.Offset {
				a.removeFree(prev)
				ref.Offset = prev.Offset
				ref.Size += prev.Size
				break
			}
		}
	}
	if m = a.byOffset[ref.FileID]; m != nil {
		if next, ok := m[ref.Offset+ref.Size]; ok {
			a.removeFree(next)
			ref.Size += next.Size
		}
	}
	a.insertFree(ref)
}

func (a *Allocator) getContainer(fileID uint32) (*container, error) {
	if c, ok := a.containers[fileID]; ok {
		return c, nil
	}
	size, ok := a.containerSizes[fileID]
	if !ok {
		return nil, fmt.Errorf("trunk: unknown container id %d", fileID)
	}
	c, err := checkAndInit(a.dataDir, fileID, size)
	if err != nil {
		return nil, err
	}
	a.containers[fileID] = c
	return c, nil
}

func (a *Allocator) createContainer() (*container, error) {
	fileID := a.nextFileID
	a.nextFileID++
	c, err := checkAndInit(a.dataDir, fileID, a.containerSize)
	if err != nil {
		return nil, err
	}
	a.containers[fileID] = c
	a.containerSizes[fileID] = a.containerSize
	if err := a.binlog.LogContainer(fileID, uint32(a.containerSize)); err != nil {
		return nil, err
	}
	return c, nil
}

// Alloc implements spec.md §4.C's alloc: find the smallest free slot
// that fits size+HeaderSize; split off and re-insert the remainder when
// it's at least MinSlotSize; create a fresh container and retry if no
// slot fits. Returns the slot and a lease token the caller must pass to
// Confirm after a successful upload, or let an abort leave pending
// (reclaimed on the next restart, or explicitly via Free).
func (a *Allocator) Alloc(size int64) (SlotRef, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	need := uint32(size) + HeaderSize
	var best freeSlot
	var found bool
	a.free.AscendGreaterOrEqual(freeSlot{Size: need}, func(i btree.Item) bool {
		best = i.(freeSlot)
		found = true
		return false
	})

	if !found {
		c, err := a.createContainer()
		if err != nil {
			return SlotRef{}, "", err
		}
		best = freeSlot{FileID: c.fileID, Offset: 0, Size: uint32(a.containerSize)}
		if best.Size < need {
			return SlotRef{}, "", fmt.Errorf("trunk: requested size %d exceeds container size %d", size, a.containerSize)
		}
	} else {
		a.removeFree(SlotRef(best))
	}

	ref := SlotRef{FileID: best.FileID, Offset: best.Offset, Size: need}
	if leftover := best.Size - need; leftover >= MinSlotSize {
		a.insertFree(SlotRef{FileID: best.FileID, Offset: best.Offset + need, Size: leftover})
	} else {
		ref.Size = best.Size // leftover too small to stand alone; absorb it
	}

	lease, err := a.binlog.LogAlloc(ref)
	if err != nil {
		return SlotRef{}, "", err
	}
	a.pending[lease] = ref
	return ref, lease, nil
}

// Confirm implements spec.md §4.C's confirm: flush the slot header,
// marking the allocation durable. header.AllocSize is overwritten with
// ref.Size so callers don't need to track it separately.
func (a *Allocator) Confirm(ref SlotRef, lease string, header SlotHeader) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.getContainer(ref.FileID)
	if err != nil {
		return err
	}
	header.AllocSize = ref.Size
	if err := c.writeHeader(int64(ref.Offset), header); err != nil {
		return err
	}
	if err := c.sync(); err != nil {
		return err
	}
	if err := a.binlog.LogConfirm(lease); err != nil {
		return err
	}
	delete(a.pending, lease)
	return nil
}

// Free implements spec.md §4.C's free: zero the slot header and return
// it to the free list, coalescing with adjacent free neighbours.
func (a *Allocator) Free(ref SlotRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.getContainer(ref.FileID)
	if err != nil {
		return err
	}
	if err := c.zeroHeader(int64(ref.Offset)); err != nil {
		return err
	}
	if err := c.sync(); err != nil {
		return err
	}
	a.insertFreeCoalesced(ref)
	return a.binlog.LogFree(ref)
}

// Abandon reverses a pending Alloc that must not proceed -- spec.md §4.D's
// check_slot_free failure path, where ErrSlotOccupied's contract is to
// refuse the upload without writing any bytes. Unlike Free, it never
// touches the slot's on-disk header: the header at ref was never written
// by this allocation attempt, so it may be real, possibly corrupted, data
// that check_slot_free just flagged, and clearing it here would erase the
// very corruption S5 exists to catch. It only undoes the Alloc's
// bookkeeping, same as Free's free-list/binlog side.
func (a *Allocator) Abandon(ref SlotRef, lease string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.pending, lease)
	a.insertFreeCoalesced(ref)
	return a.binlog.LogFree(ref)
}

// CheckSlotFree implements spec.md §4.D's check_slot_free for a slot the
// allocator just handed out, protecting against the corruption scenario
// of S5 (a non-zero header found where the allocator believes free).
func (a *Allocator) CheckSlotFree(ref SlotRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.getContainer(ref.FileID)
	if err != nil {
		return err
	}
	return c.checkSlotFree(int64(ref.Offset), a.log)
}

// ReadHeader returns the slot header at ref without taking it out of
// service; used by query_file_info (spec.md's supplemented feature).
func (a *Allocator) ReadHeader(ref SlotRef) (SlotHeader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.getContainer(ref.FileID)
	if err != nil {
		return SlotHeader{}, err
	}
	return c.readHeader(int64(ref.Offset))
}

// ContainerPath returns the on-disk path of the container holding fileID,
// for the DIO layer to open directly against spec.md §4.G's "(container_path,
// slot_offset + header_size)" target rather than going through the
// allocator's own cached handle.
func (a *Allocator) ContainerPath(fileID uint32) string {
	return containerFilename(a.dataDir, fileID)
}

// ContainerFile returns the allocator's own open file handle backing
// fileID. The DIO handlers do not use it; they open ContainerPath
// separately.
func (a *Allocator) ContainerFile(fileID uint32) (*os.File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.getContainer(fileID)
	if err != nil {
		return nil, err
	}
	return c.f, nil
}

// Close closes every open container and the binlog.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var first error
	for _, c := range a.containers {
		if err := c.close(); err != nil && first == nil {
			first = err
		}
	}
	if err := a.binlog.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
