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

// Package trunk packs many small files into large pre-allocated
// container files (spec.md §3, §4.C, §4.D): every slot begins with a
// fixed 24-byte header, a slot is free iff that header is all-zero, and
// an ordered free-list allocator hands out the smallest fitting slot,
// splitting or coalescing as needed. Grounded on the teacher's
// pkg/blobserver/diskpacked, which packs blobs sequentially into
// pack-NNNNN.blobs files with an out-of-band kv index; this package
// keeps the "many blobs, one big file" idea but embeds the index in-band
// (the header) and adds slot reuse, which diskpacked deliberately never
// implements (its RemoveBlobs is a TODO stub).
package trunk

import (
	"encoding/binary"
	"fmt"

	"github.com/fastdfs-go/storaged/internal/dioerr"
)

// HeaderSize is the fixed width of a slot header (spec.md §6).
const HeaderSize = 24

// Field widths inside the header, per spec.md §6's canonical table (the
// one place the widths actually sum to HeaderSize; §3's inline notation
// lists a 5-byte reserved tail that would sum to 28 and is treated as a
// documentation slip, see DESIGN.md).
const extNameLen = 6

// File-type bits for the file_type field (spec.md §6).
const (
	FileTypeRegular  uint8 = 1
	FileTypeLink     uint8 = 2
	FileTypeAppender uint8 = 4
)

// recoveredFlag marks SlotHeader.Reserved's one defined bit: the slot's
// occupancy was last confirmed by crash-replay reconciliation rather
// than a live confirm call (see SUPPLEMENTED FEATURES in SPEC_FULL.md).
const recoveredFlag = 0x01

// SlotHeader is the 24-byte packed record prefixing every trunk slot.
type SlotHeader struct {
	AllocSize uint32 // total slot size including this header
	FileSize  uint32 // payload bytes
	CRC32     uint32 // CRC32 of the payload
	Mtime     uint32 // UNIX seconds
	FileType  uint8  // FileTypeRegular / FileTypeLink / FileTypeAppender
	Ext       [extNameLen]byte
	Reserved  byte
}

// Recovered reports whether this slot's last confirm came from
// crash-replay reconciliation rather than a live client upload.
func (h SlotHeader) Recovered() bool { return h.Reserved&recoveredFlag != 0 }

// MarkRecovered sets the reconciliation flag bit.
func (h *SlotHeader) MarkRecovered() { h.Reserved |= recoveredFlag }

// IsFree reports whether h is the all-zero empty-slot header.
func (h SlotHeader) IsFree() bool { return h == SlotHeader{} }

// PackHeader encodes h into a 24-byte little-endian record (spec.md §4.D).
func PackHeader(h SlotHeader) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.AllocSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.FileSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.CRC32)
	binary.LittleEndian.PutUint32(buf[12:16], h.Mtime)
	buf[16] = h.FileType
	copy(buf[17:17+extNameLen], h.Ext[:])
	buf[23] = h.Reserved
	return buf
}

// UnpackHeader decodes a 24-byte record into a SlotHeader.
func UnpackHeader(buf [HeaderSize]byte) SlotHeader {
	var h SlotHeader
	h.AllocSize = binary.LittleEndian.Uint32(buf[0:4])
	h.FileSize = binary.LittleEndian.Uint32(buf[4:8])
	h.CRC32 = binary.LittleEndian.Uint32(buf[8:12])
	h.Mtime = binary.LittleEndian.Uint32(buf[12:16])
	h.FileType = buf[16]
	copy(h.Ext[:], buf[17:17+extNameLen])
	h.Reserved = buf[23]
	return h
}

// EncodeExt right-pads ext (without a leading dot) with NUL bytes to
// extNameLen, rejecting anything longer.
func EncodeExt(ext string) ([extNameLen]byte, error) {
	var out [extNameLen]byte
	if len(ext) > extNameLen {
		return out, fmt.Errorf("%w: extension %q longer than %d", dioerr.ErrInvalidArgument, ext, extNameLen)
	}
	copy(out[:], ext)
	return out, nil
}

// DecodeExt trims the NUL padding back off an Ext field.
func DecodeExt(ext [extNameLen]byte) string {
	n := extNameLen
	for n > 0 && ext[n-1] == 0 {
		n--
	}
	return string(ext[:n])
}

// emptyTemplate is checked against after zeroing the three tolerated
// fields, per spec.md §9's open question: the original parser tolerates
// a non-zero alloc_size/file_size/file_type if, once those three fields
// are re-zeroed, the remaining bytes (crc32, mtime, ext, reserved) match
// an all-zero empty-slot template. We replicate this literally rather
// than resolve the ambiguity, and the caller logs a warning on any hit
// (see container.checkSlotFree in container.go).
func tolerantlyFree(h SlotHeader) bool {
	h.AllocSize = 0
	h.FileSize = 0
	h.FileType = 0
	return h.IsFree()
}
