/*
Copyright 2011 Google Inc.

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

// Package fileid generates and parses the storage server's server-side
// filenames (spec.md §4.B, §6): a URL-safe base64 packing of
// (source-IP, creation timestamp, file size, CRC32, random salt) plus an
// optional fixed-width trunk-location segment, followed by a literal dot
// and the original extension. The teacher's pkg/blob/ref.go has the
// analogous string-encode/parse-with-distinct-error idiom for a content
// digest reference; this codec packs a fixed binary record instead of
// hashing. Both records happen to be whole multiples of 3 bytes, so their
// base64 never needs padding -- the two segments can be told apart by
// length alone rather than by a delimiter that could collide with the
// URL-safe alphabet.
package fileid

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/fastdfs-go/storaged/internal/dioerr"
)

// fieldsLen is the little-endian packed record: 4-byte IP + 4-byte
// timestamp + 8-byte size + 4-byte CRC32 + 4-byte salt.
const fieldsLen = 4 + 4 + 8 + 4 + 4

// MaxExtLen is the maximum extension length, not counting the dot
// (spec.md §6, FdfsFileExtNameMaxLen).
const MaxExtLen = 6

// AppenderSaltBit marks a normal (non-trunk) file as appender-mode by
// stealing the salt field's top bit. The salt only needs to disambiguate
// otherwise-identical uploads within the same second, so one bit given up
// to a mode flag costs nothing; trunk-resident files instead carry their
// appender bit in the slot header's file_type (spec.md §6), which has no
// analogue for a bare normal file, so this is where that state has to
// live for one to exist at all.
const AppenderSaltBit = uint32(1) << 31

// IsAppender reports whether f's salt field carries AppenderSaltBit.
func (f Fields) IsAppender() bool { return f.Salt&AppenderSaltBit != 0 }

// TrunkInfo locates a stored file inside a trunk container, encoded as an
// extra segment of a trunk-resident file's ID (spec.md §3).
type TrunkInfo struct {
	FileID uint32
	Offset uint32
	Size   uint32
}

// Fields are the base64-packed record embedded in every file ID.
type Fields struct {
	SourceIP  uint32
	CreatedAt uint32
	Size      uint64
	CRC32     uint32
	Salt      uint32
	Ext       string // without the leading dot, len <= MaxExtLen
	Trunk     *TrunkInfo
}

var enc = base64.URLEncoding.WithPadding(base64.NoPadding)

// encLen is the base64 (no padding) length of an n-byte record, used to
// slice the core of a filename at fixed positions instead of hunting for a
// delimiter -- the 24-byte and 12-byte records the spec packs both happen
// to be multiples of 3 bytes, so base64 never needs padding and the core
// is always exactly fieldsB64Len, or fieldsB64Len+trunkB64Len when a trunk
// segment is present.
func encLen(n int) int { return (n*8 + 5) / 6 }

var (
	fieldsB64Len = encLen(fieldsLen) // 32
	trunkB64Len  = encLen(12)        // 16
)

// Encode packs fields into the base64(record)[base64(trunk)].ext remote
// filename body (the caller prefixes group/path-prefix/XX/YY/ separately).
func Encode(f Fields) (string, error) {
	if len(f.Ext) > MaxExtLen {
		return "", fmt.Errorf("%w: extension %q longer than %d", dioerr.ErrInvalidArgument, f.Ext, MaxExtLen)
	}
	buf := make([]byte, fieldsLen)
	binary.LittleEndian.PutUint32(buf[0:4], f.SourceIP)
	binary.LittleEndian.PutUint32(buf[4:8], f.CreatedAt)
	binary.LittleEndian.PutUint64(buf[8:16], f.Size)
	binary.LittleEndian.PutUint32(buf[16:20], f.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], f.Salt)

	s := enc.EncodeToString(buf)
	if f.Trunk != nil {
		tbuf := make([]byte, 12)
		binary.LittleEndian.PutUint32(tbuf[0:4], f.Trunk.FileID)
		binary.LittleEndian.PutUint32(tbuf[4:8], f.Trunk.Offset)
		binary.LittleEndian.PutUint32(tbuf[8:12], f.Trunk.Size)
		s += enc.EncodeToString(tbuf)
	}
	if f.Ext != "" {
		s += "." + f.Ext
	}
	return s, nil
}

// Decode is the inverse of Encode, rejecting malformed names with
// dioerr.ErrInvalidFilename.
func Decode(name string) (Fields, error) {
	var f Fields

	core := name
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		core, ext = name[:i], name[i+1:]
	}
	if len(ext) > MaxExtLen {
		return f, fmt.Errorf("%w: extension too long in %q", dioerr.ErrInvalidFilename, name)
	}

	var trunkPart string
	switch len(core) {
	case fieldsB64Len:
		// no trunk segment
	case fieldsB64Len + trunkB64Len:
		trunkPart = core[fieldsB64Len:]
		core = core[:fieldsB64Len]
	default:
		return f, fmt.Errorf("%w: %q", dioerr.ErrInvalidFilename, name)
	}

	raw, err := enc.DecodeString(core)
	if err != nil || len(raw) != fieldsLen {
		return f, fmt.Errorf("%w: %q", dioerr.ErrInvalidFilename, name)
	}
	f.SourceIP = binary.LittleEndian.Uint32(raw[0:4])
	f.CreatedAt = binary.LittleEndian.Uint32(raw[4:8])
	f.Size = binary.LittleEndian.Uint64(raw[8:16])
	f.CRC32 = binary.LittleEndian.Uint32(raw[16:20])
	f.Salt = binary.LittleEndian.Uint32(raw[20:24])
	f.Ext = ext

	if trunkPart != "" {
		traw, err := enc.DecodeString(trunkPart)
		if err != nil || len(traw) != 12 {
			return f, fmt.Errorf("%w: bad trunk segment in %q", dioerr.ErrInvalidFilename, name)
		}
		f.Trunk = &TrunkInfo{
			FileID: binary.LittleEndian.Uint32(traw[0:4]),
			Offset: binary.LittleEndian.Uint32(traw[4:8]),
			Size:   binary.LittleEndian.Uint32(traw[8:12]),
		}
	}
	return f, nil
}
