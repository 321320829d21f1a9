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

package ioflow

import (
	"fmt"
	"io"
	"os"

	"github.com/fastdfs-go/storaged/internal/dioerr"
	"github.com/fastdfs-go/storaged/pkg/dio"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

// appenderTarget is an existing appender file resolved from its file ID,
// normal or trunk-resident, with the bookkeeping Append/Modify/Truncate
// need in common.
type appenderTarget struct {
	Filename  string
	PathIndex int
	Base      int64 // absolute byte offset of the file's logical start
	Size      int64 // current logical file size
	Capacity  int64 // -1 for a normal file; slot payload bytes for trunk

	IsTrunk   bool
	Allocator *trunk.Allocator
	Ref       trunk.SlotRef
	FileType  uint8
	Ext       [6]byte
	CRC32     uint32
}

// resolveAppenderTarget parses id, confirms it names an appender file
// (spec.md §4.G "Truncate: ... Must be an appender file; regular files
// return not_appender"), and returns enough state for Append/Modify/
// Truncate to act without re-parsing.
func (c *Core) resolveAppenderTarget(id string) (appenderTarget, error) {
	path, allocator, fields, err := c.resolveRemoteName(id)
	if err != nil {
		return appenderTarget{}, err
	}

	if fields.Trunk != nil {
		if allocator == nil {
			return appenderTarget{}, fmt.Errorf("ioflow: file %q names a trunk slot but its store path has no allocator", id)
		}
		ref := trunk.SlotRef{FileID: fields.Trunk.FileID, Offset: fields.Trunk.Offset, Size: fields.Trunk.Size}
		header, err := allocator.ReadHeader(ref)
		if err != nil {
			return appenderTarget{}, err
		}
		if header.IsFree() {
			return appenderTarget{}, dioerr.ErrNotFound
		}
		if header.FileType != trunk.FileTypeAppender {
			return appenderTarget{}, dioerr.ErrNotAppender
		}
		return appenderTarget{
			Filename:  allocator.ContainerPath(ref.FileID),
			PathIndex: path.Index,
			Base:      int64(ref.Offset) + trunk.HeaderSize,
			Size:      int64(header.FileSize),
			Capacity:  int64(ref.Size) - trunk.HeaderSize,
			IsTrunk:   true,
			Allocator: allocator,
			Ref:       ref,
			FileType:  header.FileType,
			Ext:       header.Ext,
			CRC32:     header.CRC32,
		}, nil
	}

	if !fields.IsAppender() {
		return appenderTarget{}, dioerr.ErrNotAppender
	}
	_, _, xx, yy, coreName, err := splitRemoteName(id)
	if err != nil {
		return appenderTarget{}, err
	}
	filename := onDiskPath(path, xx, yy, coreName)
	fi, err := os.Stat(filename)
	if err != nil {
		return appenderTarget{}, dioerr.Wrap("stat", filename, err)
	}
	return appenderTarget{
		Filename:  filename,
		PathIndex: path.Index,
		Capacity:  -1,
		Size:      fi.Size(),
	}, nil
}

// fitsCapacity reports whether end bytes fit inside t (always true for a
// normal file; bounded by the slot's fixed payload size for a trunk one).
func (t appenderTarget) fitsCapacity(end int64) error {
	if t.Capacity >= 0 && end > t.Capacity {
		return fmt.Errorf("%w: would grow to %d bytes, exceeding trunk slot capacity %d", dioerr.ErrInvalidArgument, end, t.Capacity)
	}
	return nil
}

// confirmTrunkHeader rewrites t's slot header with a new file_size,
// preserving crc32/ext/file_type, and durably confirms it through the
// allocator (reusing Confirm's write-then-binlog-confirm sequence for a
// header update rather than a fresh allocation; an empty lease is a
// harmless no-op against the pending map).
func (t appenderTarget) confirmTrunkHeader(now int64, fileSize uint32) error {
	header := trunk.SlotHeader{
		FileSize: fileSize,
		CRC32:    t.CRC32,
		Mtime:    uint32(now),
		FileType: t.FileType,
		Ext:      t.Ext,
	}
	return t.Allocator.Confirm(t.Ref, "", header)
}

// Append implements spec.md §4.G's append: bytes are received from the
// file's current end (start) through start+length. On abort, normal
// files are truncated back to start; a trunk-resident file's header
// simply isn't rewritten, so the old, shorter file_size stays durable.
func Append(core *Core, id string, length int64, src io.Reader, socketFD int) error {
	t, err := core.resolveAppenderTarget(id)
	if err != nil {
		return err
	}
	core.Stats.AppendTotal()

	start := t.Size
	end := start + length
	if err := t.fitsCapacity(end); err != nil {
		return err
	}

	ctx := &dio.FileContext{
		Op:        dio.OpWrite,
		Filename:  t.Filename,
		SocketFD:  socketFD,
		PathIndex: t.PathIndex,
		OpenFlags: os.O_WRONLY,
		Start:     t.Base + start,
		Offset:    t.Base + start,
		End:       t.Base + end,
		Log:       core.Log,
	}
	if t.IsTrunk {
		ctx.CleanFunc = CleanTrunkAppend
		ctx.BeforeClose = func(*dio.FileContext) error {
			return t.confirmTrunkHeader(core.now().Unix(), uint32(end))
		}
	} else {
		ctx.CleanFunc = CleanAppenderAppend
	}

	if err := driveWrite(core.Dispatcher, ctx, src); err != nil {
		return err
	}
	core.Stats.AppendSuccess()
	core.Stats.NoteSourceUpdate(core.now().Unix())
	return nil
}

// Modify implements spec.md §4.G's modify: write length bytes at an
// explicit offset inside an appender file, which may lie before or after
// the current end. On abort, nothing is truncated -- bytes beyond offset
// may have pre-existed the call and weren't the caller's to roll back.
func Modify(core *Core, id string, offset, length int64, src io.Reader, socketFD int) error {
	t, err := core.resolveAppenderTarget(id)
	if err != nil {
		return err
	}
	core.Stats.ModifyTotal()

	end := offset + length
	if err := t.fitsCapacity(end); err != nil {
		return err
	}

	ctx := &dio.FileContext{
		Op:        dio.OpWrite,
		Filename:  t.Filename,
		SocketFD:  socketFD,
		PathIndex: t.PathIndex,
		OpenFlags: os.O_WRONLY,
		Start:     t.Base + offset,
		Offset:    t.Base + offset,
		End:       t.Base + end,
		Log:       core.Log,
	}
	newSize := end
	if t.Size > newSize {
		newSize = t.Size
	}
	if t.IsTrunk {
		ctx.CleanFunc = CleanTrunkModify
		ctx.BeforeClose = func(*dio.FileContext) error {
			return t.confirmTrunkHeader(core.now().Unix(), uint32(newSize))
		}
	} else {
		ctx.CleanFunc = CleanAppenderModify
	}

	if err := driveWrite(core.Dispatcher, ctx, src); err != nil {
		return err
	}
	core.Stats.ModifySuccess()
	core.Stats.NoteSourceUpdate(core.now().Unix())
	return nil
}

// Truncate implements spec.md §4.G's truncate: set an appender file's
// length to newSize (0 allowed). A trunk-resident file's container
// can't be ftruncate'd without destroying sibling slots stored after it,
// so truncation there is purely a header rewrite of file_size; a normal
// file gets a real ftruncate through the DIO dispatcher.
func Truncate(core *Core, id string, newSize int64, socketFD int) error {
	t, err := core.resolveAppenderTarget(id)
	if err != nil {
		return err
	}
	if err := t.fitsCapacity(newSize); err != nil {
		return err
	}

	if t.IsTrunk {
		if err := t.confirmTrunkHeader(core.now().Unix(), uint32(newSize)); err != nil {
			return err
		}
		core.Stats.TruncateTotal()
		core.Stats.TruncateSuccess()
		core.Stats.NoteSourceUpdate(core.now().Unix())
		return nil
	}

	ctx := &dio.FileContext{
		Op:        dio.OpTruncate,
		Filename:  t.Filename,
		SocketFD:  socketFD,
		PathIndex: t.PathIndex,
		OpenFlags: os.O_WRONLY,
		Offset:    newSize,
		Log:       core.Log,
	}
	if err := driveNoBody(core.Dispatcher, ctx); err != nil {
		return err
	}
	core.Stats.NoteSourceUpdate(core.now().Unix())
	return nil
}
