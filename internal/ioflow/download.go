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

// Download runs spec.md §4.G's download state machine: parse the file
// ID, resolve its store path (and trunk slot, if resident in one),
// compute the byte range, and drive the content into dst in chunks.
// downloadBytes == 0 means "to the end of file" (spec.md §4.G step 2).
func Download(core *Core, id string, offset, downloadBytes int64, dst io.Writer, socketFD int) error {
	path, allocator, fields, err := core.resolveRemoteName(id)
	if err != nil {
		return err
	}

	ctx := &dio.FileContext{
		Op:        dio.OpRead,
		SocketFD:  socketFD,
		PathIndex: path.Index,
		OpenFlags: os.O_RDONLY,
		CalcCRC32: true,
		HashKind:  core.hashKind(),
		Log:       core.Log,
		CleanFunc: CleanDownload,
	}

	if fields.Trunk != nil {
		if allocator == nil {
			return fmt.Errorf("ioflow: file %q names a trunk slot but its store path has no allocator", id)
		}
		ref := trunk.SlotRef{FileID: fields.Trunk.FileID, Offset: fields.Trunk.Offset, Size: fields.Trunk.Size}
		header, err := allocator.ReadHeader(ref)
		if err != nil {
			return err
		}
		if header.IsFree() {
			return dioerr.ErrNotFound
		}
		base := int64(ref.Offset) + trunk.HeaderSize
		fileSize := int64(header.FileSize)
		if downloadBytes == 0 {
			downloadBytes = fileSize - offset
		}
		ctx.Filename = allocator.ContainerPath(ref.FileID)
		ctx.Start = base + offset
		ctx.Offset = base + offset
		ctx.End = base + offset + downloadBytes
	} else {
		_, _, xx, yy, coreName, err := splitRemoteName(id)
		if err != nil {
			return err
		}
		filename := onDiskPath(path, xx, yy, coreName)
		if downloadBytes == 0 {
			fi, err := os.Stat(filename)
			if err != nil {
				return dioerr.Wrap("stat", filename, err)
			}
			downloadBytes = fi.Size() - offset
		}
		ctx.Filename = filename
		ctx.Start = offset
		ctx.Offset = offset
		ctx.End = offset + downloadBytes
	}

	return driveRead(core.Dispatcher, ctx, dst)
}
