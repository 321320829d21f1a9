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
	"os"

	"github.com/fastdfs-go/storaged/internal/dioerr"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

// FileInfo is spec.md §4.G's query-file-info result: everything the
// tracker/client needs to know about a stored file without opening its
// content, taken from the decoded file ID, from a trunk slot's header,
// or (for a normal file's size and mtime) from an lstat of its entry.
type FileInfo struct {
	Size     int64
	CRC32    uint32
	Mtime    int64
	SourceIP uint32
}

// QueryFileInfo implements spec.md §4.G's query-file-info: resolve id
// and report its size/crc32/mtime/source without touching the content
// file, reading the slot header for a trunk-resident file or lstat'ing
// the on-disk entry for a normal one. source_ip, and a normal file's
// crc32, come straight out of the file ID itself (spec.md §3); a normal
// file's size and mtime come from the lstat.
func QueryFileInfo(core *Core, id string) (FileInfo, error) {
	path, allocator, fields, err := core.resolveRemoteName(id)
	if err != nil {
		return FileInfo{}, err
	}

	if fields.Trunk != nil {
		if allocator == nil {
			return FileInfo{}, fmt.Errorf("ioflow: file %q names a trunk slot but its store path has no allocator", id)
		}
		ref := trunk.SlotRef{FileID: fields.Trunk.FileID, Offset: fields.Trunk.Offset, Size: fields.Trunk.Size}
		header, err := allocator.ReadHeader(ref)
		if err != nil {
			return FileInfo{}, err
		}
		if header.IsFree() {
			return FileInfo{}, dioerr.ErrNotFound
		}
		return FileInfo{
			Size:     int64(header.FileSize),
			CRC32:    header.CRC32,
			Mtime:    int64(header.Mtime),
			SourceIP: fields.SourceIP,
		}, nil
	}

	_, _, xx, yy, coreName, err := splitRemoteName(id)
	if err != nil {
		return FileInfo{}, err
	}
	filename := onDiskPath(path, xx, yy, coreName)
	fi, err := os.Lstat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, dioerr.ErrNotFound
		}
		return FileInfo{}, dioerr.Wrap("lstat", filename, err)
	}
	return FileInfo{
		Size:     fi.Size(),
		CRC32:    fields.CRC32,
		Mtime:    fi.ModTime().Unix(),
		SourceIP: fields.SourceIP,
	}, nil
}
