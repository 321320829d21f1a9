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

	"github.com/fastdfs-go/storaged/pkg/dio"
	"github.com/fastdfs-go/storaged/pkg/fileid"
	"github.com/fastdfs-go/storaged/pkg/pathstore"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

// UploadOptions selects an upload's storage mode. Trunk-vs-normal and
// appender-vs-regular are independent axes (spec.md §4.G: an appender
// file's slot header can itself live in a trunk container), so this is
// caller-specified per request rather than picked automatically off a
// size threshold -- spec.md leaves that routing policy unstated, and a
// caller (the command layer, out of this module's scope) is the one that
// actually knows whether the client asked for an appender file.
type UploadOptions struct {
	Trunk    bool
	Appender bool
}

// Upload runs spec.md §4.G's regular/trunk/appender upload state machine:
// acquire a store path and name, drive src through the DIO writer in
// chunks, and on the final chunk compute the file ID and make the bytes
// visible under their permanent name. socketFD selects the dispatcher's
// thread-affine queue (spec.md §4.F).
func Upload(core *Core, group string, size int64, ext string, opts UploadOptions, src io.Reader, socketFD int) (string, error) {
	core.Stats.UploadTotal()

	path, err := core.Registry.AcquirePath(size)
	if err != nil {
		return "", err
	}
	var allocator *trunk.Allocator
	if opts.Trunk {
		allocator = core.Allocators[path.Index]
		if allocator == nil {
			return "", fmt.Errorf("ioflow: trunk storage not configured on store path %d", path.Index)
		}
	}

	salt, err := randomSalt()
	if err != nil {
		return "", err
	}
	xx, yy := core.Registry.SubdirFor(salt)
	salt &^= fileid.AppenderSaltBit
	if opts.Appender {
		salt |= fileid.AppenderSaltBit
	}

	fileType := trunk.FileTypeRegular
	if opts.Appender {
		fileType = trunk.FileTypeAppender
	}

	ctx := &dio.FileContext{
		Op:        dio.OpWrite,
		SocketFD:  socketFD,
		PathIndex: path.Index,
		End:       size,
		CalcCRC32: true,
		HashKind:  core.hashKind(),
		Log:       core.Log,
	}

	if opts.Trunk {
		if err := wireTrunkUpload(core, ctx, allocator, size, ext, fileType); err != nil {
			return "", err
		}
	} else {
		wireNormalUpload(ctx, path, xx, yy, salt)
	}

	if err := driveWrite(core.Dispatcher, ctx, src); err != nil {
		return "", err
	}

	fp := ctx.FinishFingerprint(core.now())
	fields := fileid.Fields{
		SourceIP:  core.SourceIP,
		CreatedAt: uint32(core.now().Unix()),
		Size:      uint64(fp.Size),
		CRC32:     fp.CRC32,
		Salt:      salt,
		Ext:       ext,
	}

	if opts.Trunk {
		fields.Trunk = ctx.Trunk
	} else if err := finalizeNormalUpload(ctx, path, xx, yy, fields); err != nil {
		return "", err
	}

	id, err := buildFileID(group, pathPrefixFor(path.Index), xx, yy, fields)
	if err != nil {
		return "", err
	}

	path.SetFreeBytes(path.FreeBytes() - fp.Size)
	core.Stats.UploadSuccess()
	core.Stats.NoteFileWritten(core.now().Unix())
	core.Stats.NoteSourceUpdate(core.now().Unix())
	return id, nil
}

// wireNormalUpload points ctx at a fresh temp file under the acquired
// path's fan-out directory; the caller renames it to its final,
// ID-derived name once the content's CRC32 is known (spec.md §4.G step 4).
// An initial appender upload is "the same as a regular upload" (spec.md
// §4.G), so it shares the normal-upload clean_func too -- the
// truncate-to-Start variant is only for a later Append call against an
// existing appender file.
func wireNormalUpload(ctx *dio.FileContext, path *pathstore.Path, xx, yy string, salt uint32) {
	dir := path.ContentDir(xx, yy)
	ctx.Filename = tempFilename(dir, salt)
	ctx.OpenFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	ctx.CleanFunc = CleanNormalUpload
}

// finalizeNormalUpload renames the completed temp file to its permanent,
// ID-derived name.
func finalizeNormalUpload(ctx *dio.FileContext, path *pathstore.Path, xx, yy string, fields fileid.Fields) error {
	coreName, err := fileid.Encode(fields)
	if err != nil {
		return err
	}
	final := onDiskPath(path, xx, yy, coreName)
	if err := os.Rename(ctx.Filename, final); err != nil {
		return fmt.Errorf("ioflow: finalizing upload: %w", err)
	}
	return nil
}

// wireTrunkUpload installs the BeforeOpen/BeforeClose hooks that turn a
// regular write into a trunk-resident one (spec.md §4.G "Trunk upload").
func wireTrunkUpload(core *Core, ctx *dio.FileContext, allocator *trunk.Allocator, size int64, ext string, fileType uint8) error {
	ctx.OpenFlags = os.O_WRONLY
	ctx.CleanFunc = CleanTrunkWrite
	ctx.BeforeOpen = func(c *dio.FileContext) error {
		ref, lease, err := allocator.Alloc(size)
		if err != nil {
			return err
		}
		if err := allocator.CheckSlotFree(ref); err != nil {
			if abandonErr := allocator.Abandon(ref, lease); abandonErr != nil && core.Log != nil {
				core.Log.Errorf("ioflow: abandoning corrupted trunk slot container=%d offset=%d: %v", ref.FileID, ref.Offset, abandonErr)
			}
			return err
		}
		c.Trunk = &ref
		c.TrunkLease = lease
		c.TrunkFree = allocator.Free
		c.Filename = allocator.ContainerPath(ref.FileID)
		base := int64(ref.Offset) + trunk.HeaderSize
		c.Start = base
		c.Offset = base
		c.End = base + size
		return nil
	}
	ctx.BeforeClose = func(c *dio.FileContext) error {
		extBytes, err := trunk.EncodeExt(ext)
		if err != nil {
			return err
		}
		fp := c.FinishFingerprint(core.now())
		header := trunk.SlotHeader{
			FileSize: uint32(fp.Size),
			CRC32:    fp.CRC32,
			Mtime:    uint32(core.now().Unix()),
			FileType: fileType,
			Ext:      extBytes,
		}
		return allocator.Confirm(*c.Trunk, c.TrunkLease, header)
	}
	return nil
}

// UploadSlave implements spec.md's supplemented upload-slave command: it
// runs the identical state machine as Upload into masterID's group and
// returns the new file's ID with "_suffix" spliced in before the
// extension (e.g. a thumbnail naming convention). Only the group is taken
// from masterID; the rest of the name is the new upload's own encoded
// fields.
func UploadSlave(core *Core, masterID, suffix string, size int64, ext string, opts UploadOptions, src io.Reader, socketFD int) (string, error) {
	group, _, _, _, _, err := splitRemoteName(masterID)
	if err != nil {
		return "", err
	}
	id, err := Upload(core, group, size, ext, opts, src, socketFD)
	if err != nil {
		return "", err
	}
	return spliceSlaveSuffix(id, suffix), nil
}

// spliceSlaveSuffix inserts "_suffix" between the base64-fields core and
// the extension of a freshly built file ID.
func spliceSlaveSuffix(id, suffix string) string {
	if suffix == "" {
		return id
	}
	i := len(id)
	for i > 0 && id[i-1] != '.' && id[i-1] != '/' {
		i--
	}
	if i == 0 || id[i-1] != '.' {
		return id + "_" + suffix
	}
	dot := i - 1
	return id[:dot] + "_" + suffix + id[dot:]
}
