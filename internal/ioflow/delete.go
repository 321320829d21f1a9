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

	"github.com/fastdfs-go/storaged/pkg/dio"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

// Delete implements spec.md §4.G's delete. It routes through the real
// dio_delete_normal_file/dio_delete_trunk_file handlers (spec.md §4.F)
// rather than unlinking or freeing directly, so delete shares their
// "never propagate a missing-target failure to the caller, only log it"
// contract -- the handlers already bump DeleteTotal/DeleteSuccess
// themselves. The sibling .meta file, if any, is removed separately: it
// has no existence independent of the content it annotates, and the
// handlers have no notion of it.
func Delete(core *Core, id string) error {
	path, allocator, fields, err := core.resolveRemoteName(id)
	if err != nil {
		return err
	}

	ctx := &dio.FileContext{
		SocketFD:  0,
		PathIndex: path.Index,
		Log:       core.Log,
	}

	if fields.Trunk != nil {
		if allocator == nil {
			return fmt.Errorf("ioflow: file %q names a trunk slot but its store path has no allocator", id)
		}
		ref := trunk.SlotRef{FileID: fields.Trunk.FileID, Offset: fields.Trunk.Offset, Size: fields.Trunk.Size}
		ctx.Op = dio.OpDeleteTrunk
		ctx.Trunk = &ref
		ctx.TrunkFree = allocator.Free
	} else {
		_, _, xx, yy, coreName, err := splitRemoteName(id)
		if err != nil {
			return err
		}
		ctx.Op = dio.OpDeleteNormal
		ctx.Filename = onDiskPath(path, xx, yy, coreName)
	}

	if err := driveNoBody(core.Dispatcher, ctx); err != nil {
		return err
	}

	if target, err := core.resolveMetaTarget(id); err == nil {
		os.Remove(target.filename)
	}

	core.Stats.NoteSourceUpdate(core.now().Unix())
	return nil
}
