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

package dio

import (
	"io"
	"os"

	"github.com/fastdfs-go/storaged/internal/dioerr"
	"github.com/fastdfs-go/storaged/pkg/storagestats"
)

// NewHandler returns the dispatcher callback that routes a submitted
// FileContext to its operation-specific handler (spec.md §4.F's worker
// loop: "pop a context, invoke its operation-specific handler").
func NewHandler(stats *storagestats.Stats) func(*FileContext) {
	return func(ctx *FileContext) {
		switch ctx.Op {
		case OpRead:
			handleRead(ctx, stats)
		case OpWrite:
			handleWrite(ctx, stats)
		case OpTruncate:
			handleTruncate(ctx, stats)
		case OpDeleteNormal:
			handleDeleteNormal(ctx, stats)
		case OpDeleteTrunk:
			handleDeleteTrunk(ctx, stats)
		case OpDiscard:
			handleDiscard(ctx)
		}
	}
}

const defaultFileMode = 0644

// openFile implements spec.md §4.F's dio_open_file: open with the
// context's stored flags if not already open, then seek to Offset.
func openFile(ctx *FileContext, stats *storagestats.Stats) error {
	stats.OpenTotal()
	mode := ctx.FileMode
	if mode == 0 {
		mode = defaultFileMode
	}
	f, err := os.OpenFile(ctx.Filename, ctx.OpenFlags, mode)
	if err != nil {
		return dioerr.Wrap("open", ctx.Filename, err)
	}
	if ctx.Offset > 0 {
		if _, err := f.Seek(ctx.Offset, io.SeekStart); err != nil {
			f.Close()
			return dioerr.Wrap("lseek", ctx.Filename, err)
		}
	}
	ctx.Fd = f
	stats.OpenSuccess()
	return nil
}

// runCleanupAndDone invokes the context's rollback handler (spec.md
// §4.H) before signalling completion with err. CleanFunc is required to
// be idempotent (P5) and is responsible for closing Fd.
func runCleanupAndDone(ctx *FileContext, err error) {
	if ctx.CleanFunc != nil {
		ctx.CleanFunc(ctx)
	}
	ctx.Done(ctx, err)
}

// handleRead implements spec.md §4.F's dio_read_file.
func handleRead(ctx *FileContext, stats *storagestats.Stats) {
	if ctx.Aborted {
		runCleanupAndDone(ctx, dioerr.ErrAborted)
		return
	}
	if !ctx.IsOpen() {
		if err := openFile(ctx, stats); err != nil {
			ctx.Done(ctx, err)
			return
		}
	}

	want := ctx.End - ctx.Offset
	if int64(len(ctx.Buffer)) < want {
		want = int64(len(ctx.Buffer))
	}
	stats.ReadTotal()
	n, err := io.ReadFull(ctx.Fd, ctx.Buffer[:want])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		runCleanupAndDone(ctx, dioerr.Wrap("read", ctx.Filename, err))
		return
	}
	stats.ReadSuccess()
	if ctx.CalcCRC32 || ctx.CalcHash {
		ctx.fingerprintAccumulator().Write(ctx.Buffer[:n])
	}
	ctx.Offset += int64(n)

	if !ctx.AtEnd() {
		ctx.ResumeStage(ctx, StageSend)
		return
	}
	ctx.Fd.Close()
	ctx.Fd = nil
	ctx.Done(ctx, nil)
}

// handleWrite implements spec.md §4.F's dio_write_file.
func handleWrite(ctx *FileContext, stats *storagestats.Stats) {
	if ctx.Aborted {
		runCleanupAndDone(ctx, dioerr.ErrAborted)
		return
	}
	if !ctx.IsOpen() {
		if ctx.BeforeOpen != nil {
			if err := ctx.BeforeOpen(ctx); err != nil {
				ctx.Done(ctx, err)
				return
			}
		}
		if err := openFile(ctx, stats); err != nil {
			ctx.Done(ctx, err)
			return
		}
	}

	stats.WriteTotal()
	toWrite := ctx.Buffer[ctx.BuffOffset:]
	n, err := ctx.Fd.Write(toWrite)
	if err != nil {
		runCleanupAndDone(ctx, dioerr.Wrap("write", ctx.Filename, err))
		return
	}
	stats.WriteSuccess()
	if ctx.CalcCRC32 || ctx.CalcHash {
		ctx.fingerprintAccumulator().Write(toWrite[:n])
	}
	ctx.Offset += int64(n)
	ctx.BuffOffset += n

	if !ctx.AtEnd() {
		ctx.BuffOffset = 0
		ctx.ResumeStage(ctx, StageRecv)
		return
	}
	if ctx.BeforeClose != nil {
		if err := ctx.BeforeClose(ctx); err != nil {
			runCleanupAndDone(ctx, err)
			return
		}
	}
	ctx.Fd.Close()
	ctx.Fd = nil
	ctx.Done(ctx, nil)
}

// handleTruncate implements spec.md §4.F's dio_truncate_file.
func handleTruncate(ctx *FileContext, stats *storagestats.Stats) {
	stats.TruncateTotal()
	if !ctx.IsOpen() {
		if err := openFile(ctx, stats); err != nil {
			ctx.Done(ctx, err)
			return
		}
	}
	err := ctx.Fd.Truncate(ctx.Offset)
	if err == nil && ctx.BeforeClose != nil {
		err = ctx.BeforeClose(ctx)
	}
	ctx.Fd.Close()
	ctx.Fd = nil
	if err != nil {
		ctx.Done(ctx, dioerr.Wrap("ftruncate", ctx.Filename, err))
		return
	}
	stats.TruncateSuccess()
	ctx.Done(ctx, nil)
}

// handleDeleteNormal implements spec.md §4.F's dio_delete_normal_file:
// failures are logged, never propagated to the caller.
func handleDeleteNormal(ctx *FileContext, stats *storagestats.Stats) {
	stats.DeleteTotal()
	if err := os.Remove(ctx.Filename); err != nil {
		if ctx.Log != nil {
			ctx.Log.Errorf("dio: unlink %s: %v", ctx.Filename, err)
		}
	} else {
		stats.DeleteSuccess()
	}
	ctx.Done(ctx, nil)
}

// handleDeleteTrunk implements spec.md §4.F's dio_delete_trunk_file.
func handleDeleteTrunk(ctx *FileContext, stats *storagestats.Stats) {
	stats.DeleteTotal()
	if ctx.Trunk == nil || ctx.TrunkFree == nil {
		ctx.Done(ctx, dioerr.ErrInvalidArgument)
		return
	}
	if err := ctx.TrunkFree(*ctx.Trunk); err != nil {
		if ctx.Log != nil {
			ctx.Log.Errorf("dio: trunk free %+v: %v", *ctx.Trunk, err)
		}
	} else {
		stats.DeleteSuccess()
	}
	ctx.Done(ctx, nil)
}

// handleDiscard implements spec.md §4.F's dio_discard_file: consume a
// client upload destined for an already-invalid target without writing
// any bytes.
func handleDiscard(ctx *FileContext) {
	ctx.Offset += int64(len(ctx.Buffer) - ctx.BuffOffset)
	ctx.BuffOffset = 0
	if !ctx.AtEnd() {
		ctx.ResumeStage(ctx, StageRecv)
		return
	}
	ctx.Done(ctx, nil)
}
