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
	"os"

	"github.com/fastdfs-go/storaged/pkg/dio"
)

// closeFd is shared by every CleanFunc below; it is the fd>0 idempotence
// check spec.md §4.H requires, expressed as a nil check since a closed
// FileContext sets Fd back to nil.
func closeFd(ctx *dio.FileContext) {
	if ctx.Fd != nil {
		ctx.Fd.Close()
		ctx.Fd = nil
	}
}

// CleanNormalUpload is spec.md §4.H's normal-upload clean_func: close fd;
// if the transfer didn't reach End, unlink the (temp) filename.
func CleanNormalUpload(ctx *dio.FileContext) {
	incomplete := ctx.Offset < ctx.End
	closeFd(ctx)
	if incomplete {
		os.Remove(ctx.Filename)
	}
}

// CleanAppenderAppend is spec.md §4.H's appender-append clean_func:
// close fd; if Start < Offset < End, ftruncate back to Start first so a
// partial chunk never lengthens the file.
func CleanAppenderAppend(ctx *dio.FileContext) {
	if ctx.Fd != nil && ctx.Start < ctx.Offset && ctx.Offset < ctx.End {
		ctx.Fd.Truncate(ctx.Start)
	}
	closeFd(ctx)
}

// CleanAppenderModify is spec.md §4.H's appender-modify clean_func: close
// fd and log the partial-overwrite condition; bytes beyond Start were not
// the caller's to begin with, so no truncation runs.
func CleanAppenderModify(ctx *dio.FileContext) {
	if ctx.Fd != nil && ctx.Start < ctx.Offset && ctx.Offset < ctx.End && ctx.Log != nil {
		ctx.Log.Warnf("ioflow: modify of %s aborted after partially overwriting [%d,%d)", ctx.Filename, ctx.Start, ctx.Offset)
	}
	closeFd(ctx)
}

// CleanTrunkAppend is the trunk-resident sibling of CleanAppenderAppend:
// the slot header's file_size is only rewritten by BeforeClose on
// success, so an aborted append leaves the durable header exactly as it
// was before the attempt, and closing fd is the only cleanup needed.
func CleanTrunkAppend(ctx *dio.FileContext) {
	closeFd(ctx)
}

// CleanTrunkModify mirrors CleanAppenderModify for a trunk-resident
// appender file: log the partial-overwrite condition. As with
// CleanTrunkAppend, the header update only runs on success, so there is
// nothing to roll back on disk beyond closing fd.
func CleanTrunkModify(ctx *dio.FileContext) {
	if ctx.Fd != nil && ctx.Start < ctx.Offset && ctx.Offset < ctx.End && ctx.Log != nil {
		ctx.Log.Warnf("ioflow: trunk modify of %s aborted after partially overwriting [%d,%d)", ctx.Filename, ctx.Start, ctx.Offset)
	}
	closeFd(ctx)
}

// CleanTrunkWrite is spec.md §4.H's trunk-write clean_func: close fd;
// if Start < Offset < End, return the slot to its allocator's free list.
func CleanTrunkWrite(ctx *dio.FileContext) {
	closeFd(ctx)
	if ctx.Start < ctx.Offset && ctx.Offset < ctx.End && ctx.Trunk != nil && ctx.TrunkFree != nil {
		if err := ctx.TrunkFree(*ctx.Trunk); err != nil && ctx.Log != nil {
			ctx.Log.Errorf("ioflow: freeing aborted trunk slot %+v: %v", *ctx.Trunk, err)
		}
		ctx.Trunk = nil
	}
}

// CleanDownload is spec.md §4.H's download clean_func: close fd only, no
// disk mutation.
func CleanDownload(ctx *dio.FileContext) {
	closeFd(ctx)
}
