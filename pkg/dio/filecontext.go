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

// Package dio is the disk-I/O core (spec.md §4.E–§4.H): the per-request
// FileContext, a thread-affine dispatcher of bounded worker pools, the
// per-operation blocking handlers, and cleanup/rollback. Every syscall
// against stored file content happens on a dispatcher worker goroutine;
// the network-facing caller never blocks here (spec.md §5).
package dio

import (
	"os"
	"time"

	"github.com/fastdfs-go/storaged/internal/storagelog"
	"github.com/fastdfs-go/storaged/pkg/fingerprint"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

// OpKind names the DIO worker handler a FileContext should be routed to.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpTruncate
	OpDeleteNormal
	OpDeleteTrunk
	OpDiscard
)

func (k OpKind) isRead() bool { return k == OpRead }

// Stage is what the network task should resume doing next, the Go
// expression of the original's "swap the task's stage and let it
// re-arm" control flow (spec.md §9's first redesign note): handlers pass
// it to the context's ResumeStage callback between chunks, and that
// callback is what re-submits the context to the dispatcher.
type Stage int

const (
	StageNone Stage = iota
	StageRecv
	StageSend
	StageDone
)

// FileContext is the mutable record describing one in-progress disk I/O
// (spec.md §4.E). It is owned exclusively by one dispatcher worker
// goroutine between Dispatcher.Submit and the handler's return; the
// network task must not touch Fd, Offset, or BuffOffset while the
// context sits in a worker's queue.
type FileContext struct {
	Filename string
	Op       OpKind

	Fd *os.File

	Start, Offset, End int64
	OpenFlags          int
	FileMode           os.FileMode

	// Buffer is the current chunk of bytes: payload to write (OpWrite) or
	// destination to fill (OpRead). BuffOffset tracks how much of Buffer
	// has been consumed so a retried partial write resumes at the right
	// cursor (spec.md §4.F).
	Buffer     []byte
	BuffOffset int

	CalcCRC32 bool
	CalcHash  bool
	HashKind  fingerprint.HashKind
	fp        *fingerprint.Accumulator

	// Trunk is set when the target lives inside a trunk container
	// instead of as a standalone normal file.
	Trunk *trunk.SlotRef
	// TrunkLease is the allocator's pending-confirmation token for a
	// trunk upload in progress (see pkg/trunk.Allocator.Alloc).
	TrunkLease string
	// TrunkFree returns Trunk to its allocator's free list; set by the
	// caller that resolved Trunk, so dio never holds a direct reference
	// to a path's Allocator.
	TrunkFree func(trunk.SlotRef) error

	// SocketFD is the client connection's socket descriptor; the
	// dispatcher hashes it to choose a worker queue, preserving
	// thread affinity across a connection's successive requests
	// (spec.md §4.F).
	SocketFD int

	// PathIndex selects the store path (and its worker pools) this
	// context's I/O runs against.
	PathIndex int

	// Aborted is set by the network layer when the connection drops;
	// the worker observes it between chunks and runs CleanFunc instead
	// of continuing (spec.md §5, "Cancellation and timeouts").
	Aborted bool

	// BeforeOpen runs before the file is opened; for trunk uploads it
	// allocates a slot and sets Trunk/TrunkLease/Offset/End.
	BeforeOpen func(*FileContext) error
	// BeforeClose runs after the last byte is written/read but before
	// the fd is closed; for trunk uploads it confirms the slot header.
	BeforeClose func(*FileContext) error
	// ResumeStage hands control back to the network task layer, asking
	// it to resume the connection in the given stage and re-submit this
	// context for the next chunk (spec.md §4.F).
	ResumeStage func(*FileContext, Stage)
	// Done is invoked exactly once, on the terminal state (spec.md
	// §4.E): successful completion or an unrecovered error.
	Done func(*FileContext, error)
	// CleanFunc is the per-operation rollback handler (spec.md §4.H);
	// invoked on abort or mid-stream error. Must be idempotent (P5).
	CleanFunc func(*FileContext)

	Log storagelog.Logger
}

// fingerprintAccumulator lazily creates the running CRC32/hash state the
// first time a handler needs it, mirroring hashutil.TrackDigestReader's
// lazy hash.Hash allocation on first Read.
func (c *FileContext) fingerprintAccumulator() *fingerprint.Accumulator {
	if c.fp == nil {
		c.fp = fingerprint.NewAccumulator(c.HashKind)
	}
	return c.fp
}

// FinishFingerprint finalizes the running CRC32/hash once the final
// chunk has been processed or read.
func (c *FileContext) FinishFingerprint(createdAt time.Time) fingerprint.Fingerprint {
	return c.fingerprintAccumulator().Finish(createdAt)
}

// IsOpen reports whether the context currently owns an open descriptor.
func (c *FileContext) IsOpen() bool { return c.Fd != nil }

// AtEnd reports whether the context has consumed its whole byte range.
func (c *FileContext) AtEnd() bool { return c.Offset >= c.End }
