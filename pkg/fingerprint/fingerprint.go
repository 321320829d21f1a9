/*
Copyright 2013 The Perkeep Authors.

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

// Package fingerprint holds the fields every stored file carries (spec.md
// §3): size, CRC32, creation time, and an optional 16-byte content hash
// used for de-duplication, plus an Accumulator that tracks them
// incrementally across chunked writes the way internal/hashutil's
// TrackDigestReader tracks a single digest across a streamed read.
package fingerprint

import (
	"crypto/md5"
	"hash"
	"hash/crc32"
	"io"
	"time"

	"github.com/fastdfs-go/storaged/pkg/rollinghash"
)

// HashKind selects the optional de-duplication hash, config
// file_signature_method in spec.md §6.
type HashKind int

const (
	HashNone HashKind = iota
	HashMD5
	HashRollingQuad
)

// Fingerprint is the set of fields recorded for a stored file, both inside
// a trunk slot header and in the externally-visible file ID.
type Fingerprint struct {
	Size      int64
	CRC32     uint32
	CreatedAt time.Time
	HashKind  HashKind
	Hash      [16]byte // zero when HashKind == HashNone
}

// Accumulator computes a Fingerprint incrementally as chunks are written to
// it, so that splitting a payload into N receive chunks produces the same
// final CRC32/hash as a single contiguous pass (spec.md P7).
type Accumulator struct {
	size     int64
	crc      hash.Hash32
	hashKind HashKind
	md5      hash.Hash
	quad     *rollinghash.Quad
}

// NewAccumulator starts a running fingerprint computation. crc32 tracking
// always runs; hashKind selects the additional de-duplication hash.
func NewAccumulator(hashKind HashKind) *Accumulator {
	a := &Accumulator{crc: crc32.NewIEEE(), hashKind: hashKind}
	switch hashKind {
	case HashMD5:
		a.md5 = md5.New()
	case HashRollingQuad:
		a.quad = rollinghash.NewQuad()
	}
	return a
}

// Write feeds a chunk of file content into the accumulator. It never
// returns an error; the return values satisfy io.Writer for convenience
// with io.Copy/io.MultiWriter.
func (a *Accumulator) Write(p []byte) (int, error) {
	a.size += int64(len(p))
	a.crc.Write(p)
	if a.md5 != nil {
		a.md5.Write(p)
	}
	if a.quad != nil {
		a.quad.Write(p)
	}
	return len(p), nil
}

var _ io.Writer = (*Accumulator)(nil)

// Finish finalizes the CRC32 (crc32.Hash32's Sum32 already applies the
// standard completion XOR mask) and the selected content hash, stamping
// createdAt into the returned Fingerprint.
func (a *Accumulator) Finish(createdAt time.Time) Fingerprint {
	fp := Fingerprint{
		Size:      a.size,
		CRC32:     a.crc.Sum32(),
		CreatedAt: createdAt,
		HashKind:  a.hashKind,
	}
	switch a.hashKind {
	case HashMD5:
		copy(fp.Hash[:], a.md5.Sum(nil))
	case HashRollingQuad:
		fp.Hash = a.quad.Sum()
	}
	return fp
}
