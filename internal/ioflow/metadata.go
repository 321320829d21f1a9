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
	"bytes"
	"os"
	"sort"
	"strings"

	"github.com/fastdfs-go/storaged/pkg/dio"
)

const (
	metaKVSep     = '\x02'
	metaRecordSep = '\x01'
)

// Metadata is an ordered key/value set, spec.md §3/§6's sibling .meta
// file content. Ordering only matters for producing a deterministic
// encoding; lookups are by key.
type Metadata map[string]string

// encodeMetadata serializes m as spec.md §6 describes: key\x02value
// records separated by \x01, no trailing separator. Keys are sorted so
// the same map always encodes identically, which keeps overwrite mode
// idempotent for test fixtures and byte-for-byte diffs in logs.
func encodeMetadata(m Metadata) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(metaRecordSep)
		}
		b.WriteString(k)
		b.WriteByte(metaKVSep)
		b.WriteString(m[k])
	}
	return []byte(b.String())
}

// decodeMetadata parses spec.md §6's sibling .meta format. A malformed
// record (no key/value separator) is skipped rather than failing the
// whole read, matching the format's "no trailing separator" looseness.
func decodeMetadata(data []byte) Metadata {
	m := Metadata{}
	if len(data) == 0 {
		return m
	}
	for _, rec := range strings.Split(string(data), string(metaRecordSep)) {
		if rec == "" {
			continue
		}
		i := strings.IndexByte(rec, metaKVSep)
		if i < 0 {
			continue
		}
		m[rec[:i]] = rec[i+1:]
	}
	return m
}

// metaTarget locates id's sibling .meta file on disk, plus the store path
// index that owns it -- both trunk-resident and normal files keep
// metadata the same way, since it is never part of the content bytes
// (the container and its slot header have no room for an open-ended
// key/value set): it always lives in the XX/YY fan-out directory named
// by the file ID, as the ID's base name plus ".meta", even for a
// trunk-resident file that has no other entry in that directory.
type metaTarget struct {
	filename  string
	pathIndex int
}

func (c *Core) resolveMetaTarget(id string) (metaTarget, error) {
	path, _, _, err := c.resolveRemoteName(id)
	if err != nil {
		return metaTarget{}, err
	}
	_, _, xx, yy, coreName, err := splitRemoteName(id)
	if err != nil {
		return metaTarget{}, err
	}
	return metaTarget{filename: onDiskPath(path, xx, yy, coreName+".meta"), pathIndex: path.Index}, nil
}

// SetMetadata implements spec.md §4.G's set-metadata: overwrite replaces
// the sibling .meta file outright; merge reads the existing set (if any)
// and layers m's keys on top before rewriting it whole, since the format
// has no in-place update story. Per spec.md §5's architecture, every read
// or write of the .meta file's bytes runs on a DIO worker thread through
// the same FileContext lifecycle as content operations -- this request's
// caller never blocks on disk itself.
func SetMetadata(core *Core, id string, m Metadata, merge bool) error {
	core.Stats.SetMetaTotal()

	target, err := core.resolveMetaTarget(id)
	if err != nil {
		return err
	}

	final := m
	if merge {
		existing, err := readMetaFile(core, target)
		if err != nil {
			return err
		}
		final = Metadata{}
		for k, v := range existing {
			final[k] = v
		}
		for k, v := range m {
			final[k] = v
		}
	}

	data := encodeMetadata(final)
	if len(data) == 0 {
		ctx := &dio.FileContext{
			Op:        dio.OpDeleteNormal,
			Filename:  target.filename,
			PathIndex: target.pathIndex,
			Log:       core.Log,
		}
		if err := driveNoBody(core.Dispatcher, ctx); err != nil {
			return err
		}
	} else {
		ctx := &dio.FileContext{
			Op:        dio.OpWrite,
			Filename:  target.filename,
			PathIndex: target.pathIndex,
			OpenFlags: os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
			End:       int64(len(data)),
			Log:       core.Log,
		}
		if err := driveWrite(core.Dispatcher, ctx, bytes.NewReader(data)); err != nil {
			return err
		}
	}

	core.Stats.SetMetaSuccess()
	core.Stats.NoteSourceUpdate(core.now().Unix())
	return nil
}

// GetMetadata implements spec.md §4.G's get-metadata: a missing .meta
// file is not an error, it is an empty set (spec.md §3 "optional").
func GetMetadata(core *Core, id string) (Metadata, error) {
	core.Stats.GetMetaTotal()

	target, err := core.resolveMetaTarget(id)
	if err != nil {
		return nil, err
	}
	m, err := readMetaFile(core, target)
	if err != nil {
		return nil, err
	}
	core.Stats.GetMetaSuccess()
	return m, nil
}

// readMetaFile drives the sibling .meta file's content through a DIO
// reader thread, the same as a content download. Its size is stat'd on
// the calling goroutine first -- a metadata-only probe, not a read of
// the file's bytes, the same split QueryFileInfo already draws for a
// normal file's on-disk entry -- purely so the FileContext knows how
// much to read; a missing file is the legitimate "no metadata set" case,
// not an error, and is resolved before any dispatcher submission.
func readMetaFile(core *Core, target metaTarget) (Metadata, error) {
	fi, err := os.Stat(target.filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, nil
		}
		return nil, err
	}

	ctx := &dio.FileContext{
		Op:        dio.OpRead,
		Filename:  target.filename,
		PathIndex: target.pathIndex,
		OpenFlags: os.O_RDONLY,
		End:       fi.Size(),
		Log:       core.Log,
	}
	var buf bytes.Buffer
	if err := driveRead(core.Dispatcher, ctx, &buf); err != nil {
		return nil, err
	}
	return decodeMetadata(buf.Bytes()), nil
}
