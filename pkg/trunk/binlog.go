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

package trunk

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Binlog is the allocator's local write-ahead log (spec.md §4.C: "a
// persistent binlog appending every alloc and free record, used to
// rebuild state on restart"). This is the allocator's own crash-recovery
// state, not the cross-server replication binlog named in spec.md §1's
// Non-goals. One newline-delimited record per line, grounded on the
// teacher's local.Generationer's small-persisted-state idiom: a flat
// file, opened once, appended under the same mutex as the in-memory
// structure it backs.
type Binlog struct {
	f *os.File
}

// binlogRecord is one parsed line. kind is one of "container", "alloc",
// "confirm", "free".
type binlogRecord struct {
	kind   string
	lease  string // uuid, set for alloc/confirm
	fileID uint32
	offset uint32
	size   uint32
}

// OpenBinlog opens (creating if absent) the binlog file at path for
// appending, and returns its past records for replay.
func OpenBinlog(path string) (*Binlog, []binlogRecord, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("trunk: reading binlog %q: %w", path, err)
	}
	var records []binlogRecord
	if len(existing) > 0 {
		sc := bufio.NewScanner(strings.NewReader(string(existing)))
		sc.Buffer(make([]byte, 0, 4096), 1<<20)
		for sc.Scan() {
			rec, err := parseBinlogLine(sc.Text())
			if err != nil {
				return nil, nil, fmt.Errorf("trunk: binlog %q: %w", path, err)
			}
			records = append(records, rec)
		}
		if err := sc.Err(); err != nil {
			return nil, nil, fmt.Errorf("trunk: scanning binlog %q: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("trunk: opening binlog %q: %w", path, err)
	}
	return &Binlog{f: f}, records, nil
}

func (b *Binlog) appendLine(line string) error {
	if _, err := b.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("trunk: appending to binlog: %w", err)
	}
	return b.f.Sync()
}

// LogContainer records that a new container of size bytes was created.
func (b *Binlog) LogContainer(fileID uint32, size uint32) error {
	return b.appendLine(fmt.Sprintf("container\t%d\t%d", fileID, size))
}

// LogAlloc records a tentative allocation under a fresh lease token,
// returned for the caller to pass to LogConfirm.
func (b *Binlog) LogAlloc(ref SlotRef) (lease string, err error) {
	lease = uuid.NewString()
	err = b.appendLine(fmt.Sprintf("alloc\t%s\t%d\t%d\t%d", lease, ref.FileID, ref.Offset, ref.Size))
	return lease, err
}

// LogConfirm records that the allocation under lease is now durable.
func (b *Binlog) LogConfirm(lease string) error {
	return b.appendLine("confirm\t" + lease)
}

// LogFree records a slot returning to the free list.
func (b *Binlog) LogFree(ref SlotRef) error {
	return b.appendLine(fmt.Sprintf("free\t%d\t%d\t%d", ref.FileID, ref.Offset, ref.Size))
}

func (b *Binlog) Close() error { return b.f.Close() }

func parseBinlogLine(line string) (binlogRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) == 0 {
		return binlogRecord{}, fmt.Errorf("empty binlog line")
	}
	switch fields[0] {
	case "container":
		if len(fields) != 3 {
			return binlogRecord{}, fmt.Errorf("malformed container record %q", line)
		}
		fileID, size, err := parseTwoUint32(fields[1], fields[2])
		if err != nil {
			return binlogRecord{}, err
		}
		return binlogRecord{kind: "container", fileID: fileID, size: size}, nil
	case "alloc":
		if len(fields) != 5 {
			return binlogRecord{}, fmt.Errorf("malformed alloc record %q", line)
		}
		fileID, offset, err := parseTwoUint32(fields[2], fields[3])
		if err != nil {
			return binlogRecord{}, err
		}
		size, err := parseUint32(fields[4])
		if err != nil {
			return binlogRecord{}, err
		}
		return binlogRecord{kind: "alloc", lease: fields[1], fileID: fileID, offset: offset, size: size}, nil
	case "confirm":
		if len(fields) != 2 {
			return binlogRecord{}, fmt.Errorf("malformed confirm record %q", line)
		}
		return binlogRecord{kind: "confirm", lease: fields[1]}, nil
	case "free":
		if len(fields) != 4 {
			return binlogRecord{}, fmt.Errorf("malformed free record %q", line)
		}
		fileID, offset, err := parseTwoUint32(fields[1], fields[2])
		if err != nil {
			return binlogRecord{}, err
		}
		size, err := parseUint32(fields[3])
		if err != nil {
			return binlogRecord{}, err
		}
		return binlogRecord{kind: "free", fileID: fileID, offset: offset, size: size}, nil
	default:
		return binlogRecord{}, fmt.Errorf("unknown binlog record kind %q", fields[0])
	}
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

func parseTwoUint32(a, b string) (uint32, uint32, error) {
	x, err := parseUint32(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := parseUint32(b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
