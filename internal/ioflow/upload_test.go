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
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fastdfs-go/storaged/internal/dioerr"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

// errReader returns n good bytes from data, then a non-EOF error --
// simulating a connection that drops mid-upload.
type errReader struct {
	data []byte
	n    int
	err  error
}

func (r *errReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, r.err
	}
	k := r.n
	if k > len(p) {
		k = len(p)
	}
	if k > len(r.data) {
		k = len(r.data)
	}
	copy(p, r.data[:k])
	r.data = r.data[k:]
	r.n -= k
	return k, nil
}

func TestUploadDownloadNormalRoundTrip(t *testing.T) {
	core := newTestCore(t)
	data := []byte(strings.Repeat("abcdefgh", 100)) // 800 bytes, below any trunk threshold

	id := uploadBytes(t, core, data, UploadOptions{})
	got := downloadAll(t, core, id)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
	}

	snap := core.Stats.Snapshot()
	if snap.UploadTotal != 1 || snap.UploadSuccess != 1 {
		t.Fatalf("unexpected upload stats: %+v", snap)
	}
}

func TestUploadDownloadTrunkRoundTrip(t *testing.T) {
	core := newTestCore(t)
	data := bytes.Repeat([]byte{0xAB}, 512)

	id := uploadBytes(t, core, data, UploadOptions{Trunk: true})
	if !strings.Contains(id, "/M00/") {
		t.Fatalf("expected a path-prefix-bearing id, got %q", id)
	}
	got := downloadAll(t, core, id)
	if !bytes.Equal(got, data) {
		t.Fatalf("trunk round trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestUploadPartialRangeDownload(t *testing.T) {
	core := newTestCore(t)
	data := []byte("0123456789")
	id := uploadBytes(t, core, data, UploadOptions{})

	var buf bytes.Buffer
	if err := Download(core, id, 3, 4, &buf, 1); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "3456" {
		t.Fatalf("got %q, want %q", buf.String(), "3456")
	}
}

func TestUploadAbortCleansUpNormalFile(t *testing.T) {
	core := newTestCore(t)
	src := &errReader{data: []byte("hello world"), n: 4, err: errors.New("connection reset")}

	if _, err := Upload(core, "group1", 11, "txt", UploadOptions{}, src, 1); err == nil {
		t.Fatal("expected upload to fail on a dropped source")
	}

	leftover := countFiles(t, core.Registry.Paths()[0].DataRoot())
	if leftover != 0 {
		t.Fatalf("expected the incomplete temp file to be removed, found %d leftover file(s)", leftover)
	}
}

func TestUploadAbortCleansUpTrunkSlot(t *testing.T) {
	core := newTestCore(t)
	src := &errReader{data: bytes.Repeat([]byte{1}, 200), n: 50, err: io.ErrClosedPipe}

	if _, err := Upload(core, "group1", 200, "bin", UploadOptions{Trunk: true}, src, 1); err == nil {
		t.Fatal("expected trunk upload to fail on a dropped source")
	}

	// A subsequent upload of the same size must be able to reuse the
	// freed slot rather than exhausting the container.
	ok := bytes.Repeat([]byte{2}, 200)
	id := uploadBytes(t, core, ok, UploadOptions{Trunk: true})
	got := downloadAll(t, core, id)
	if !bytes.Equal(got, ok) {
		t.Fatalf("post-abort trunk upload mismatch: got %d bytes, want %d", len(got), len(ok))
	}
}

// TestTrunkUploadRefusesCorruptedSlotWithoutErasingIt drives a real
// Upload(..., Trunk: true) at a slot the free list believes is blank but
// whose on-disk header actually holds non-zero data (spec.md §4.D's S5
// scenario). The upload must fail without writing a single byte to that
// header.
func TestTrunkUploadRefusesCorruptedSlotWithoutErasingIt(t *testing.T) {
	core := newTestCore(t)
	allocator := core.Allocators[0]

	size := int64(64)
	ref, lease, err := allocator.Alloc(size)
	if err != nil {
		t.Fatal(err)
	}

	corrupt := trunk.SlotHeader{FileSize: 999, CRC32: 0xabad1dea, FileType: trunk.FileTypeRegular}
	f, err := allocator.ContainerFile(ref.FileID)
	if err != nil {
		t.Fatal(err)
	}
	buf := trunk.PackHeader(corrupt)
	if _, err := f.WriteAt(buf[:], int64(ref.Offset)); err != nil {
		t.Fatal(err)
	}
	if err := allocator.Abandon(ref, lease); err != nil {
		t.Fatal(err)
	}

	_, err = Upload(core, "group1", size, "txt", UploadOptions{Trunk: true}, bytes.NewReader(bytes.Repeat([]byte{1}, int(size))), 1)
	if !errors.Is(err, dioerr.ErrSlotOccupied) {
		t.Fatalf("expected ErrSlotOccupied, got %v", err)
	}

	got, err := allocator.ReadHeader(ref)
	if err != nil {
		t.Fatal(err)
	}
	if got != corrupt {
		t.Fatalf("refused upload must not touch the corrupted header: got %+v, want %+v", got, corrupt)
	}
}

func TestUploadSlaveSplicesSuffix(t *testing.T) {
	core := newTestCore(t)
	masterID := uploadBytes(t, core, []byte("master"), UploadOptions{})

	slaveID, err := UploadSlave(core, masterID, "thumb", 5, "jpg", UploadOptions{}, bytes.NewReader([]byte("12345")), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(slaveID, "_thumb.jpg") {
		t.Fatalf("expected suffix spliced before extension, got %q", slaveID)
	}
}
