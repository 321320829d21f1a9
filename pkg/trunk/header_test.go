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

import "testing"

func TestPackUnpackHeaderRoundTrip(t *testing.T) {
	ext, err := EncodeExt("jpg")
	if err != nil {
		t.Fatal(err)
	}
	h := SlotHeader{
		AllocSize: 4096,
		FileSize:  4000,
		CRC32:     0xdeadbeef,
		Mtime:     1700000000,
		FileType:  FileTypeRegular,
		Ext:       ext,
	}
	got := UnpackHeader(PackHeader(h))
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
	if DecodeExt(got.Ext) != "jpg" {
		t.Fatalf("DecodeExt = %q, want jpg", DecodeExt(got.Ext))
	}
}

func TestIsFree(t *testing.T) {
	var h SlotHeader
	if !h.IsFree() {
		t.Fatal("zero-value header should be free")
	}
	h.FileType = FileTypeRegular
	if h.IsFree() {
		t.Fatal("non-zero header should not be free")
	}
}

func TestRecoveredFlag(t *testing.T) {
	var h SlotHeader
	if h.Recovered() {
		t.Fatal("fresh header should not report recovered")
	}
	h.MarkRecovered()
	if !h.Recovered() {
		t.Fatal("expected Recovered() after MarkRecovered()")
	}
	if h.IsFree() {
		t.Fatal("a recovered-flagged header is not the free template")
	}
}

func TestTolerantlyFree(t *testing.T) {
	// per spec.md §9's open question: the parser tolerates non-zero
	// alloc_size/file_size/file_type if, once those three are re-zeroed,
	// the rest matches the empty-slot template.
	h := SlotHeader{AllocSize: 4096, FileSize: 10, FileType: FileTypeRegular}
	if h.IsFree() {
		t.Fatal("should not be free without tolerance")
	}
	if !tolerantlyFree(h) {
		t.Fatal("expected tolerantlyFree to accept a header with only the three tolerated fields set")
	}
	h.CRC32 = 1
	if tolerantlyFree(h) {
		t.Fatal("a non-tolerated field set should not be tolerated")
	}
}

func TestEncodeExtRejectsOverlong(t *testing.T) {
	if _, err := EncodeExt("toolong!"); err == nil {
		t.Fatal("expected error for extension longer than 6 bytes")
	}
}
