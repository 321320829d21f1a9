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
	"testing"

	"github.com/fastdfs-go/storaged/internal/dioerr"
)

func TestAppendNormalAppenderGrowsFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("hello "), UploadOptions{Appender: true})

	if err := Append(core, id, 5, bytes.NewReader([]byte("world")), 1); err != nil {
		t.Fatal(err)
	}
	got := downloadAll(t, core, id)
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestAppendTrunkAppenderGrowsFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("abc"), UploadOptions{Trunk: true, Appender: true})

	if err := Append(core, id, 3, bytes.NewReader([]byte("def")), 1); err != nil {
		t.Fatal(err)
	}
	got := downloadAll(t, core, id)
	if string(got) != "abcdef" {
		t.Fatalf("got %q, want %q", got, "abcdef")
	}
}

func TestAppendRejectsNonAppenderFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("plain"), UploadOptions{})

	err := Append(core, id, 3, bytes.NewReader([]byte("abc")), 1)
	if !errors.Is(err, dioerr.ErrNotAppender) {
		t.Fatalf("got %v, want ErrNotAppender", err)
	}
}

func TestModifyOverwritesInPlaceWithoutChangingLength(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("0123456789"), UploadOptions{Appender: true})

	if err := Modify(core, id, 2, 3, bytes.NewReader([]byte("XYZ")), 1); err != nil {
		t.Fatal(err)
	}
	got := downloadAll(t, core, id)
	if string(got) != "01XYZ56789" {
		t.Fatalf("got %q, want %q", got, "01XYZ56789")
	}
}

func TestModifyPastCurrentEndGrowsFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("short"), UploadOptions{Trunk: true, Appender: true})

	if err := Modify(core, id, 10, 3, bytes.NewReader([]byte("end")), 1); err != nil {
		t.Fatal(err)
	}
	info, err := QueryFileInfo(core, id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 13 {
		t.Fatalf("got size %d, want 13", info.Size)
	}
}

func TestTruncateNormalAppenderShrinksFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("0123456789"), UploadOptions{Appender: true})

	if err := Truncate(core, id, 4, 1); err != nil {
		t.Fatal(err)
	}
	got := downloadAll(t, core, id)
	if string(got) != "0123" {
		t.Fatalf("got %q, want %q", got, "0123")
	}
}

func TestTruncateTrunkAppenderIsHeaderOnly(t *testing.T) {
	core := newTestCore(t)
	sibling := uploadBytes(t, core, []byte("sibling-data-that-must-survive"), UploadOptions{Trunk: true})
	id := uploadBytes(t, core, []byte("0123456789"), UploadOptions{Trunk: true, Appender: true})

	if err := Truncate(core, id, 4, 1); err != nil {
		t.Fatal(err)
	}
	info, err := QueryFileInfo(core, id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 4 {
		t.Fatalf("got logical size %d, want 4", info.Size)
	}

	// The sibling slot's bytes must be untouched: a real ftruncate of the
	// shared container would have corrupted them.
	got := downloadAll(t, core, sibling)
	if string(got) != "sibling-data-that-must-survive" {
		t.Fatalf("sibling trunk slot corrupted by truncate: got %q", got)
	}
}

func TestTruncateRejectsNonAppenderFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("plain"), UploadOptions{})

	if err := Truncate(core, id, 2, 1); !errors.Is(err, dioerr.ErrNotAppender) {
		t.Fatalf("got %v, want ErrNotAppender", err)
	}
}

func TestModifyRejectsGrowthBeyondTrunkSlotCapacity(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("small"), UploadOptions{Trunk: true, Appender: true})

	err := Modify(core, id, 0, testTrunkContainerSize, bytes.NewReader(make([]byte, testTrunkContainerSize)), 1)
	if !errors.Is(err, dioerr.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}
