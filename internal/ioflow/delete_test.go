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

func TestDeleteNormalFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("gone soon"), UploadOptions{})

	if err := Delete(core, id); err != nil {
		t.Fatal(err)
	}
	if err := Download(core, id, 0, 0, &bytes.Buffer{}, 1); err == nil {
		t.Fatal("expected download of a deleted file to fail")
	}
}

// A second delete of an already-gone file is not an error: spec.md
// §4.F's dio_delete_normal_file logs unlink failures but always signals
// success to its caller, the same contract Delete preserves here.
func TestDeleteNormalFileTwiceIsNotAnError(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("gone soon"), UploadOptions{})

	if err := Delete(core, id); err != nil {
		t.Fatal(err)
	}
	if err := Delete(core, id); err != nil {
		t.Fatalf("second delete of a missing file should not error, got %v", err)
	}
}

func TestDeleteTrunkFileFreesSlotForReuse(t *testing.T) {
	core := newTestCore(t)
	payload := bytes.Repeat([]byte{7}, 300)
	id := uploadBytes(t, core, payload, UploadOptions{Trunk: true})

	if err := Delete(core, id); err != nil {
		t.Fatal(err)
	}
	if _, err := QueryFileInfo(core, id); !errors.Is(err, dioerr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	// The freed slot must be reusable by a later same-size upload.
	reuse := uploadBytes(t, core, payload, UploadOptions{Trunk: true})
	got := downloadAll(t, core, reuse)
	if !bytes.Equal(got, payload) {
		t.Fatalf("post-delete trunk reuse mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestDeleteRemovesSiblingMetadata(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("data"), UploadOptions{})
	if err := SetMetadata(core, id, Metadata{"k": "v"}, false); err != nil {
		t.Fatal(err)
	}
	if err := Delete(core, id); err != nil {
		t.Fatal(err)
	}

	leftover := countFiles(t, core.Registry.Paths()[0].DataRoot())
	if leftover != 0 {
		t.Fatalf("expected sibling .meta file to be removed alongside content, found %d leftover file(s)", leftover)
	}
}
