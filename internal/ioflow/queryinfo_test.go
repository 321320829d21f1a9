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
	"errors"
	"testing"

	"github.com/fastdfs-go/storaged/internal/dioerr"
)

func TestQueryFileInfoNormalFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("twelve bytes"), UploadOptions{})

	info, err := QueryFileInfo(core, id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 12 {
		t.Fatalf("got size %d, want 12", info.Size)
	}
	if info.SourceIP == 0 {
		t.Fatal("expected a non-zero source IP carried in the file ID")
	}
}

func TestQueryFileInfoTrunkFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("trunk payload"), UploadOptions{Trunk: true})

	info, err := QueryFileInfo(core, id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 13 {
		t.Fatalf("got size %d, want 13", info.Size)
	}
}

func TestQueryFileInfoMissingFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("to be deleted"), UploadOptions{})
	if err := Delete(core, id); err != nil {
		t.Fatal(err)
	}
	if _, err := QueryFileInfo(core, id); !errors.Is(err, dioerr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
