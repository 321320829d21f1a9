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
	"reflect"
	"testing"
)

func TestMetadataRoundTripEncoding(t *testing.T) {
	m := Metadata{"width": "100", "height": "200"}
	decoded := decodeMetadata(encodeMetadata(m))
	if !reflect.DeepEqual(decoded, m) {
		t.Fatalf("got %v, want %v", decoded, m)
	}
}

func TestGetMetadataOnFileWithNoneIsEmpty(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("data"), UploadOptions{})

	m, err := GetMetadata(core, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 0 {
		t.Fatalf("expected no metadata, got %v", m)
	}
}

func TestSetMetadataOverwriteReplacesWholeSet(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("data"), UploadOptions{})

	if err := SetMetadata(core, id, Metadata{"a": "1", "b": "2"}, false); err != nil {
		t.Fatal(err)
	}
	if err := SetMetadata(core, id, Metadata{"c": "3"}, false); err != nil {
		t.Fatal(err)
	}
	got, err := GetMetadata(core, id)
	if err != nil {
		t.Fatal(err)
	}
	want := Metadata{"c": "3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSetMetadataMergeLayersOnTopOfExisting(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("data"), UploadOptions{})

	if err := SetMetadata(core, id, Metadata{"a": "1", "b": "2"}, false); err != nil {
		t.Fatal(err)
	}
	if err := SetMetadata(core, id, Metadata{"b": "updated", "c": "3"}, true); err != nil {
		t.Fatal(err)
	}
	got, err := GetMetadata(core, id)
	if err != nil {
		t.Fatal(err)
	}
	want := Metadata{"a": "1", "b": "updated", "c": "3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSetMetadataEmptyRemovesSiblingFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("data"), UploadOptions{})

	if err := SetMetadata(core, id, Metadata{"a": "1"}, false); err != nil {
		t.Fatal(err)
	}
	if err := SetMetadata(core, id, Metadata{}, false); err != nil {
		t.Fatal(err)
	}
	got, err := GetMetadata(core, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty metadata after clearing, got %v", got)
	}
}

func TestMetadataWorksOnTrunkResidentFile(t *testing.T) {
	core := newTestCore(t)
	id := uploadBytes(t, core, []byte("trunk-data"), UploadOptions{Trunk: true})

	if err := SetMetadata(core, id, Metadata{"k": "v"}, false); err != nil {
		t.Fatal(err)
	}
	got, err := GetMetadata(core, id)
	if err != nil {
		t.Fatal(err)
	}
	if got["k"] != "v" {
		t.Fatalf("got %v, want k=v", got)
	}

	// The content file itself must be unaffected by the sibling .meta write.
	content := downloadAll(t, core, id)
	if string(content) != "trunk-data" {
		t.Fatalf("metadata write corrupted trunk content: got %q", content)
	}
}
