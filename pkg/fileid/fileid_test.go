/*
Copyright 2011 Google Inc.

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

package fileid

import (
	"errors"
	"testing"

	"github.com/fastdfs-go/storaged/internal/dioerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Fields{
		{SourceIP: 0x0100007f, CreatedAt: 1700000000, Size: 1, CRC32: 0xdeadbeef, Salt: 42, Ext: "jpg"},
		{SourceIP: 1, CreatedAt: 2, Size: 1 << 40, CRC32: 0, Salt: 0, Ext: ""},
		{
			SourceIP: 7, CreatedAt: 8, Size: 1024, CRC32: 99, Salt: 5, Ext: "txt",
			Trunk: &TrunkInfo{FileID: 3, Offset: 65536, Size: 1048},
		},
	}
	for _, want := range cases {
		name, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", want, err)
		}
		got, err := Decode(name)
		if err != nil {
			t.Fatalf("Decode(%q): %v", name, err)
		}
		if got.SourceIP != want.SourceIP || got.CreatedAt != want.CreatedAt ||
			got.Size != want.Size || got.CRC32 != want.CRC32 || got.Salt != want.Salt ||
			got.Ext != want.Ext {
			t.Fatalf("round trip mismatch: got %+v, want %+v (name %q)", got, want, name)
		}
		if (got.Trunk == nil) != (want.Trunk == nil) {
			t.Fatalf("trunk presence mismatch: got %+v, want %+v", got.Trunk, want.Trunk)
		}
		if want.Trunk != nil && *got.Trunk != *want.Trunk {
			t.Fatalf("trunk mismatch: got %+v, want %+v", got.Trunk, want.Trunk)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, name := range []string{
		"",
		"not-valid-base64!!!.jpg",
		"AAAA.jpg", // too short for the 24-byte record
		"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA.verylongext",
	} {
		if _, err := Decode(name); !errors.Is(err, dioerr.ErrInvalidFilename) {
			t.Errorf("Decode(%q) = _, %v; want ErrInvalidFilename", name, err)
		}
	}
}

func TestEncodeRejectsLongExtension(t *testing.T) {
	_, err := Encode(Fields{Ext: "toolongext"})
	if !errors.Is(err, dioerr.ErrInvalidArgument) {
		t.Fatalf("Encode with long ext = %v; want ErrInvalidArgument", err)
	}
}
