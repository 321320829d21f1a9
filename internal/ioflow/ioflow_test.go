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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fastdfs-go/storaged/internal/storagelog"
	"github.com/fastdfs-go/storaged/internal/storeconfig"
	"github.com/fastdfs-go/storaged/pkg/dio"
	"github.com/fastdfs-go/storaged/pkg/pathstore"
	"github.com/fastdfs-go/storaged/pkg/storagestats"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

const testTrunkContainerSize = 1 << 16

// newTestCore builds a single-path Core (one store path, trunk-enabled)
// against a fresh temp directory, with a real dispatcher wired to the
// real dio handlers -- the same assembly cmd/fdfsstoraged does at
// startup, minus config parsing.
func newTestCore(t *testing.T) *Core {
	t.Helper()
	root := t.TempDir()

	registry, err := pathstore.NewRegistry([]string{root}, 4, 0, storeconfig.RoundRobin)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.EnsureTree(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := registry.RefreshAll(); err != nil {
		t.Fatal(err)
	}

	allocator, err := trunk.NewAllocator(registry.Paths()[0].DataRoot(), testTrunkContainerSize, storagelog.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { allocator.Close() })

	stats := storagestats.New()
	dispatcher, err := dio.NewDispatcher(1, 2, 2, false, dio.NewHandler(stats))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dispatcher.Close() })

	cfg := &storeconfig.Config{FileSignatureMethod: storeconfig.HashMethodRolling}
	core, err := NewCore(registry, []*trunk.Allocator{allocator}, dispatcher, stats, cfg, storagelog.Discard(), 0x0100007f)
	if err != nil {
		t.Fatal(err)
	}
	return core
}

func uploadBytes(t *testing.T, core *Core, data []byte, opts UploadOptions) string {
	t.Helper()
	id, err := Upload(core, "group1", int64(len(data)), "txt", opts, bytes.NewReader(data), 1)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return id
}

func downloadAll(t *testing.T, core *Core, id string) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Download(core, id, 0, 0, &buf, 1); err != nil {
		t.Fatalf("Download: %v", err)
	}
	return buf.Bytes()
}

// countFiles walks root and counts regular files, ignoring trunk
// container files (they legitimately stay allocated at fixed size
// after an abort -- only the free-list inside them shrinks back).
func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), "trunk-") || info.Name() == "trunk.binlog" {
			return nil
		}
		n++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}
