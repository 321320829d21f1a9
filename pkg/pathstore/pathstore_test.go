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

package pathstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fastdfs-go/storaged/internal/dioerr"
	"github.com/fastdfs-go/storaged/internal/storeconfig"
)

func newTestRegistry(t *testing.T, n, subdirs int) *Registry {
	t.Helper()
	var roots []string
	for i := 0; i < n; i++ {
		roots = append(roots, t.TempDir())
	}
	r, err := NewRegistry(roots, subdirs, 0, storeconfig.RoundRobin)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := r.EnsureTree(context.Background()); err != nil {
		t.Fatalf("EnsureTree: %v", err)
	}
	return r
}

func TestEnsureTreeCreatesFanOut(t *testing.T) {
	r := newTestRegistry(t, 1, 4)
	p := r.Paths()[0]
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			xx, yy := subdirName(x), subdirName(y)
			if fi, err := os.Stat(p.ContentDir(xx, yy)); err != nil || !fi.IsDir() {
				t.Fatalf("missing fan-out dir %s/%s: %v", xx, yy, err)
			}
		}
	}
	if _, err := os.Stat(p.LogsRoot()); err != nil {
		t.Fatalf("missing logs dir: %v", err)
	}
}

func TestAcquirePathRefusesBelowReserved(t *testing.T) {
	root := t.TempDir()
	r, err := NewRegistry([]string{root}, 4, 1000, storeconfig.RoundRobin)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.EnsureTree(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Paths()[0].SetFreeBytes(1500)

	if _, err := r.AcquirePath(400); err != nil {
		t.Fatalf("expected room for 400 bytes with 1500 free / 1000 reserved, got %v", err)
	}
	if _, err := r.AcquirePath(600); !errors.Is(err, dioerr.ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace for 600 bytes with 1500 free / 1000 reserved, got %v", err)
	}
}

func TestAcquirePathRoundRobinAdvances(t *testing.T) {
	r := newTestRegistry(t, 3, 2)
	for _, p := range r.Paths() {
		p.SetFreeBytes(1 << 30)
	}
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		p, err := r.AcquirePath(1)
		if err != nil {
			t.Fatal(err)
		}
		seen[p.Index] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected round robin to visit all 3 paths, saw %v", seen)
	}
}

func TestAcquirePathSkipsFullPaths(t *testing.T) {
	r := newTestRegistry(t, 2, 2)
	r.Paths()[0].SetFreeBytes(0)
	r.Paths()[1].SetFreeBytes(1 << 20)
	for i := 0; i < 4; i++ {
		p, err := r.AcquirePath(100)
		if err != nil {
			t.Fatal(err)
		}
		if p.Index != 1 {
			t.Fatalf("expected only path 1 to have room, got path %d", p.Index)
		}
	}
}

func TestNewRegistryRejectsMissingPath(t *testing.T) {
	_, err := NewRegistry([]string{filepath.Join(t.TempDir(), "does-not-exist")}, 16, 0, storeconfig.RoundRobin)
	if err == nil {
		t.Fatal("expected error for missing store path")
	}
}
