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

// Package pathstore implements the storage server's path registry
// (spec.md §4.A): it enumerates the configured store paths, maintains
// each one's two-level XX/YY subdirectory fan-out under data/, and
// reserves space for writes. It is grounded on the teacher's
// pkg/blobserver/localdisk, which shards blob content the same way
// (see path.go's blobDirectory/blobPath), generalized from a
// content-digest key to whatever byte pair the caller hands in, and
// extended with the free-space accounting and acquire-path policy that
// localdisk (a single-root store) has no need for.
package pathstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fastdfs-go/storaged/internal/dioerr"
	"github.com/fastdfs-go/storaged/internal/storeconfig"
)

// Path is one configured store path: an absolute root directory holding
// data/ (content tree) and logs/.
type Path struct {
	Index        int
	Root         string
	reservedByte int64
	freeBytes    atomic.Int64
}

// DataRoot is root/data, under which the XX/YY fan-out lives.
func (p *Path) DataRoot() string { return filepath.Join(p.Root, "data") }

// LogsRoot is root/logs.
func (p *Path) LogsRoot() string { return filepath.Join(p.Root, "logs") }

// FreeBytes returns the last-refreshed free-space estimate. Readers use
// relaxed ordering per spec.md §5; atomic.Int64 gives us that for free.
func (p *Path) FreeBytes() int64 { return p.freeBytes.Load() }

// SetFreeBytes updates the cached free-space estimate; called after a
// successful upload (subtracting the written size) and by periodic
// refreshes from statfs (see diskusage.go).
func (p *Path) SetFreeBytes(n int64) { p.freeBytes.Store(n) }

// hasRoom reports whether a write of size bytes may proceed without
// dropping free space below the reserved threshold (spec.md P8).
func (p *Path) hasRoom(size int64) bool {
	return p.FreeBytes() >= size+p.reservedByte
}

// ContentDir returns the two-level fan-out directory for the given
// subdirectory pair, e.g. root/data/4f/a2.
func (p *Path) ContentDir(xx, yy string) string {
	return filepath.Join(p.DataRoot(), xx, yy)
}

// Registry owns every configured store path and its subdirectory count.
type Registry struct {
	paths        []*Path
	subdirCount  int
	policy       storeconfig.LookupPolicy
	rrCounter    atomic.Uint64
}

// NewRegistry validates the configured roots (each must already exist as
// a directory) and returns a Registry. It does not yet create the
// fan-out tree; call EnsureTree for that.
func NewRegistry(roots []string, subdirCount int, reservedPerPath int64, policy storeconfig.LookupPolicy) (*Registry, error) {
	if subdirCount <= 0 || subdirCount > 256 {
		return nil, fmt.Errorf("pathstore: subdir_count_per_path must be in (0,256], got %d", subdirCount)
	}
	r := &Registry{subdirCount: subdirCount, policy: policy}
	for i, root := range roots {
		fi, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("pathstore: store path %q: %w", root, err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("pathstore: store path %q is not a directory", root)
		}
		p := &Path{Index: i, Root: root, reservedByte: reservedPerPath}
		r.paths = append(r.paths, p)
	}
	return r, nil
}

// Paths returns the configured paths in index order.
func (r *Registry) Paths() []*Path { return r.paths }

// SubdirCount is K, the number of XX (and YY) buckets per path.
func (r *Registry) SubdirCount() int { return r.subdirCount }

// subdirName formats a 0-based bucket index as the two-hex-digit name
// FastDFS uses (spec.md §3: XX, YY in [00..FF]).
func subdirName(i int) string { return fmt.Sprintf("%02x", i) }

// SubdirFor derives the XX/YY pair for a stored file from a hash key
// (conventionally the file's CRC32 or salt field); spec.md leaves the
// exact hash unspecified beyond "two-level 256x256 hashing", so any
// stable function of file identity that spreads evenly across K*K
// buckets satisfies the invariant.
func (r *Registry) SubdirFor(hashKey uint32) (xx, yy string) {
	return subdirName(int(hashKey>>8) % r.subdirCount), subdirName(int(hashKey) % r.subdirCount)
}

// EnsureTree creates data/XX/YY under every configured path (spec.md
// §3: "the tree is created on first start"), bounding concurrent
// MkdirAll calls the way the teacher bounds concurrent stat fan-out in
// diskpacked.go's statGate.
func (r *Registry) EnsureTree(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(32)
	for _, p := range r.paths {
		p := p
		if err := os.MkdirAll(p.LogsRoot(), 0700); err != nil {
			return fmt.Errorf("pathstore: creating logs dir: %w", err)
		}
		for x := 0; x < r.subdirCount; x++ {
			for y := 0; y < r.subdirCount; y++ {
				xx, yy := subdirName(x), subdirName(y)
				g.Go(func() error {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
					return os.MkdirAll(p.ContentDir(xx, yy), 0700)
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pathstore: building fan-out tree: %w", err)
	}
	return nil
}

// AcquirePath selects a store path with at least size+reserved bytes
// free (spec.md §4.A, P8), per the configured lookup policy. Only
// round_robin and load_balance are meaningful for a single storage
// node's in-process choice; specified_group is resolved upstream by the
// tracker client and is accepted here as an alias for round_robin over
// whatever subset of paths the caller already filtered.
func (r *Registry) AcquirePath(size int64) (*Path, error) {
	if len(r.paths) == 0 {
		return nil, fmt.Errorf("pathstore: no store paths configured")
	}
	switch r.policy {
	case storeconfig.LoadBalance:
		return r.acquireMostFree(size)
	default:
		return r.acquireRoundRobin(size)
	}
}

func (r *Registry) acquireRoundRobin(size int64) (*Path, error) {
	n := len(r.paths)
	start := int(r.rrCounter.Add(1)-1) % n
	for i := 0; i < n; i++ {
		p := r.paths[(start+i)%n]
		if p.hasRoom(size) {
			return p, nil
		}
	}
	return nil, dioerr.ErrNoSpace
}

func (r *Registry) acquireMostFree(size int64) (*Path, error) {
	var best *Path
	for _, p := range r.paths {
		if !p.hasRoom(size) {
			continue
		}
		if best == nil || p.FreeBytes() > best.FreeBytes() {
			best = p
		}
	}
	if best == nil {
		return nil, dioerr.ErrNoSpace
	}
	return best, nil
}
