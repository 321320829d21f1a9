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

// Package ioflow drives the upload/download/append/modify/truncate state
// machines of spec.md §4.G on top of pkg/dio's FileContext and
// Dispatcher. The real storage server pairs the disk-I/O core with a
// single-threaded, non-blocking network event loop that pauses a
// connection's task between chunks and resumes it on ResumeStage; that
// event loop is an external collaborator outside this module's scope
// (spec.md §1, §5). ioflow's drive* helpers stand in for it: they are a
// synchronous adapter that feeds chunks from an io.Reader (upload) or
// into an io.Writer (download) each time FileContext asks to resume,
// so the dispatcher and its handlers run exactly the state machine
// spec.md describes and can be exercised and tested without a real
// socket.
package ioflow

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fastdfs-go/storaged/internal/storagelog"
	"github.com/fastdfs-go/storaged/internal/storeconfig"
	"github.com/fastdfs-go/storaged/pkg/dio"
	"github.com/fastdfs-go/storaged/pkg/fileid"
	"github.com/fastdfs-go/storaged/pkg/fingerprint"
	"github.com/fastdfs-go/storaged/pkg/pathstore"
	"github.com/fastdfs-go/storaged/pkg/storagestats"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

// chunkSize is the size of each piece ioflow's synchronous driver reads
// from or writes to its caller-supplied Reader/Writer; the real network
// layer would size chunks off the client's send buffer, but any bound
// works here since P7 (chunking transparency) requires correctness
// regardless of chunk boundaries.
const chunkSize = 256 * 1024

// Core bundles the collaborators one storage-server process wires
// together: the path registry, one trunk allocator per store path (index
// matching Registry.Paths()), the DIO dispatcher, the statistics block,
// the parsed config, and a logger. cmd/fdfsstoraged constructs one Core
// at startup; every ioflow operation takes it as a first argument rather
// than closing over package-level state, the way the teacher's
// blobserver constructors take their dependencies explicitly.
type Core struct {
	Registry   *pathstore.Registry
	Allocators []*trunk.Allocator
	Dispatcher *dio.Dispatcher
	Stats      *storagestats.Stats
	Config     *storeconfig.Config
	Log        storagelog.Logger
	SourceIP   uint32

	now func() time.Time
}

// NewCore validates that allocators has one entry per registry path (a
// nil entry means trunk storage is unavailable on that path; Upload with
// Trunk requested against such a path fails) and returns a ready Core.
func NewCore(registry *pathstore.Registry, allocators []*trunk.Allocator, dispatcher *dio.Dispatcher, stats *storagestats.Stats, cfg *storeconfig.Config, log storagelog.Logger, sourceIP uint32) (*Core, error) {
	if len(allocators) != len(registry.Paths()) {
		return nil, fmt.Errorf("ioflow: %d allocators for %d store paths", len(allocators), len(registry.Paths()))
	}
	if log == nil {
		log = storagelog.Std()
	}
	return &Core{
		Registry:   registry,
		Allocators: allocators,
		Dispatcher: dispatcher,
		Stats:      stats,
		Config:     cfg,
		Log:        log,
		SourceIP:   sourceIP,
		now:        time.Now,
	}, nil
}

func (c *Core) hashKind() fingerprint.HashKind {
	switch c.Config.FileSignatureMethod {
	case storeconfig.HashMethodMD5:
		return fingerprint.HashMD5
	case storeconfig.HashMethodRolling:
		return fingerprint.HashRollingQuad
	default:
		return fingerprint.HashNone
	}
}

// randomSalt draws the per-upload salt field of spec.md §3's file ID
// (the teacher has no analogue for this -- blob.Ref derives its name
// entirely from content -- so this follows directly from crypto/rand,
// the standard source for a value that must not be guessable or reused).
func randomSalt() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("ioflow: reading random salt: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// remoteName joins a file ID's components into the external form of
// spec.md §3: group_name/path_prefix/XX/YY/base64_fields.ext.
func remoteName(group, pathPrefix, xx, yy, core string) string {
	parts := []string{group}
	if pathPrefix != "" {
		parts = append(parts, pathPrefix)
	}
	parts = append(parts, xx, yy, core)
	return strings.Join(parts, "/")
}

// splitRemoteName is remoteName's inverse: it pulls the group, the XX/YY
// fan-out pair, the trailing base64-fields-plus-extension core, and
// whatever sits between group and XX back out of a full remote file ID.
// path_prefix is not otherwise used by this reimplementation (spec.md
// leaves its semantics to the tracker side, out of scope here); it is
// returned so callers that need it for logging or echoing can have it.
func splitRemoteName(name string) (group, pathPrefix, xx, yy, core string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) < 4 {
		return "", "", "", "", "", fmt.Errorf("ioflow: malformed remote file id %q", name)
	}
	group = parts[0]
	core = parts[len(parts)-1]
	yy = parts[len(parts)-2]
	xx = parts[len(parts)-3]
	pathPrefix = strings.Join(parts[1:len(parts)-3], "/")
	return group, pathPrefix, xx, yy, core, nil
}

// resolvePathByIndex returns the store path at idx and its trunk
// allocator (nil if the path has none configured).
func (c *Core) resolvePathByIndex(idx int) (*pathstore.Path, *trunk.Allocator, error) {
	paths := c.Registry.Paths()
	if idx < 0 || idx >= len(paths) {
		return nil, nil, fmt.Errorf("ioflow: path index %d out of range", idx)
	}
	return paths[idx], c.Allocators[idx], nil
}

// pathPrefixFor formats the store-path marker embedded in every file ID,
// "M" followed by the zero-padded path index -- the real FastDFS
// convention (group1/M00/...) that lets a remote name name its local
// store path without a separate lookup table.
func pathPrefixFor(idx int) string { return fmt.Sprintf("M%02d", idx) }

// parsePathPrefix is pathPrefixFor's inverse.
func parsePathPrefix(prefix string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(prefix, "M%02d", &idx); err != nil {
		return 0, fmt.Errorf("ioflow: malformed path prefix %q", prefix)
	}
	return idx, nil
}

// resolveRemoteName parses a full remote file ID and returns its store
// path, trunk allocator, and decoded fields.
func (c *Core) resolveRemoteName(name string) (*pathstore.Path, *trunk.Allocator, fileid.Fields, error) {
	_, prefix, _, _, core, err := splitRemoteName(name)
	if err != nil {
		return nil, nil, fileid.Fields{}, err
	}
	idx, err := parsePathPrefix(prefix)
	if err != nil {
		return nil, nil, fileid.Fields{}, err
	}
	path, allocator, err := c.resolvePathByIndex(idx)
	if err != nil {
		return nil, nil, fileid.Fields{}, err
	}
	fields, err := fileid.Decode(core)
	if err != nil {
		return nil, nil, fileid.Fields{}, err
	}
	return path, allocator, fields, nil
}

// driveWrite synchronously plays the network task's role for an upload
// (spec.md §4.G "loop: receive chunk, enqueue write, await write-complete"):
// it primes ctx with the first chunk read from src, submits it, and on
// every ResumeStage feeds the next chunk until Done fires.
func driveWrite(d *dio.Dispatcher, ctx *dio.FileContext, src io.Reader) error {
	done := make(chan error, 1)
	var readErr error

	nextChunk := func() []byte {
		remaining := ctx.End - ctx.Offset
		if remaining <= 0 {
			return nil
		}
		if remaining > chunkSize {
			remaining = chunkSize
		}
		buf := make([]byte, remaining)
		n, err := io.ReadFull(src, buf)
		if err != nil {
			readErr = err
		}
		return buf[:n]
	}

	ctx.Done = func(_ *dio.FileContext, err error) { done <- err }
	ctx.ResumeStage = func(c *dio.FileContext, _ dio.Stage) {
		c.Buffer = nextChunk()
		if readErr != nil {
			c.Aborted = true
		}
		if err := d.Submit(c); err != nil {
			done <- err
		}
	}

	ctx.Buffer = nextChunk()
	if readErr != nil {
		return readErr
	}
	if err := d.Submit(ctx); err != nil {
		return err
	}
	return <-done
}

// driveRead synchronously plays the network task's role for a download
// (spec.md §4.G "loop: read into buffer, let network task flush, repeat
// until end"): every completed read is flushed to dst, then the next
// chunk is submitted, until the handler reports Done.
func driveRead(d *dio.Dispatcher, ctx *dio.FileContext, dst io.Writer) error {
	done := make(chan error, 1)

	flush := func(c *dio.FileContext) error {
		if len(c.Buffer) == 0 {
			return nil
		}
		_, err := dst.Write(c.Buffer)
		return err
	}

	ctx.Done = func(c *dio.FileContext, err error) {
		if err == nil {
			err = flush(c)
		}
		done <- err
	}
	ctx.ResumeStage = func(c *dio.FileContext, _ dio.Stage) {
		if err := flush(c); err != nil {
			done <- err
			return
		}
		remaining := c.End - c.Offset
		if remaining > chunkSize {
			remaining = chunkSize
		}
		c.Buffer = make([]byte, remaining)
		if err := d.Submit(c); err != nil {
			done <- err
		}
	}

	remaining := ctx.End - ctx.Offset
	if remaining > chunkSize {
		remaining = chunkSize
	}
	ctx.Buffer = make([]byte, remaining)
	if err := d.Submit(ctx); err != nil {
		return err
	}
	return <-done
}

// tempFilename names the scratch file a normal upload writes to before
// its final, CRC-derived name is known (spec.md §4.G step 4: "on the
// final chunk... rename ... from temp to final path"). The salt is
// already randomly drawn per upload, so reusing it here is enough to
// avoid collisions between concurrent uploads into the same XX/YY dir.
func tempFilename(dir string, salt uint32) string {
	return filepath.Join(dir, fmt.Sprintf(".upload-%08x.tmp", salt))
}

// onDiskPath is a normal (non-trunk) file's absolute path: the store
// path's XX/YY fan-out directory plus the remote name's base64-fields
// core and extension, which is exactly what the file was written under
// (spec.md §4.G step 4's rename from temp name to final path).
func onDiskPath(path *pathstore.Path, xx, yy, core string) string {
	return filepath.Join(path.ContentDir(xx, yy), core)
}

// driveNoBody submits a context that completes in one step with no
// chunked body (spec.md §4.F's dio_truncate_file) and waits for Done.
func driveNoBody(d *dio.Dispatcher, ctx *dio.FileContext) error {
	done := make(chan error, 1)
	ctx.Done = func(_ *dio.FileContext, err error) { done <- err }
	if err := d.Submit(ctx); err != nil {
		return err
	}
	return <-done
}

// buildFileID encodes fields and the group/prefix/XX/YY wrapper into the
// externally-visible file ID (spec.md §3/§4.B).
func buildFileID(group, pathPrefix, xx, yy string, fields fileid.Fields) (string, error) {
	core, err := fileid.Encode(fields)
	if err != nil {
		return "", err
	}
	return remoteName(group, pathPrefix, xx, yy, core), nil
}
