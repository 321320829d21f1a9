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

package dio

import (
	"fmt"

	"github.com/fastdfs-go/storaged/internal/chanworker"
)

// workerPool is a fixed set of single-consumer queues, one per disk
// thread. It is built directly out of internal/chanworker.NewWorker with
// nWorkers=1 per queue: that function already gives each queue its own
// dedicated consumer goroutine draining a buffered channel, which is
// exactly the "thread owns a blocking FIFO queue" model of spec.md §4.F
// -- the one thing chanworker's normal use (N workers sharing one
// input channel, load-balanced) doesn't give us is per-connection
// affinity, so here we run nWorkers independent 1-worker chanworkers
// instead of one N-worker chanworker.
type workerPool struct {
	queues []chan<- interface{}
}

func newWorkerPool(n int, handle func(*FileContext)) *workerPool {
	wp := &workerPool{queues: make([]chan<- interface{}, n)}
	for i := 0; i < n; i++ {
		wp.queues[i] = chanworker.NewWorker(1, func(el interface{}, ok bool) {
			if !ok {
				return // final sentinel on pool shutdown; nothing to release
			}
			handle(el.(*FileContext))
		})
	}
	return wp
}

// submit picks the queue for socketFD -- spec.md §4.F's thread-affinity
// hash, (socket_fd) mod count -- and enqueues ctx on it.
func (wp *workerPool) submit(socketFD int, ctx *FileContext) {
	n := len(wp.queues)
	idx := socketFD % n
	if idx < 0 {
		idx += n
	}
	wp.queues[idx] <- ctx
}

// close shuts down every queue in the pool; chanworker's pump goroutine
// drains any buffered items to the workers and then calls fn(nil,
// false) once all workers have exited, matching spec.md §4.F's shutdown
// contract ("each worker drains or drops pending items and exits").
func (wp *workerPool) close() {
	for _, q := range wp.queues {
		close(q)
	}
}

// pathPool is one store path's reader and writer thread pools. When
// disk_rw_separated is false they are the same pool, serving both
// operation classes (spec.md §4.F).
type pathPool struct {
	readers *workerPool
	writers *workerPool
}

// Dispatcher is the DIO thread-pool set described by spec.md §4.F: N
// store paths, each with R reader and W writer queues (or one combined
// R+W pool). Handle is invoked on a dispatcher worker goroutine for
// every submitted FileContext; it must never block on network I/O
// (spec.md §5).
type Dispatcher struct {
	paths []*pathPool
}

// NewDispatcher builds one pathPool per store path. readerThreads and
// writerThreads are per-path thread counts (storeconfig's
// DiskReaderThreads/DiskWriterThreads); rwSeparated selects whether
// reads and writes get independent pools.
func NewDispatcher(pathCount, readerThreads, writerThreads int, rwSeparated bool, handle func(*FileContext)) (*Dispatcher, error) {
	if pathCount <= 0 {
		return nil, fmt.Errorf("dio: pathCount must be positive, got %d", pathCount)
	}
	if readerThreads <= 0 || writerThreads <= 0 {
		return nil, fmt.Errorf("dio: reader/writer thread counts must be positive, got %d/%d", readerThreads, writerThreads)
	}
	d := &Dispatcher{paths: make([]*pathPool, pathCount)}
	for i := range d.paths {
		if rwSeparated {
			d.paths[i] = &pathPool{
				readers: newWorkerPool(readerThreads, handle),
				writers: newWorkerPool(writerThreads, handle),
			}
		} else {
			combined := newWorkerPool(readerThreads+writerThreads, handle)
			d.paths[i] = &pathPool{readers: combined, writers: combined}
		}
	}
	return d, nil
}

// Submit routes ctx to the reader or writer pool of ctx.PathIndex,
// hashing ctx.SocketFD to a specific worker queue.
func (d *Dispatcher) Submit(ctx *FileContext) error {
	if ctx.PathIndex < 0 || ctx.PathIndex >= len(d.paths) {
		return fmt.Errorf("dio: path index %d out of range [0,%d)", ctx.PathIndex, len(d.paths))
	}
	pp := d.paths[ctx.PathIndex]
	pool := pp.writers
	if ctx.Op.isRead() {
		pool = pp.readers
	}
	pool.submit(ctx.SocketFD, ctx)
	return nil
}

// Close shuts down every reader/writer queue across every store path.
// When disk_rw_separated is false, readers and writers alias the same
// pool, so each is only closed once.
func (d *Dispatcher) Close() {
	seen := map[*workerPool]bool{}
	for _, pp := range d.paths {
		for _, p := range []*workerPool{pp.readers, pp.writers} {
			if !seen[p] {
				seen[p] = true
				p.close()
			}
		}
	}
}
