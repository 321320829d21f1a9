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
	"sync"
	"testing"
)

// TestDispatcherPreservesPerConnectionOrder exercises P6 (serialization
// per connection): every request submitted under the same SocketFD must
// be handled in submission order, even with several worker threads in
// the pool, because the thread-affinity hash always routes it to the
// same queue.
func TestDispatcherPreservesPerConnectionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int64
	var wg sync.WaitGroup

	handle := func(ctx *FileContext) {
		mu.Lock()
		order = append(order, ctx.Start)
		mu.Unlock()
		wg.Done()
	}

	d, err := NewDispatcher(1, 4, 4, false, handle)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		if err := d.Submit(&FileContext{PathIndex: 0, Op: OpWrite, SocketFD: 3, Start: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("got %d completions, want %d", len(order), n)
	}
	for i, v := range order {
		if v != int64(i) {
			t.Fatalf("out-of-order completion at position %d: got marker %d, want %d (full order %v)", i, v, i, order)
		}
	}
}

func TestDispatcherRejectsBadPathIndex(t *testing.T) {
	d, err := NewDispatcher(2, 1, 1, false, func(*FileContext) {})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Submit(&FileContext{PathIndex: 5, Op: OpRead}); err == nil {
		t.Fatal("expected error for out-of-range path index")
	}
}

func TestNewDispatcherValidatesConfig(t *testing.T) {
	if _, err := NewDispatcher(0, 1, 1, false, func(*FileContext) {}); err == nil {
		t.Fatal("expected error for zero path count")
	}
	if _, err := NewDispatcher(1, 0, 1, false, func(*FileContext) {}); err == nil {
		t.Fatal("expected error for zero reader threads")
	}
}
