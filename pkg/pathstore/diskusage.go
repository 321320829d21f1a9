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

// RefreshFreeBytes re-reads the filesystem's available space for p and
// updates the cached value AcquirePath compares against. Callers
// typically invoke this once at startup and on a periodic timer
// (outside this package's scope); it is also safe to call after every
// upload, though uploads should instead just subtract the written size
// from the cache directly to avoid a syscall per request.
func (p *Path) RefreshFreeBytes() error {
	free, err := statfsFree(p.Root)
	if err != nil {
		return err
	}
	p.SetFreeBytes(free)
	return nil
}

// RefreshAll refreshes every configured path; a startup failure on any
// one path is fatal per spec.md §4.A ("configured path missing →
// fatal at startup").
func (r *Registry) RefreshAll() error {
	for _, p := range r.paths {
		if err := p.RefreshFreeBytes(); err != nil {
			return err
		}
	}
	return nil
}
