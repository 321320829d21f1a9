//go:build !linux

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

package trunk

import "os"

// preallocate has no fallocate(2) equivalent wired on this platform;
// a plain truncate still gives the container its final size, just
// without the real-space guarantee fallocate provides on Linux.
func preallocate(f *os.File, size int64) error {
	return f.Truncate(size)
}
