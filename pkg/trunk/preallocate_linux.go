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

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes of real disk space for f using
// fallocate(2), falling back to a plain truncate if the filesystem
// doesn't support it (e.g. tmpfs), mirroring how localdisk/receive_posix.go
// gates POSIX-only behavior behind a build tag rather than failing outright.
func preallocate(f *os.File, size int64) error {
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		return f.Truncate(size)
	}
	return nil
}
