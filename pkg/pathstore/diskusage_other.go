//go:build !linux

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

import "fmt"

// statfsFree has no portable implementation outside Linux in this
// module; non-Linux builds must call Path.SetFreeBytes explicitly
// (e.g. from a platform-specific collaborator) instead of
// RefreshFreeBytes.
func statfsFree(root string) (int64, error) {
	return 0, fmt.Errorf("pathstore: statfs-based free space not implemented on this platform for %q", root)
}
