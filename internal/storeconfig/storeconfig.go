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

// Package storeconfig parses the storage server's disk-I/O config inputs
// out of a generic key/value map, in the style of the teacher's
// pkg/jsonconfig: a validating accessor wrapper over map[string]interface{}
// that records unknown and missing keys and reports them together.
package storeconfig

import (
	"fmt"
	"strings"
)

// LookupPolicy selects how acquiring a store path for a new upload picks
// among the configured paths.
type LookupPolicy string

const (
	RoundRobin     LookupPolicy = "round_robin"
	SpecifiedGroup LookupPolicy = "specified_group"
	LoadBalance    LookupPolicy = "load_balance"
)

// HashMethod selects the optional 16-byte content-hash fingerprint field:
// "hash" is the four-lane 32-bit rolling hash, "md5" is MD5.
type HashMethod string

const (
	HashMethodRolling HashMethod = "hash"
	HashMethodMD5     HashMethod = "md5"
)

// Obj is a raw configuration map, exactly as the teacher's jsonconfig.Obj.
type Obj map[string]interface{}

// Config is the parsed, validated set of inputs the disk-I/O core consumes
// (spec.md §6). Everything else in a real storage.conf -- tracker list,
// bind address, HTTP port, daemonize flag -- belongs to collaborators
// outside this module's scope.
type Config struct {
	StorePaths           []string
	SubdirCountPerPath   int
	DiskReaderThreads    int
	DiskWriterThreads    int
	DiskRWSeparated      bool
	ReservedStorageSpace int64
	TrunkFileSize        int64
	FileSignatureMethod  HashMethod
	StoreLookup          LookupPolicy
}

// Parse validates obj and returns a Config, or the first set of
// accumulated errors from missing/malformed/unknown keys.
func Parse(obj Obj) (*Config, error) {
	c := &Config{
		SubdirCountPerPath:   obj.optInt("subdir_count_per_path", 256),
		DiskReaderThreads:    obj.optInt("disk_reader_threads", 4),
		DiskWriterThreads:    obj.optInt("disk_writer_threads", 4),
		DiskRWSeparated:      obj.optBool("disk_rw_separated", true),
		ReservedStorageSpace: obj.optInt64("reserved_storage_space", 0),
		TrunkFileSize:        obj.optInt64("trunk_file_size", 64<<20),
		FileSignatureMethod:  HashMethod(obj.optString("file_signature_method", string(HashMethodRolling))),
		StoreLookup:          LookupPolicy(obj.optString("store_lookup", string(RoundRobin))),
	}

	count := obj.reqInt("store_path_count")
	c.StorePaths = make([]string, 0, count)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("store_path_%d", i)
		c.StorePaths = append(c.StorePaths, obj.reqString(key))
	}
	obj.noteKnownKey("store_path_count")

	if err := obj.validate(); err != nil {
		return nil, err
	}
	if c.FileSignatureMethod != HashMethodRolling && c.FileSignatureMethod != HashMethodMD5 {
		return nil, fmt.Errorf("storeconfig: invalid file_signature_method %q", c.FileSignatureMethod)
	}
	if c.StoreLookup != RoundRobin && c.StoreLookup != SpecifiedGroup && c.StoreLookup != LoadBalance {
		return nil, fmt.Errorf("storeconfig: invalid store_lookup %q", c.StoreLookup)
	}
	if len(c.StorePaths) == 0 {
		return nil, fmt.Errorf("storeconfig: store_path_count must be >= 1")
	}
	return c, nil
}

func (o Obj) noteKnownKey(key string) {
	kk, ok := o["_knownkeys"].(map[string]bool)
	if !ok {
		kk = make(map[string]bool)
		o["_knownkeys"] = kk
	}
	kk[key] = true
}

func (o Obj) appendError(err error) {
	if ei, ok := o["_errors"]; ok {
		o["_errors"] = append(ei.([]error), err)
	} else {
		o["_errors"] = []error{err}
	}
}

func (o Obj) reqString(key string) string {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		o.appendError(fmt.Errorf("missing required config key %q (string)", key))
		return ""
	}
	s, ok := v.(string)
	if !ok {
		o.appendError(fmt.Errorf("config key %q must be a string, got %T", key, v))
		return ""
	}
	return s
}

func (o Obj) optString(key, def string) string {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		o.appendError(fmt.Errorf("config key %q must be a string, got %T", key, v))
		return def
	}
	return s
}

func (o Obj) reqInt(key string) int {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		o.appendError(fmt.Errorf("missing required config key %q (integer)", key))
		return 0
	}
	return toInt(o, key, v)
}

func (o Obj) optInt(key string, def int) int {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		return def
	}
	return toInt(o, key, v)
}

func (o Obj) optInt64(key string, def int64) int64 {
	return int64(o.optInt(key, int(def)))
}

func (o Obj) optBool(key string, def bool) bool {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		o.appendError(fmt.Errorf("config key %q must be a boolean, got %T", key, v))
		return def
	}
	return b
}

func toInt(o Obj, key string, v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		o.appendError(fmt.Errorf("config key %q must be a number, got %T", key, v))
		return 0
	}
}

// validate reports unknown keys (any key not looked up and not prefixed
// with "_") together with every accumulated error, exactly as
// jsonconfig.Obj.Validate does.
func (o Obj) validate() error {
	known, _ := o["_knownkeys"].(map[string]bool)
	for k := range o {
		if known[k] || strings.HasPrefix(k, "_") {
			continue
		}
		o.appendError(fmt.Errorf("unknown config key %q", k))
	}
	errs, ok := o["_errors"].([]error)
	if !ok {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("storeconfig: multiple errors: %s", strings.Join(msgs, "; "))
}
