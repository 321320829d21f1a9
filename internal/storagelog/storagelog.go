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

// Package storagelog is a thin wrapper around log.Logger in the spirit
// of the teacher's direct log.Printf/log.Println call sites
// (see blobserver/localdisk and blobserver/diskpacked): no structured
// fields, no levels beyond info/warn/error, just prefixed lines.
package storagelog

import (
	"log"
	"os"
)

// Logger is the minimal surface the DIO core logs through. Cleanup and
// allocator code call this instead of the bare "log" package so tests can
// substitute a buffer.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Std returns a Logger writing to the standard logger with level tags,
// matching the teacher's "log.Printf("xxx: %v", err)" call-site style.
func Std() Logger { return stdLogger{l: log.New(os.Stderr, "", log.LstdFlags)} }

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Infof(format string, args ...interface{})  { s.l.Printf("INFO "+format, args...) }
func (s stdLogger) Warnf(format string, args ...interface{})  { s.l.Printf("WARN "+format, args...) }
func (s stdLogger) Errorf(format string, args ...interface{}) { s.l.Printf("ERROR "+format, args...) }

// Discard throws every line away; used by tests that don't want log spam.
func Discard() Logger { return discardLogger{} }

type discardLogger struct{}

func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Errorf(string, ...interface{}) {}
