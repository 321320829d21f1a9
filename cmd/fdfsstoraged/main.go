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

// Command fdfsstoraged assembles and starts the disk-I/O core: it reads
// storage.conf, builds the path registry and trunk allocators, wires
// the DIO dispatcher, and hands the resulting ioflow.Core over to a
// network listener. The listener itself -- accepting connections,
// framing the 10-byte request header, pausing/resuming a task between
// chunks -- is outside this module's scope (spec.md §1, §5); this
// binary only does the wiring a real storaged process would do before
// handing off to that loop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/fastdfs-go/storaged/internal/ioflow"
	"github.com/fastdfs-go/storaged/internal/storagelog"
	"github.com/fastdfs-go/storaged/internal/storeconfig"
	"github.com/fastdfs-go/storaged/pkg/dio"
	"github.com/fastdfs-go/storaged/pkg/pathstore"
	"github.com/fastdfs-go/storaged/pkg/storagestats"
	"github.com/fastdfs-go/storaged/pkg/trunk"
)

func main() {
	configPath := flag.String("config", "/etc/fdfs/storage.conf", "path to storage.conf (JSON)")
	flag.Parse()

	core, err := assemble(*configPath)
	if err != nil {
		log.Fatalf("fdfsstoraged: %v", err)
	}
	log.Printf("fdfsstoraged: ready, %d store path(s), signature method %q",
		len(core.Registry.Paths()), core.Config.FileSignatureMethod)

	// The network task loop that would drive core via ioflow.Upload/
	// Download/... per connection lives outside this module; nothing
	// left to do here but keep the process alive for its dispatcher.
	select {}
}

// assemble builds a ready-to-use ioflow.Core from a storage.conf file, the
// same sequence a real storaged main does: parse config, open the path
// registry (creating its fan-out tree on first run), open one trunk
// allocator per store path, and start the DIO dispatcher.
func assemble(configPath string) (*ioflow.Core, error) {
	obj, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := storeconfig.Parse(obj)
	if err != nil {
		return nil, err
	}

	registry, err := pathstore.NewRegistry(cfg.StorePaths, cfg.SubdirCountPerPath, cfg.ReservedStorageSpace, cfg.StoreLookup)
	if err != nil {
		return nil, err
	}
	if err := registry.EnsureTree(context.Background()); err != nil {
		return nil, err
	}
	if err := registry.RefreshAll(); err != nil {
		return nil, err
	}

	log := storagelog.Std()
	allocators := make([]*trunk.Allocator, len(registry.Paths()))
	for i, p := range registry.Paths() {
		a, err := trunk.NewAllocator(p.DataRoot(), cfg.TrunkFileSize, log)
		if err != nil {
			return nil, err
		}
		allocators[i] = a
	}

	stats := storagestats.New()
	dispatcher, err := dio.NewDispatcher(len(registry.Paths()), cfg.DiskReaderThreads, cfg.DiskWriterThreads, cfg.DiskRWSeparated, dio.NewHandler(stats))
	if err != nil {
		return nil, err
	}

	return ioflow.NewCore(registry, allocators, dispatcher, stats, cfg, log, localSourceIP())
}

// readConfigFile loads storage.conf as a plain JSON object; the
// teacher's pkg/jsonconfig additionally expands nested file includes
// and environment substitutions, neither of which spec.md's config
// surface (§6) calls for here.
func readConfigFile(path string) (storeconfig.Obj, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var obj storeconfig.Obj
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// localSourceIP is a placeholder for the source_ip field baked into
// every file ID (spec.md §3); a real deployment reads this off the
// configured bind address or an explicit storage.conf override, both
// out of spec.md's scope for this core.
func localSourceIP() uint32 { return 0 }
