// Command corestore is a minimal bootstrap that opens a database at a
// given root directory and runs a handful of sanity operations. It is
// not a server or a shell — those are the excluded external
// collaborators of spec §1 — just a smoke-test harness over the Engine
// façade.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nainya/corestore/engine"
	"github.com/nainya/corestore/internal/logger"
	"github.com/nainya/corestore/pkg/vector"
	"github.com/nainya/corestore/pkg/wal"
)

func main() {
	root := flag.String("root", "./corestore-data", "database root directory")
	vectors := flag.Bool("vectors", false, "enable the vector index")
	dim := flag.Int("dim", 4, "vector dimension, when -vectors is set")
	flag.Parse()

	log := logger.NewLogger(logger.Config{Level: "info", Pretty: true})

	e, err := engine.Open(engine.Config{
		RootDir:           *root,
		BufferPoolSize:    256,
		WALSyncMode:       wal.SyncEveryWrite,
		EnableVectorIndex: *vectors,
		VectorDimension:   *dim,
		VectorMetric:      vector.Cosine,
		HNSW:              engine.HNSWConfig{M: 16, EFConstruction: 200, EFSearch: 50},
	}, engine.Dependencies{Logger: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	if err := e.Put([]byte("hello"), []byte("world")); err != nil {
		fmt.Fprintf(os.Stderr, "put: %v\n", err)
		os.Exit(1)
	}
	val, err := e.Get([]byte("hello"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "get: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("hello = %s\n", val)

	stats, err := e.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("entries=%d pages=%d gets=%d puts=%d\n",
		stats.TotalEntries, stats.TotalPages, stats.TotalGets, stats.TotalPuts)
}
