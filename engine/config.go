package engine

import (
	"path/filepath"
	"time"

	"github.com/nainya/corestore/pkg/vector"
	"github.com/nainya/corestore/pkg/wal"
)

// HNSWConfig is the hnsw.* configuration group of spec §6.
type HNSWConfig struct {
	M             int
	EFConstruction int
	EFSearch      int
}

// Config is the engine.Config of spec §6: every enumerated option, with
// no file/env loading (that belongs to the excluded config-loading
// adapter per SPEC_FULL.md §1).
type Config struct {
	RootDir             string
	DataDir             string // defaults to <root>/data
	WALDir              string // defaults to <root>/wal
	UseLevelDirectories bool   // cosmetic to this core, storage semantics unchanged
	BufferPoolSize      int
	BlockCacheSizeBytes int64 // informational, not enforced by this core
	L0CompactionTrigger int   // reserved
	WALSyncMode         wal.SyncMode
	// WALFlushInterval governs the background flusher started when
	// WALSyncMode is wal.SyncPeriodic; ignored for SyncEveryWrite.
	WALFlushInterval time.Duration

	EnableVectorIndex bool
	VectorDimension   int
	VectorMetric      vector.Metric
	HNSW              HNSWConfig
}

func (c Config) withDefaults() Config {
	if c.RootDir == "" {
		c.RootDir = "."
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.RootDir, "data")
	}
	if c.WALDir == "" {
		c.WALDir = filepath.Join(c.RootDir, "wal")
	}
	if c.BufferPoolSize <= 0 {
		c.BufferPoolSize = 256
	}
	if c.HNSW.M <= 0 {
		c.HNSW.M = 16
	}
	if c.HNSW.EFConstruction <= 0 {
		c.HNSW.EFConstruction = 200
	}
	if c.HNSW.EFSearch <= 0 {
		c.HNSW.EFSearch = 50
	}
	if c.WALFlushInterval <= 0 {
		c.WALFlushInterval = 200 * time.Millisecond
	}
	return c
}

func (c Config) pageFilePath() string {
	return filepath.Join(c.DataDir, "pages.db")
}
