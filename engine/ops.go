package engine

import (
	"time"

	"github.com/nainya/corestore/pkg/record"
	"github.com/nainya/corestore/pkg/vector"
)

// Put inserts or overwrites key with val (spec §6 put).
func (e *Engine) Put(key, val []byte) error {
	start := time.Now()
	e.m.TotalPuts.Inc()
	err := e.records.Put(key, val)
	return e.recordErr("put", start, err)
}

// Get returns key's value, or errs.NotFound if absent or tombstoned
// (spec §6 get).
func (e *Engine) Get(key []byte) ([]byte, error) {
	start := time.Now()
	e.m.TotalGets.Inc()
	val, err := e.records.Get(key)
	return val, e.recordErr("get", start, err)
}

// Delete tombstones key (spec §6 delete).
func (e *Engine) Delete(key []byte) error {
	start := time.Now()
	err := e.records.Delete(key)
	return e.recordErr("delete", start, err)
}

// Op is one operation within a BatchWrite call (spec §6 batch_write).
type Op struct {
	Delete bool
	Key    []byte
	Value  []byte
}

// BatchWrite applies every op as a single WAL transaction: either all
// ops are durable on success or none appear as durable.
func (e *Engine) BatchWrite(ops []Op) error {
	start := time.Now()
	converted := make([]record.BatchOp, len(ops))
	for i, op := range ops {
		converted[i] = record.BatchOp{Delete: op.Delete, Key: op.Key, Value: op.Value}
	}
	err := e.records.BatchWrite(converted)
	return e.recordErr("batch_write", start, err)
}

// ScanOptions controls Scan (spec §6 scan).
type ScanOptions struct {
	Limit     int
	Reverse   bool
	KeysOnly  bool
}

// Scan streams live entries with keys in [start, end) in key order
// (reverse order if requested).
func (e *Engine) Scan(start, end []byte, opts ScanOptions) ([]record.Entry, error) {
	t0 := time.Now()
	entries, err := e.records.Scan(start, end, opts.Limit, opts.Reverse)
	if err == nil && opts.KeysOnly {
		for i := range entries {
			entries[i].Value = nil
		}
	}
	return entries, e.recordErr("scan", t0, err)
}

// GetAllEntries enumerates every live record (spec §6 get_all_entries).
func (e *Engine) GetAllEntries() ([]record.Entry, error) {
	return e.records.IterateAll()
}

// PutVector validates and persists a vector, inserting it into the
// proximity graph (spec §6 put_vector).
func (e *Engine) PutVector(key []byte, vec []float32) error {
	start := time.Now()
	err := e.vectors.PutVector(key, vec)
	return e.recordErr("put_vector", start, err)
}

// GetVector returns the stored vector for key (spec §6 get_vector).
func (e *Engine) GetVector(key []byte) ([]float32, error) {
	start := time.Now()
	v, err := e.vectors.GetVector(key)
	return v, e.recordErr("get_vector", start, err)
}

// SearchSimilar returns the k closest stored vectors to query, ascending
// by distance (spec §6 search_similar).
func (e *Engine) SearchSimilar(query []float32, k int, includeDistances bool) ([]vector.Match, error) {
	start := time.Now()
	matches, err := e.vectors.SearchSimilar(query, k)
	e.m.VectorSearchDuration.Observe(time.Since(start).Seconds())
	if err == nil && !includeDistances {
		for i := range matches {
			matches[i].Distance = 0
		}
	}
	return matches, e.recordErr("search_similar", start, err)
}

// GetAllVectors enumerates every stored vector, keyed by its original
// user key (spec §6 get_all_vectors). Administrative use only; scans
// the vector-data namespace of the keyspace, not the whole store.
func (e *Engine) GetAllVectors() (map[string][]float32, error) {
	return e.vectors.Vectors()
}

// Stats is the snapshot returned by get_stats (spec §6).
type Stats struct {
	TotalPages       int64
	TotalReads       int64
	TotalWrites      int64
	ChecksumFailures int64
	TotalEntries     int64
	AvgGetTimeUs     float64
	AvgPutTimeUs     float64
	TotalGets        int64
	TotalPuts        int64
}

// GetStats reports a point-in-time snapshot of the core's instruments
// (spec §6 get_stats).
func (e *Engine) GetStats() (Stats, error) {
	e.m.TotalPages.Set(float64(e.disk.PageCount()))
	entries, err := e.records.IterateAll()
	if err != nil {
		return Stats{}, err
	}
	e.m.TotalEntries.Set(float64(len(entries)))

	snap := e.m.Snapshot()
	return Stats{
		TotalPages:       snap.TotalPages,
		TotalReads:       snap.TotalReads,
		TotalWrites:      snap.TotalWrites,
		ChecksumFailures: snap.ChecksumFailures,
		TotalEntries:     snap.TotalEntries,
		AvgGetTimeUs:     snap.AvgGetTimeUs,
		AvgPutTimeUs:     snap.AvgPutTimeUs,
		TotalGets:        snap.TotalGets,
		TotalPuts:        snap.TotalPuts,
	}, nil
}

// VectorStats is the snapshot returned by get_vector_stats (spec §6).
type VectorStats = vector.Stats

// GetVectorStats reports the vector index's current shape (spec §6
// get_vector_stats).
func (e *Engine) GetVectorStats() VectorStats {
	st := e.vectors.Stats()
	e.m.NumVectors.Set(float64(st.NumVectors))
	return st
}
