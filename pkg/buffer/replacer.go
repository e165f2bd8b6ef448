package buffer

import "sync"

// lruKReplacer implements the LRU-K (K=2) replacement policy of spec
// §4.3: the victim is the unpinned frame whose K-th-most-recent
// reference is furthest in the past; frames with fewer than K
// references sort before any frame with K references, tie-broken by
// most-recent reference. Grounded on cobaltdb's container/list-based
// LRU skeleton (f6677179_cobaltdb-cobaltdb__pkg-storage-buffer_pool.go.go),
// extended from plain LRU to true LRU-K using a per-frame access
// history instead of a single intrusive list.
type lruKReplacer struct {
	k int

	mu        sync.Mutex
	seq       uint64
	history   map[int][]uint64 // frame index -> up to k most recent access sequence numbers, oldest first
	evictable map[int]bool
}

func newLRUKReplacer(k int) *lruKReplacer {
	return &lruKReplacer{
		k:         k,
		history:   make(map[int][]uint64),
		evictable: make(map[int]bool),
	}
}

// RecordAccess registers a reference to frameIdx.
func (r *lruKReplacer) RecordAccess(frameIdx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	h := r.history[frameIdx]
	h = append(h, r.seq)
	if len(h) > r.k {
		h = h[len(h)-r.k:]
	}
	r.history[frameIdx] = h
}

// SetEvictable marks whether frameIdx may currently be chosen as a
// victim (false while pinned).
func (r *lruKReplacer) SetEvictable(frameIdx int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictable[frameIdx] = evictable
}

// Forget discards all history for frameIdx, used when a frame is
// deleted or about to be reassigned to a different page.
func (r *lruKReplacer) Forget(frameIdx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, frameIdx)
	delete(r.evictable, frameIdx)
}

// Evict selects and removes the current victim frame index, or returns
// ok=false if no frame is evictable.
func (r *lruKReplacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bestIdx := -1
	var bestBackwardK uint64
	var bestMostRecent uint64
	bestHasFullHistory := true

	for idx, evictable := range r.evictable {
		if !evictable {
			continue
		}
		h := r.history[idx]
		hasFull := len(h) >= r.k
		mostRecent := uint64(0)
		if len(h) > 0 {
			mostRecent = h[len(h)-1]
		}

		var backwardK uint64
		if hasFull {
			backwardK = r.seq - h[0] // distance back to the k-th most recent reference
		}

		candidateBetter := false
		switch {
		case bestIdx == -1:
			candidateBetter = true
		case bestHasFullHistory && !hasFull:
			// Frames with fewer than k references always evict first.
			candidateBetter = true
		case !bestHasFullHistory && hasFull:
			candidateBetter = false
		case !bestHasFullHistory && !hasFull:
			// Both have partial history: evict the one referenced
			// least recently (smallest most-recent timestamp).
			candidateBetter = mostRecent < bestMostRecent
		default:
			// Both have full k-history: evict the larger backward-k distance.
			candidateBetter = backwardK > bestBackwardK
		}

		if candidateBetter {
			bestIdx = idx
			bestBackwardK = backwardK
			bestMostRecent = mostRecent
			bestHasFullHistory = hasFull
		}
	}

	if bestIdx == -1 {
		return 0, false
	}
	delete(r.evictable, bestIdx)
	delete(r.history, bestIdx)
	return bestIdx, true
}

// Size reports the number of frames currently evictable.
func (r *lruKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.evictable {
		if v {
			n++
		}
	}
	return n
}
