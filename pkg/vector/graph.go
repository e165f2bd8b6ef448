package vector

import (
	"math"
	"math/rand"
	"sort"

	"github.com/nainya/corestore/pkg/record"
)

// Node is one vertex of the hierarchical proximity graph (spec §3
// "Graph node (ANN)"): present on every level from 0 up to TopLevel
// inclusive, with a bounded, distance-ordered neighbor list per level.
type Node struct {
	Key       []byte
	TopLevel  int
	Neighbors [][][]byte // Neighbors[level] = ordered neighbor keys
}

type candidate struct {
	key  string
	dist float32
}

// Graph is the in-memory HNSW-style index; Store persists the nodes
// an Insert touches to the record store right after it. Per spec §5
// "one writer thread for the graph, concurrent readers": Graph has no
// lock of its own; Store's mu serializes Insert, and Search only
// needs a read lock since it never mutates graph state.
type Graph struct {
	rs             *record.Store
	metric         Metric
	m              int
	efConstruction int
	efSearch       int

	nodes      map[string]*Node
	vectors    map[string][]float32
	entryPoint string
	topLevel   int
}

// NewGraph constructs an empty graph bound to rs for persistence.
func NewGraph(rs *record.Store, metric Metric, m, efConstruction, efSearch int) *Graph {
	return &Graph{
		rs: rs, metric: metric, m: m, efConstruction: efConstruction, efSearch: efSearch,
		nodes:   make(map[string]*Node),
		vectors: make(map[string][]float32),
	}
}

func (g *Graph) maxConnections(level int) int {
	if level == 0 {
		return 2 * g.m
	}
	return g.m
}

// randomLevel draws a level from a geometric distribution with
// parameter 1/ln(M), per spec §4.5 "roughly one in M nodes appears on
// each higher level".
func (g *Graph) randomLevel() int {
	mL := 1 / math.Log(float64(g.m))
	u := rand.Float64()
	for u == 0 {
		u = rand.Float64()
	}
	return int(math.Floor(-math.Log(u) * mL))
}

func (g *Graph) dist(query []float32, key string) float32 {
	return Distance(g.metric, query, g.vectors[key])
}

// Insert adds key/vector into the graph, wiring symmetric edges per
// spec §4.5's construction algorithm. Caller holds Store's write path
// serialized; Insert itself does not lock (the enclosing Store does).
func (g *Graph) Insert(key []byte, vec []float32) ([]*Node, error) {
	g.vectors[string(key)] = vec

	lvl := g.randomLevel()
	node := &Node{Key: append([]byte(nil), key...), TopLevel: lvl, Neighbors: make([][][]byte, lvl+1)}
	g.nodes[string(key)] = node

	if g.entryPoint == "" {
		g.entryPoint = string(key)
		g.topLevel = lvl
		return []*Node{node}, nil
	}

	cur := g.entryPoint
	for level := g.topLevel; level > lvl; level-- {
		best := g.searchLayer(vec, []string{cur}, level, 1)
		if len(best) > 0 {
			cur = best[0].key
		}
	}

	touched := map[string]*Node{string(key): node}
	top := lvl
	if g.topLevel < top {
		top = g.topLevel
	}
	for level := top; level >= 0; level-- {
		candidates := g.searchLayer(vec, []string{cur}, level, g.efConstruction)
		selected := g.selectNeighbors(vec, candidates, g.maxConnections(level))
		neighborKeys := make([][]byte, len(selected))
		for i, s := range selected {
			neighborKeys[i] = []byte(s.key)
		}
		node.Neighbors[level] = neighborKeys

		for _, s := range selected {
			nb := g.nodes[s.key]
			if nb == nil || level > nb.TopLevel {
				continue
			}
			nb.Neighbors[level] = appendUnique(nb.Neighbors[level], key)
			if len(nb.Neighbors[level]) > g.maxConnections(level) {
				nb.Neighbors[level] = g.pruneNeighbors(nb, level)
			}
			touched[s.key] = nb
		}
		if len(candidates) > 0 {
			cur = candidates[0].key
		}
	}

	if lvl > g.topLevel {
		g.topLevel = lvl
		g.entryPoint = string(key)
	}

	out := make([]*Node, 0, len(touched))
	for _, n := range touched {
		out = append(out, n)
	}
	return out, nil
}

// pruneNeighbors reapplies the selection heuristic to an overfull
// neighbor list, returning a trimmed list of at most maxConnections(level).
func (g *Graph) pruneNeighbors(n *Node, level int) [][]byte {
	vec := g.vectors[string(n.Key)]
	cands := make([]candidate, 0, len(n.Neighbors[level]))
	for _, nb := range n.Neighbors[level] {
		cands = append(cands, candidate{key: string(nb), dist: g.dist(vec, string(nb))})
	}
	sort.Slice(cands, func(i, j int) bool { return less(cands[i], cands[j]) })
	selected := g.selectNeighbors(vec, cands, g.maxConnections(level))
	out := make([][]byte, len(selected))
	for i, s := range selected {
		out[i] = []byte(s.key)
	}
	return out
}

// selectNeighbors applies the "not dominated by a closer already
// selected neighbor" heuristic of spec §4.5, then backfills with the
// closest leftover candidates if the heuristic alone under-fills m.
func (g *Graph) selectNeighbors(query []float32, candidates []candidate, m int) []candidate {
	sorted := append([]candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	var result []candidate
	for _, c := range sorted {
		if len(result) >= m {
			break
		}
		good := true
		for _, r := range result {
			if Distance(g.metric, g.vectors[c.key], g.vectors[r.key]) < c.dist {
				good = false
				break
			}
		}
		if good {
			result = append(result, c)
		}
	}
	if len(result) < m {
		have := map[string]bool{}
		for _, r := range result {
			have[r.key] = true
		}
		for _, c := range sorted {
			if len(result) >= m {
				break
			}
			if have[c.key] {
				continue
			}
			result = append(result, c)
		}
	}
	return result
}

// searchLayer is the bounded best-first search of spec §4.5 "Search":
// explores outward from entries, maintaining up to ef candidates
// ordered by distance to query, until the frontier can no longer
// improve on the worst kept candidate.
func (g *Graph) searchLayer(query []float32, entries []string, level, ef int) []candidate {
	visited := make(map[string]bool, ef*4)
	var frontier []candidate
	var best []candidate

	for _, e := range entries {
		if g.nodes[e] == nil {
			continue
		}
		d := g.dist(query, e)
		c := candidate{e, d}
		visited[e] = true
		frontier = insertSorted(frontier, c)
		best = insertBest(best, c, ef)
	}

	for len(frontier) > 0 {
		c := frontier[0]
		frontier = frontier[1:]
		if len(best) >= ef && c.dist > best[len(best)-1].dist {
			break
		}
		node := g.nodes[c.key]
		if node == nil || level > node.TopLevel || level >= len(node.Neighbors) {
			continue
		}
		for _, nbKey := range node.Neighbors[level] {
			nb := string(nbKey)
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := g.dist(query, nb)
			if len(best) < ef || d < best[len(best)-1].dist {
				frontier = insertSorted(frontier, candidate{nb, d})
				best = insertBest(best, candidate{nb, d}, ef)
			}
		}
	}
	return best
}

// Search returns the k nearest neighbors to query, per spec §4.5's
// top-down greedy descent followed by a layer-0 bounded search.
func (g *Graph) Search(query []float32, k, efSearch int) ([]candidate, error) {
	if g.entryPoint == "" {
		return nil, nil
	}
	if efSearch < k {
		efSearch = k
	}
	cur := g.entryPoint
	for level := g.topLevel; level > 0; level-- {
		best := g.searchLayer(query, []string{cur}, level, 1)
		if len(best) > 0 {
			cur = best[0].key
		}
	}
	best := g.searchLayer(query, []string{cur}, 0, efSearch)
	sort.Slice(best, func(i, j int) bool { return less(best[i], best[j]) })
	if len(best) > k {
		best = best[:k]
	}
	return best, nil
}

func less(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.key < b.key // tie-break by key byte order, per spec §4.5
}

func insertSorted(list []candidate, c candidate) []candidate {
	i := sort.Search(len(list), func(i int) bool { return less(c, list[i]) })
	list = append(list, candidate{})
	copy(list[i+1:], list[i:])
	list[i] = c
	return list
}

func insertBest(best []candidate, c candidate, ef int) []candidate {
	best = insertSorted(best, c)
	if len(best) > ef {
		best = best[:ef]
	}
	return best
}

func appendUnique(list [][]byte, key []byte) [][]byte {
	for _, k := range list {
		if string(k) == string(key) {
			return list
		}
	}
	return append(list, append([]byte(nil), key...))
}
