// Package vector implements the Vector Store and hierarchical
// proximity graph (HNSW-style ANN index) of spec §4.5. No reference
// implementation of this subsystem exists anywhere in the retrieved
// example pack; the graph construction and search algorithms below are
// built directly from the spec's algorithmic description, expressed in
// the teacher's idiom (small closed-set types, explicit error returns,
// no generics where a concrete type reads more plainly).
package vector

import "math"

// Metric is the vector_metric configuration option (spec §6).
type Metric int

const (
	Cosine Metric = iota
	Euclidean
	DotProduct
	Manhattan
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	case DotProduct:
		return "dot_product"
	case Manhattan:
		return "manhattan"
	default:
		return "unknown"
	}
}

// Normalize scales v to unit length in place, as spec §4.5 requires
// "vectors are stored normalized" for the cosine metric. A zero vector
// is left unchanged.
func Normalize(v []float32) {
	var sumSq float32
	for _, c := range v {
		sumSq += c * c
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	for i := range v {
		v[i] /= norm
	}
}

// Distance computes the configured metric's distance between a and b.
// Both vectors must already have the configured dimension; callers
// validate that before calling.
func Distance(m Metric, a, b []float32) float32 {
	switch m {
	case Cosine:
		// Vectors are stored (and queried) normalized, so cosine
		// distance reduces to 1 - dot(a, b).
		return 1 - dot(a, b)
	case Euclidean:
		var sum float32
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return float32(math.Sqrt(float64(sum)))
	case DotProduct:
		return -dot(a, b)
	case Manhattan:
		var sum float32
		for i := range a {
			d := a[i] - b[i]
			if d < 0 {
				d = -d
			}
			sum += d
		}
		return sum
	default:
		return float32(math.Inf(1))
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
