// Package vector holds the distance metrics and vector helpers shared by the
// index, classification and recommendation engines.
package vector

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/kpdex/internal/domain"
)

// Metric is the distance function an index is built with.
type Metric string

const (
	// Cosine distance is 1 - cos(a, b). Vectors are L2-normalized before storage.
	Cosine Metric = "cosine"
	// L2 is the Euclidean distance.
	L2 Metric = "l2"
)

// zeroEpsilon is the squared norm under which a vector is treated as degenerate.
const zeroEpsilon = 1e-12

// ParseMetric validates a metric name. Empty defaults to cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", Cosine:
		return Cosine, nil
	case L2:
		return L2, nil
	default:
		return "", fmt.Errorf("unknown metric %q (want cosine or l2)", s)
	}
}

// IsValid reports whether m is a supported metric.
func (m Metric) IsValid() bool { return m == Cosine || m == L2 }

// Validate checks the dimension and rejects NaN/Inf components.
func Validate(v []float32, dim int) error {
	if len(v) == 0 {
		return domain.Invalidf("empty vector")
	}
	if dim > 0 && len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), dim)
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return domain.Invalidf("vector component %d is not finite", i)
		}
	}
	return nil
}

// Dot returns the inner product. Lengths must match.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// SquaredNorm returns |v|².
func SquaredNorm(v []float32) float64 { return Dot(v, v) }

// IsZero reports whether v is empty or has (numerically) zero length.
func IsZero(v []float32) bool { return len(v) == 0 || SquaredNorm(v) < zeroEpsilon }

// Normalized returns a unit-length copy of v. The second result is false for degenerate vectors.
func Normalized(v []float32) ([]float32, bool) {
	n := SquaredNorm(v)
	if n < zeroEpsilon {
		return nil, false
	}
	inv := 1 / math.Sqrt(n)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out, true
}

// Clone returns a copy of v.
func Clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// SquaredL2 returns the squared Euclidean distance.
func SquaredL2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}

// L2Distance returns the Euclidean distance.
func L2Distance(a, b []float32) float64 { return math.Sqrt(SquaredL2(a, b)) }

// CosineSimilarity returns cos(a, b); 0 when either vector is degenerate.
func CosineSimilarity(a, b []float32) float64 {
	na, nb := SquaredNorm(a), SquaredNorm(b)
	if na < zeroEpsilon || nb < zeroEpsilon {
		return 0
	}
	return Dot(a, b) / math.Sqrt(na*nb)
}

// Prepare converts a raw vector into the stored form for the metric.
// Cosine vectors are normalized and degenerate ones rejected; L2 vectors are copied as is.
func (m Metric) Prepare(v []float32) ([]float32, bool) {
	if m == Cosine {
		return Normalized(v)
	}
	return Clone(v), true
}

// Distance between two prepared vectors. For cosine both must be unit length.
func (m Metric) Distance(a, b []float32) float64 {
	if m == Cosine {
		d := 1 - Dot(a, b)
		if d < 0 {
			return 0
		}
		return d
	}
	return L2Distance(a, b)
}

// Similarity converts a distance produced by m into a score where larger is better.
// Cosine yields the cosine similarity; L2 yields 1/(1+d).
func (m Metric) Similarity(distance float64) float64 {
	if m == Cosine {
		return 1 - distance
	}
	return 1 / (1 + distance)
}

// Geometric returns the Euclidean distance for a metric distance, used for
// triangle-inequality bounds. For unit vectors |a-b| = sqrt(2·(1-cos)).
func (m Metric) Geometric(distance float64) float64 {
	if m == Cosine {
		return math.Sqrt(2 * distance)
	}
	return distance
}

// WeightedMean returns Σ wᵢ·vᵢ / Σ wᵢ. Returns nil when the total weight is not positive.
func WeightedMean(vecs [][]float32, weights []float64) []float32 {
	if len(vecs) == 0 || len(vecs) != len(weights) {
		return nil
	}
	dim := len(vecs[0])
	acc := make([]float64, dim)
	var total float64
	for i, v := range vecs {
		w := weights[i]
		if w <= 0 || len(v) != dim {
			continue
		}
		total += w
		for j, f := range v {
			acc[j] += w * float64(f)
		}
	}
	if total <= 0 {
		return nil
	}
	out := make([]float32, dim)
	for j := range acc {
		out[j] = float32(acc[j] / total)
	}
	return out
}
