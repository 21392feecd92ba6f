package index

import (
	"context"
	"math/rand/v2"

	"github.com/kailas-cloud/kpdex/internal/domain"
)

const convergeEpsilon = 1e-5

// trainCentroids runs k-means with k-means++ seeding. The RNG is seeded so
// the same vectors and seed always yield the same centroids.
func trainCentroids(ctx context.Context, vecs [][]float32, k int, seed uint64) ([][]float32, error) {
	if len(vecs) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(vecs) {
		k = len(vecs)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centroids := seedPlusPlus(vecs, k, rng)
	dim := len(vecs[0])

	assignTo := make([]int, len(vecs))
	for iter := 0; iter < kmeansMaxIter; iter++ {
		if err := domain.FromContext(ctx); err != nil {
			return nil, err
		}
		for i, v := range vecs {
			assignTo[i] = closest(v, centroids)
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i, v := range vecs {
			c := assignTo[i]
			if sums[c] == nil {
				sums[c] = make([]float64, dim)
			}
			for j, x := range v {
				sums[c][j] += float64(x)
			}
			counts[c]++
		}

		converged := true
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			next := make([]float32, dim)
			for j := range next {
				next[j] = float32(sums[c][j] / float64(counts[c]))
			}
			if euclid(centroids[c], next) > convergeEpsilon {
				converged = false
			}
			centroids[c] = next
		}
		if converged {
			break
		}
	}
	return centroids, nil
}

func closest(v []float32, centroids [][]float32) int {
	best, bestD := 0, -1.0
	for i, c := range centroids {
		d := euclid(v, c)
		if bestD < 0 || d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// seedPlusPlus picks initial centroids with probability proportional to the
// squared distance from the nearest already chosen centroid.
func seedPlusPlus(vecs [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, cloneVec(vecs[rng.IntN(len(vecs))]))

	distSq := make([]float64, len(vecs))
	for len(centroids) < k {
		var sum float64
		for i, v := range vecs {
			d := euclid(v, centroids[closest(v, centroids)])
			distSq[i] = d * d
			sum += distSq[i]
		}
		if sum == 0 {
			// all remaining points coincide with chosen centroids
			break
		}
		r := rng.Float64() * sum
		pick := len(vecs) - 1
		var cum float64
		for i, d := range distSq {
			cum += d
			if cum >= r && d > 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, cloneVec(vecs[pick]))
	}
	return centroids
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
