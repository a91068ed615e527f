package grouping

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Clusterer partitions feature vectors into k labelled clusters.
// Implementations must return one label in [0, k) per input vector.
// Some clusters may be empty.
type Clusterer interface {
	Cluster(points []FeatureVector, k int) (ClusterResult, error)
}

// ClusterResult is the labelling produced by a Clusterer.
type ClusterResult struct {
	Labels     []int
	Iterations int
	Converged  bool
}

// Default k-means parameters.
const (
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-6
)

var (
	errNoPoints       = errors.New("kmeans: no points")
	errInvalidK       = errors.New("kmeans: k must be positive")
	errMixedDimension = errors.New("kmeans: points have different dimensions")
)

// KMeans is Lloyd's algorithm with k-means++ seeding.
//
// A zero Seed draws a fresh seed for every call. Each call owns its random
// source, so a KMeans value is safe for concurrent use.
type KMeans struct {
	MaxIterations int
	Tolerance     float64
	Seed          uint64
}

// NewKMeans returns a KMeans with default iteration limit and tolerance.
func NewKMeans() *KMeans {
	return &KMeans{
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
	}
}

// Cluster implements Clusterer.
func (km *KMeans) Cluster(points []FeatureVector, k int) (ClusterResult, error) {
	if len(points) == 0 {
		return ClusterResult{}, errNoPoints
	}
	if k <= 0 {
		return ClusterResult{}, errInvalidK
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return ClusterResult{}, fmt.Errorf("%w: point %d has %d values, want %d", errMixedDimension, i, len(p), dim)
		}
	}

	maxIter := km.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	tol := km.Tolerance
	if tol < 0 {
		tol = DefaultTolerance
	}

	seed := km.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	centroids := seedPlusPlus(points, k, rng)

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	result := ClusterResult{Labels: labels}
	for iter := 1; iter <= maxIter; iter++ {
		result.Iterations = iter
		changed := assign(points, centroids, labels)
		shift := recenter(points, labels, centroids)
		if !changed || shift <= tol {
			result.Converged = true
			break
		}
	}

	return result, nil
}

// seedPlusPlus picks k initial centroids. The first is uniform; every next
// one is drawn with probability proportional to its squared distance to the
// nearest centroid chosen so far. When all distances are zero there are
// fewer distinct points than clusters and an existing point is reused.
func seedPlusPlus(points []FeatureVector, k int, rng *rand.Rand) []FeatureVector {
	centroids := make([]FeatureVector, 0, k)
	centroids = append(centroids, clonePoint(points[rng.IntN(len(points))]))

	dist := make([]float64, len(points))
	for i, p := range points {
		dist[i] = sqDist(p, centroids[0])
	}

	for len(centroids) < k {
		total := floats.Sum(dist)

		next := rng.IntN(len(points))
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range dist {
				if d == 0 {
					continue
				}
				// rounding can leave acc just short of target; keep the last candidate
				next = i
				acc += d
				if acc >= target {
					break
				}
			}
		}

		c := clonePoint(points[next])
		centroids = append(centroids, c)
		for i, p := range points {
			if d := sqDist(p, c); d < dist[i] {
				dist[i] = d
			}
		}
	}

	return centroids
}

// assign moves every point to its nearest centroid, ties going to the lowest
// label. It reports whether any label changed.
func assign(points, centroids []FeatureVector, labels []int) bool {
	changed := false
	for i, p := range points {
		best, bestDist := 0, math.Inf(1)
		for c, centroid := range centroids {
			if d := sqDist(p, centroid); d < bestDist {
				best, bestDist = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// recenter moves each centroid to the mean of its members and returns the
// largest centroid movement. Empty clusters keep their centroid.
func recenter(points []FeatureVector, labels []int, centroids []FeatureVector) float64 {
	dim := len(points[0])
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		floats.Add(sums[labels[i]], p)
		counts[labels[i]]++
	}

	maxShift := 0.0
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		floats.Scale(1/float64(counts[c]), sums[c])
		if shift := floats.Distance(sums[c], centroids[c], 2); shift > maxShift {
			maxShift = shift
		}
		centroids[c] = sums[c]
	}
	return maxShift
}

func sqDist(a, b FeatureVector) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clonePoint(p FeatureVector) FeatureVector {
	c := make(FeatureVector, len(p))
	copy(c, p)
	return c
}
