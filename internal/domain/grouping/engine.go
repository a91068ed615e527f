package grouping

import (
	"fmt"

	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine groups students with a configurable Clusterer.
type Engine struct {
	clusterer Clusterer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClusterer replaces the default k-means clusterer.
func WithClusterer(c Clusterer) Option {
	return func(e *Engine) {
		if c != nil {
			e.clusterer = c
		}
	}
}

// NewEngine creates an Engine. Without options it clusters with NewKMeans().
func NewEngine(opts ...Option) *Engine {
	e := &Engine{clusterer: NewKMeans()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome is a Partition together with clustering diagnostics.
type Outcome struct {
	Partition Partition

	// NumGroups is ceil(N / groupSize); it equals len(Partition).
	NumGroups int

	// ClusterSizes holds the member count of every cluster before balancing.
	ClusterSizes []int

	// Iterations is the number of Lloyd iterations the clusterer ran.
	Iterations int

	// Converged reports whether the clusterer stopped before its limit.
	Converged bool

	// Degraded is set when the clusterer failed and all students were put in
	// cluster 0. The Partition is still valid.
	Degraded bool

	// DegradeReason describes the clusterer failure when Degraded is set.
	DegradeReason string
}

// Group partitions students into groups of groupSize.
// It fails with shared.ErrInvalidArgument if groupSize <= 0 or students is empty.
func (e *Engine) Group(students []student.Record, groupSize int) (Partition, error) {
	out, err := e.Run(students, groupSize)
	if err != nil {
		return nil, err
	}
	return out.Partition, nil
}

// Run is Group with diagnostics.
func (e *Engine) Run(students []student.Record, groupSize int) (*Outcome, error) {
	if groupSize <= 0 {
		return nil, shared.ErrInvalidGroupSize
	}
	if len(students) == 0 {
		return nil, shared.ErrEmptyRoster
	}

	numGroups := (len(students)-1)/groupSize + 1
	out := &Outcome{NumGroups: numGroups}

	labels := e.cluster(ExtractAll(students), numGroups, out)

	clusters := make([]Group, numGroups)
	for i, label := range labels {
		clusters[label] = append(clusters[label], students[i])
	}

	out.ClusterSizes = make([]int, numGroups)
	for i, c := range clusters {
		out.ClusterSizes[i] = len(c)
	}

	out.Partition = balance(clusters, groupSize)
	return out, nil
}

// cluster runs the clusterer and validates its labelling. Any failure,
// including a panic, degrades to a single populated cluster.
func (e *Engine) cluster(vectors []FeatureVector, k int, out *Outcome) (labels []int) {
	defer func() {
		if r := recover(); r != nil {
			labels = e.degrade(len(vectors), out, fmt.Sprintf("clusterer panic: %v", r))
		}
	}()

	res, err := e.clusterer.Cluster(vectors, k)
	if err != nil {
		return e.degrade(len(vectors), out, err.Error())
	}
	if len(res.Labels) != len(vectors) {
		return e.degrade(len(vectors), out,
			fmt.Sprintf("clusterer returned %d labels for %d students", len(res.Labels), len(vectors)))
	}
	for i, l := range res.Labels {
		if l < 0 || l >= k {
			return e.degrade(len(vectors), out,
				fmt.Sprintf("clusterer returned label %d for student %d, want [0,%d)", l, i, k))
		}
	}

	out.Iterations = res.Iterations
	out.Converged = res.Converged
	return res.Labels
}

func (e *Engine) degrade(n int, out *Outcome, reason string) []int {
	out.Degraded = true
	out.DegradeReason = reason
	out.Iterations = 0
	out.Converged = false
	return make([]int, n)
}

// defaultEngine backs GroupStudents.
var defaultEngine = NewEngine()

// GroupStudents partitions students into groups of groupSize using k-means
// with a random seed.
func GroupStudents(students []student.Record, groupSize int) (Partition, error) {
	return defaultEngine.Group(students, groupSize)
}
