// Package grouping assigns a roster of students into fixed-size groups that
// are internally similar with respect to their survey answers.
//
// The engine runs two stages:
//
//   - Feature extraction: each student.Record becomes a 7-value FeatureVector
//     (age, experience years and five skill flags). Unparsable values become 0.
//   - Cluster-then-balance: the vectors are clustered into ceil(N/groupSize)
//     clusters by an injected Clusterer (k-means with k-means++ seeding by
//     default), then the clusters are flattened in label order and re-chunked
//     so every group except possibly the last has exactly groupSize members.
//
// Re-chunking keeps neighbours in the flattened order together, but a
// cluster boundary falling inside a chunk mixes two clusters in one group.
// Uniform group size wins over cluster purity.
//
// The engine is a pure computation. An Engine holds only immutable
// configuration and can be shared by concurrent callers.
//
//	partition, err := grouping.GroupStudents(records, 6)
//	if errors.Is(err, shared.ErrInvalidArgument) {
//	    // non-positive group size or empty roster
//	}
package grouping
