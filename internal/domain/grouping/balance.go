package grouping

import "github.com/alem-hub/class-grouper/internal/domain/student"

// Group is an ordered set of students. It has no identity beyond its
// position in a Partition.
type Group []student.Record

// Partition is the ordered sequence of groups produced for one roster.
type Partition []Group

// Sizes returns the size of every group, in order.
func (p Partition) Sizes() []int {
	sizes := make([]int, len(p))
	for i, g := range p {
		sizes[i] = len(g)
	}
	return sizes
}

// StudentCount returns the total number of students across all groups.
func (p Partition) StudentCount() int {
	n := 0
	for _, g := range p {
		n += len(g)
	}
	return n
}

// balance flattens clusters in label order, keeping member order within each
// cluster, and cuts the sequence into chunks of groupSize. Only the last
// chunk may be shorter. groupSize must be positive.
func balance(clusters []Group, groupSize int) Partition {
	total := 0
	for _, c := range clusters {
		total += len(c)
	}

	if total == 0 {
		return Partition{}
	}

	chunk := min(groupSize, total)
	balanced := make(Partition, 0, (total-1)/groupSize+1)
	current := make(Group, 0, chunk)
	for _, cluster := range clusters {
		for _, s := range cluster {
			if len(current) == groupSize {
				balanced = append(balanced, current)
				current = make(Group, 0, chunk)
			}
			current = append(current, s)
		}
	}

	if len(current) > 0 {
		balanced = append(balanced, current)
	}

	return balanced
}
