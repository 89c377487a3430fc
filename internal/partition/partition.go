package partition

import (
	"fmt"

	"github.com/dreamware/shufflestore/internal/record"
)

// Partitioner maps global sample indices to owning ranks.
//
// Ownership is a pure function of the sample index and the world size:
//
//	owner(i) = i mod world
//
// Every rank can evaluate it without communication, and it is the same
// distribution used to size each rank's local buffer, so every sample is
// owned by exactly one rank for the lifetime of the dataset.
type Partitioner struct {
	world int // Number of ranks in the group
}

// New creates a partitioner for a group of world ranks.
// Returns an error if world is not positive.
func New(world int) (Partitioner, error) {
	if world <= 0 {
		return Partitioner{}, fmt.Errorf("invalid world size %d, must be positive", world)
	}
	return Partitioner{world: world}, nil
}

// World returns the number of ranks the partitioner distributes over.
func (p Partitioner) World() int { return p.world }

// Owner returns the rank that owns sample.
func (p Partitioner) Owner(sample int) int {
	return sample % p.world
}

// Owns reports whether rank owns sample.
func (p Partitioner) Owns(rank, sample int) bool {
	return p.Owner(sample) == rank
}

// Owned returns the samples in [0, n) owned by rank, ascending.
func (p Partitioner) Owned(rank, n int) []int {
	if rank < 0 || rank >= p.world || n <= 0 {
		return nil
	}
	out := make([]int, 0, n/p.world+1)
	for i := rank; i < n; i += p.world {
		out = append(out, i)
	}
	return out
}

// OwnedKeys returns every record key owned by rank, ascending.
func (p Partitioner) OwnedKeys(rank, n, sources int) []record.Key {
	return record.Expand(p.Owned(rank, n), sources)
}

// Counts returns how many of the samples in [0, n) each rank owns.
func (p Partitioner) Counts(n int) []int {
	counts := make([]int, p.world)
	for r := range counts {
		if r < n {
			counts[r] = (n-r-1)/p.world + 1
		}
	}
	return counts
}
