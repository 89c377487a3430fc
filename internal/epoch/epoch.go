// Package epoch provides the shuffle and mini-batch assignment used to drive
// the store each epoch. Both are deterministic functions of their inputs, so
// every rank computes identical results without communication. The store
// still broadcasts the root's assignment with a checksum of its order, and
// fails the epoch on every rank if any rank shuffled differently.
package epoch

import (
	"fmt"
	"math/rand"

	"github.com/dreamware/shufflestore/internal/exchange"
)

// Shuffler produces a seeded permutation of [0, N) per epoch.
type Shuffler struct {
	N    int
	Seed int64
}

// Order returns the shuffled sample order for epoch. The same (Seed, epoch)
// always yields the same order.
func (s Shuffler) Order(epoch int) []int {
	rng := rand.New(rand.NewSource(s.Seed ^ int64(epoch)*0x5851f42d4c957f2d))
	return rng.Perm(s.N)
}

// Fixed returns the same order every epoch.
type Fixed []int

// Order returns a copy of f.
func (f Fixed) Order(int) []int {
	out := make([]int, len(f))
	copy(out, f)
	return out
}

// Identity returns the unshuffled order [0, n).
func Identity(n int) Fixed {
	f := make(Fixed, n)
	for i := range f {
		f[i] = i
	}
	return f
}

// RoundRobin deals consecutive mini-batches of BatchSize positions to ranks
// in turn: batch b covers positions [b*BatchSize, (b+1)*BatchSize) and goes
// to rank b mod World. A trailing partial batch is kept.
type RoundRobin struct {
	BatchSize int
	World     int
}

// Validate checks the batch size and world are positive.
func (rr RoundRobin) Validate() error {
	if rr.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", rr.BatchSize)
	}
	if rr.World <= 0 {
		return fmt.Errorf("world size must be positive, got %d", rr.World)
	}
	return nil
}

// Assign returns the positions of order each rank trains on this epoch.
func (rr RoundRobin) Assign(_ int, order []int) exchange.Assignment {
	asg := make(exchange.Assignment, rr.World)
	for r := range asg {
		asg[r] = []int{}
	}
	if rr.BatchSize <= 0 || rr.World <= 0 {
		return asg
	}
	for pos := range order {
		r := (pos / rr.BatchSize) % rr.World
		asg[r] = append(asg[r], pos)
	}
	return asg
}

// Batches splits positions into consecutive groups of at most size.
func Batches(positions []int, size int) [][]int {
	if size <= 0 {
		return nil
	}
	var out [][]int
	for len(positions) > 0 {
		n := size
		if n > len(positions) {
			n = len(positions)
		}
		out = append(out, positions[:n:n])
		positions = positions[n:]
	}
	return out
}
