package exchange

import (
	"fmt"

	"github.com/dreamware/shufflestore/internal/partition"
	"github.com/dreamware/shufflestore/internal/record"
)

// Plan lists the records one rank moves in one epoch. Every list is in
// ascending key order; Sends and Recvs are indexed by peer rank and the
// entry for the rank itself is always empty.
type Plan struct {
	Rank  int
	Sends [][]record.Key // owned keys each peer needs
	Recvs [][]record.Key // needed keys each owner sends
	Local []record.Key   // needed keys this rank owns
}

// NeedSet returns the keys of every sample at positions in order, ascending
// and without duplicates.
func NeedSet(order, positions []int, sources int) []record.Key {
	samples := make([]int, len(positions))
	for i, p := range positions {
		samples[i] = order[p]
	}
	return record.Expand(samples, sources)
}

// BuildPlan computes rank's plan for the epoch described by order and asg.
// Positions in asg must already be validated against order.
func BuildPlan(rank int, part partition.Partitioner, order []int, asg Assignment, sources int) (*Plan, error) {
	world := part.World()
	if rank < 0 || rank >= world {
		return nil, fmt.Errorf("%w: rank %d not in [0, %d)", ErrInvalidAssignment, rank, world)
	}
	if len(asg) != world {
		return nil, fmt.Errorf("%w: %d ranks assigned, world is %d", ErrInvalidAssignment, len(asg), world)
	}
	p := &Plan{
		Rank:  rank,
		Sends: make([][]record.Key, world),
		Recvs: make([][]record.Key, world),
	}

	for _, k := range NeedSet(order, asg[rank], sources) {
		owner := part.Owner(k.Sample)
		if owner == rank {
			p.Local = append(p.Local, k)
			continue
		}
		p.Recvs[owner] = append(p.Recvs[owner], k)
	}

	for peer := 0; peer < world; peer++ {
		if peer == rank {
			continue
		}
		for _, k := range NeedSet(order, asg[peer], sources) {
			if part.Owns(rank, k.Sample) {
				p.Sends[peer] = append(p.Sends[peer], k)
			}
		}
	}
	return p, nil
}

// Counts returns the number of records sent, received and copied locally.
func (p *Plan) Counts() (sends, recvs, local int) {
	for _, ks := range p.Sends {
		sends += len(ks)
	}
	for _, ks := range p.Recvs {
		recvs += len(ks)
	}
	return sends, recvs, len(p.Local)
}
