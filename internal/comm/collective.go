package comm

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Collectives must be called by every rank of the group, in the same order,
// with the same root. They block until this rank's part is complete.

// GatherInt64 collects one int64 from every rank at root. The root receives
// the values indexed by rank; other ranks receive nil.
func GatherInt64(ctx context.Context, g Group, root int, v int64) ([]int64, error) {
	if err := checkPeer(g, root); err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	if g.Rank() != root {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		if err := g.Isend(ctx, root, TagGather, buf[:]).Wait(ctx); err != nil {
			return nil, fmt.Errorf("gather: %w", err)
		}
		return nil, nil
	}

	bufs := make([][]byte, g.Size())
	reqs := make([]*Request, 0, g.Size()-1)
	for r := 0; r < g.Size(); r++ {
		if r == root {
			continue
		}
		bufs[r] = make([]byte, 8)
		reqs = append(reqs, g.Irecv(ctx, r, TagGather, bufs[r]))
	}
	if err := WaitAll(ctx, reqs); err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}

	out := make([]int64, g.Size())
	for r, b := range bufs {
		if r == root {
			out[r] = v
			continue
		}
		out[r] = int64(binary.BigEndian.Uint64(b))
	}
	return out, nil
}

// Broadcast sends data from root to every rank and returns it. Non-root
// ranks pass nil. The payload is preceded by its length so receivers can
// size their buffers.
func Broadcast(ctx context.Context, g Group, root int, data []byte) ([]byte, error) {
	if err := checkPeer(g, root); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	if g.Rank() == root {
		var hdr [8]byte
		binary.BigEndian.PutUint64(hdr[:], uint64(len(data)))
		reqs := make([]*Request, 0, 2*(g.Size()-1))
		for r := 0; r < g.Size(); r++ {
			if r == root {
				continue
			}
			reqs = append(reqs,
				g.Isend(ctx, r, TagBroadcast, hdr[:]),
				g.Isend(ctx, r, TagBroadcast, data),
			)
		}
		if err := WaitAll(ctx, reqs); err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		return data, nil
	}

	var hdr [8]byte
	if err := g.Irecv(ctx, root, TagBroadcast, hdr[:]).Wait(ctx); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	out := make([]byte, binary.BigEndian.Uint64(hdr[:]))
	if err := g.Irecv(ctx, root, TagBroadcast, out).Wait(ctx); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	return out, nil
}

// Displacements returns the prefix sums of counts: the offset of each
// rank's contribution in the gathered result.
func Displacements(counts []int) []int {
	disp := make([]int, len(counts))
	for r := 1; r < len(counts); r++ {
		disp[r] = disp[r-1] + counts[r-1]
	}
	return disp
}

// AllGatherv concatenates every rank's local slice, in rank order, on every
// rank. counts[r] is the byte length rank r contributes and must be known
// to all ranks beforehand.
func AllGatherv(ctx context.Context, g Group, local []byte, counts []int) ([]byte, error) {
	if len(counts) != g.Size() {
		return nil, fmt.Errorf("allgatherv: %d counts for %d ranks", len(counts), g.Size())
	}
	if len(local) != counts[g.Rank()] {
		return nil, fmt.Errorf("allgatherv: rank %d contributes %d bytes, counts say %d",
			g.Rank(), len(local), counts[g.Rank()])
	}

	disp := Displacements(counts)
	total := disp[len(disp)-1] + counts[len(counts)-1]
	out := make([]byte, total)
	copy(out[disp[g.Rank()]:], local)

	reqs := make([]*Request, 0, 2*(g.Size()-1))
	for r := 0; r < g.Size(); r++ {
		if r == g.Rank() {
			continue
		}
		reqs = append(reqs,
			g.Isend(ctx, r, TagAllGather, local),
			g.Irecv(ctx, r, TagAllGather, out[disp[r]:disp[r]+counts[r]]),
		)
	}
	if err := WaitAll(ctx, reqs); err != nil {
		return nil, fmt.Errorf("allgatherv: %w", err)
	}
	return out, nil
}

// Barrier returns once every rank has entered it. It always routes through
// rank 0; no payload depends on the root, so callers never choose one.
func Barrier(ctx context.Context, g Group) error {
	if _, err := GatherInt64(ctx, g, 0, 1); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	if _, err := Broadcast(ctx, g, 0, nil); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	return nil
}
