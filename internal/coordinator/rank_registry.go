package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shufflestore/internal/cluster"
)

var (
	// ErrGroupFull is returned when a new node registers after every rank
	// has been assigned.
	ErrGroupFull = errors.New("group is full")

	// ErrUnknownNode is returned for operations on a node that never
	// registered.
	ErrUnknownNode = errors.New("unknown node")
)

// RankRegistry assigns ranks to nodes as they register and reports when the
// group is complete.
//
// Ranks are handed out in registration order, 0 through worldSize-1. A node
// re-registering under the same ID keeps its rank and may change address,
// so a node that restarts its HTTP server before the run starts is not
// counted twice. Once full the membership is fixed for the run:
//
//	register(n0) -> rank 0
//	register(n1) -> rank 1      View().Ready == (worldSize == 2)
//	register(n0) -> rank 0      (address refreshed)
//	register(n2) -> ErrGroupFull
//
// Each registry carries a RunID that nodes echo in logs, so output from
// different runs against the same coordinator can be told apart.
type RankRegistry struct {
	mu        sync.RWMutex
	runID     string
	members   []cluster.Member // indexed by rank
	failed    []int            // ranks declared failed, ascending
	worldSize int
}

// NewRankRegistry creates an empty registry for worldSize ranks.
func NewRankRegistry(worldSize int) (*RankRegistry, error) {
	if worldSize <= 0 {
		return nil, fmt.Errorf("world size must be positive, got %d", worldSize)
	}
	return &RankRegistry{
		runID:     uuid.NewString(),
		worldSize: worldSize,
		members:   make([]cluster.Member, 0, worldSize),
	}, nil
}

// RunID returns the identifier of this run.
func (r *RankRegistry) RunID() string { return r.runID }

// WorldSize returns the number of ranks the group needs.
func (r *RankRegistry) WorldSize() int { return r.worldSize }

// Register assigns node a rank, or returns its existing one.
func (r *RankRegistry) Register(node cluster.NodeInfo) (cluster.Member, error) {
	if node.ID == "" {
		return cluster.Member{}, errors.New("node id is required")
	}
	if node.Addr == "" {
		return cluster.Member{}, fmt.Errorf("node %s has no address", node.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := slices.IndexFunc(r.members, func(m cluster.Member) bool { return m.ID == node.ID }); i >= 0 {
		r.members[i].Addr = node.Addr
		return r.members[i], nil
	}
	if len(r.members) == r.worldSize {
		return cluster.Member{}, fmt.Errorf("%w: %d of %d ranks assigned", ErrGroupFull, len(r.members), r.worldSize)
	}
	m := cluster.Member{ID: node.ID, Addr: node.Addr, Rank: len(r.members)}
	r.members = append(r.members, m)
	return m, nil
}

// Members returns a copy of the registered members in rank order.
func (r *RankRegistry) Members() []cluster.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.members)
}

// Lookup returns the member registered under nodeID.
func (r *RankRegistry) Lookup(nodeID string) (cluster.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := slices.IndexFunc(r.members, func(m cluster.Member) bool { return m.ID == nodeID })
	if i < 0 {
		return cluster.Member{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	return r.members[i], nil
}

// MarkFailed records that nodeID's rank was lost. It reports whether this
// was the first report for that rank.
func (r *RankRegistry) MarkFailed(nodeID string) (cluster.Member, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.members, func(m cluster.Member) bool { return m.ID == nodeID })
	if i < 0 {
		return cluster.Member{}, false, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	m := r.members[i]
	pos, found := slices.BinarySearch(r.failed, m.Rank)
	if found {
		return m, false, nil
	}
	r.failed = slices.Insert(r.failed, pos, m.Rank)
	return m, true, nil
}

// View returns the group as nodes see it through GET /group.
func (r *RankRegistry) View() cluster.GroupView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cluster.GroupView{
		RunID:     r.runID,
		Members:   slices.Clone(r.members),
		Failed:    slices.Clone(r.failed),
		WorldSize: r.worldSize,
		Ready:     len(r.members) == r.worldSize,
	}
}
