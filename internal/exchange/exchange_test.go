package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shufflestore/internal/comm"
	"github.com/dreamware/shufflestore/internal/negotiate"
	"github.com/dreamware/shufflestore/internal/partition"
	"github.com/dreamware/shufflestore/internal/record"
	"github.com/dreamware/shufflestore/internal/storage"
)

func contents(k record.Key) []byte {
	// varying lengths, including empty records for sample 4
	if k.Sample == 4 {
		return []byte{}
	}
	return []byte(fmt.Sprintf("sample-%d-source-%d-%s", k.Sample, k.Source, strings.Repeat("x", k.Sample)))
}

// rankEngine builds a loaded engine for one rank of a local world
func rankEngine(t *testing.T, g comm.Group, part partition.Partitioner, n, sources int) *Engine {
	t.Helper()
	var entries []negotiate.Entry
	for s := 0; s < n; s++ {
		for src := 0; src < sources; src++ {
			k := record.Key{Sample: s, Source: src}
			entries = append(entries, negotiate.Entry{Key: k, Size: int64(len(contents(k)))})
		}
	}
	sizes, err := negotiate.NewSizeTable(entries)
	require.NoError(t, err)

	offsets, err := negotiate.BuildOffsets(part.OwnedKeys(g.Rank(), n, sources), sizes)
	require.NoError(t, err)
	buf, err := storage.Allocate(offsets.Total())
	require.NoError(t, err)
	for _, k := range offsets.Keys() {
		span, _ := offsets.Lookup(k)
		dst, err := buf.Slice(span.Offset, span.Size)
		require.NoError(t, err)
		copy(dst, contents(k))
	}
	return NewEngine(g, sizes, offsets, buf)
}

func runExchange(t *testing.T, world, n, sources int, order []int, asg Assignment) []*Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	part, err := partition.New(world)
	require.NoError(t, err)
	groups := comm.LocalWorld(world)
	engines := make([]*Engine, world)
	for r, g := range groups {
		engines[r] = rankEngine(t, g, part, n, sources)
	}

	results := make([]*Result, world)
	errs := make([]error, world)
	var wg sync.WaitGroup
	for r := range groups {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			plan, err := BuildPlan(r, part, order, asg, sources)
			if err != nil {
				errs[r] = err
				return
			}
			results[r], errs[r] = engines[r].Run(ctx, 0, plan)
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
	return results
}

// TestBuildPlanScenario covers six samples over two ranks with a batch of
// three per rank
func TestBuildPlanScenario(t *testing.T) {
	part, err := partition.New(2)
	require.NoError(t, err)
	order := []int{3, 0, 5, 2, 4, 1}
	asg := Assignment{{0, 1, 2}, {3, 4, 5}}

	p0, err := BuildPlan(0, part, order, asg, 1)
	require.NoError(t, err)
	want0 := &Plan{
		Rank:  0,
		Sends: [][]record.Key{nil, {{Sample: 2}, {Sample: 4}}},
		Recvs: [][]record.Key{nil, {{Sample: 3}, {Sample: 5}}},
		Local: []record.Key{{Sample: 0}},
	}
	if diff := cmp.Diff(want0, p0); diff != "" {
		t.Errorf("rank 0 plan mismatch (-want +got):\n%s", diff)
	}

	p1, err := BuildPlan(1, part, order, asg, 1)
	require.NoError(t, err)
	want1 := &Plan{
		Rank:  1,
		Sends: [][]record.Key{{{Sample: 3}, {Sample: 5}}, nil},
		Recvs: [][]record.Key{{{Sample: 2}, {Sample: 4}}, nil},
		Local: []record.Key{{Sample: 1}},
	}
	if diff := cmp.Diff(want1, p1); diff != "" {
		t.Errorf("rank 1 plan mismatch (-want +got):\n%s", diff)
	}
}

// TestPlanSymmetry checks that what each rank sends to a peer is exactly
// what that peer expects to receive from it, in the same order
func TestPlanSymmetry(t *testing.T) {
	const world, n, sources = 4, 23, 3
	part, err := partition.New(world)
	require.NoError(t, err)

	order := make([]int, n)
	for i := range order {
		order[i] = (i * 7) % n
	}
	require.NoError(t, ValidateOrder(order, n))
	asg := Assignment{{0, 1, 2, 3, 4, 5}, {6, 7, 8, 9, 10, 11}, {12, 13, 14, 15, 16, 17}, {18, 19, 20, 21, 22, 0}}

	plans := make([]*Plan, world)
	for r := range plans {
		plans[r], err = BuildPlan(r, part, order, asg, sources)
		require.NoError(t, err)
	}
	for a := 0; a < world; a++ {
		for b := 0; b < world; b++ {
			if diff := cmp.Diff(plans[a].Sends[b], plans[b].Recvs[a]); diff != "" {
				t.Errorf("sends %d->%d differ from receives (-send +recv):\n%s", a, b, diff)
			}
		}
		assert.Empty(t, plans[a].Sends[a])
		assert.Empty(t, plans[a].Recvs[a])
	}
}

func TestBuildPlanErrors(t *testing.T) {
	part, err := partition.New(2)
	require.NoError(t, err)
	_, err = BuildPlan(2, part, []int{0, 1}, Assignment{{0}, {1}}, 1)
	assert.ErrorIs(t, err, ErrInvalidAssignment)
	_, err = BuildPlan(0, part, []int{0, 1}, Assignment{{0}}, 1)
	assert.ErrorIs(t, err, ErrInvalidAssignment)
}

// TestRunScenario verifies each rank receives the owner's bytes unmodified
func TestRunScenario(t *testing.T) {
	order := []int{3, 0, 5, 2, 4, 1}
	asg := Assignment{{0, 1, 2}, {3, 4, 5}}
	results := runExchange(t, 2, 6, 1, order, asg)

	assert.Equal(t, contents(record.Key{Sample: 3}), results[0].Records[record.Key{Sample: 3}])
	assert.Equal(t, contents(record.Key{Sample: 2}), results[1].Records[record.Key{Sample: 2}])

	assert.Len(t, results[0].Records, 3)
	assert.Len(t, results[1].Records, 3)
	assert.Equal(t, int64(2), results[0].RecvRecords)
	assert.Equal(t, int64(2), results[0].SentRecords)
	assert.Equal(t, int64(1), results[0].LocalRecords)
}

// TestRunRoundTrip checks byte-identical delivery for a larger world with
// several sources per sample and overlapping assignments
func TestRunRoundTrip(t *testing.T) {
	const world, n, sources = 3, 17, 2
	order := make([]int, n)
	for i := range order {
		order[i] = n - 1 - i
	}
	asg := Assignment{{0, 1, 2, 3, 4, 5}, {6, 7, 8, 9, 10, 11}, {12, 13, 14, 15, 16, 0}}
	results := runExchange(t, world, n, sources, order, asg)

	for r, res := range results {
		need := NeedSet(order, asg[r], sources)
		require.Len(t, res.Records, len(need), "rank %d", r)
		for _, k := range need {
			assert.Equal(t, contents(k), res.Records[k], "rank %d record %s", r, k)
		}
	}
}

func TestRunEmptyAssignment(t *testing.T) {
	results := runExchange(t, 2, 4, 1, []int{0, 1, 2, 3}, Assignment{{}, {}})
	for _, res := range results {
		assert.Empty(t, res.Records)
	}
}

// TestRunPeerLost aborts one rank mid-drain and expects an exchange error
func TestRunPeerLost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	part, err := partition.New(2)
	require.NoError(t, err)
	groups := comm.LocalWorld(2)
	engine := rankEngine(t, groups[0], part, 6, 1)

	plan, err := BuildPlan(0, part, []int{3, 0, 5, 2, 4, 1}, Assignment{{0, 1, 2}, {3, 4, 5}}, 1)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		groups[0].Abort(fmt.Errorf("%w: rank 1", comm.ErrPeerLost))
	}()
	_, err = engine.Run(ctx, 7, plan)
	assert.ErrorIs(t, err, ErrExchange)
	assert.ErrorIs(t, err, comm.ErrPeerLost)
	assert.Contains(t, err.Error(), "epoch 7")
}

func TestRunUnownedSend(t *testing.T) {
	part, err := partition.New(2)
	require.NoError(t, err)
	groups := comm.LocalWorld(2)
	engine := rankEngine(t, groups[0], part, 6, 1)

	plan := &Plan{Rank: 0, Sends: [][]record.Key{nil, {{Sample: 1}}}, Recvs: make([][]record.Key, 2)}
	_, err = engine.Run(context.Background(), 0, plan)
	assert.ErrorIs(t, err, ErrExchange)
}

func TestAssignmentCodec(t *testing.T) {
	asg := Assignment{{4, 1, 0}, {}, {2, 3}}
	got, err := DecodeAssignment(asg.Encode())
	require.NoError(t, err)
	assert.Equal(t, asg, got)

	enc := asg.Encode()
	_, err = DecodeAssignment(enc[:len(enc)-2])
	assert.ErrorIs(t, err, ErrInvalidAssignment)
	_, err = DecodeAssignment(append(enc, 0))
	assert.ErrorIs(t, err, ErrInvalidAssignment)
	_, err = DecodeAssignment([]byte{0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrInvalidAssignment)
}

func TestAssignmentValidate(t *testing.T) {
	assert.NoError(t, Assignment{{0, 1}, {2}}.Validate(2, 3))
	assert.ErrorIs(t, Assignment{{0}}.Validate(2, 3), ErrInvalidAssignment)
	assert.ErrorIs(t, Assignment{{0}, {3}}.Validate(2, 3), ErrInvalidAssignment)
	assert.ErrorIs(t, Assignment{{-1}, {}}.Validate(2, 3), ErrInvalidAssignment)
}

func TestValidateOrder(t *testing.T) {
	assert.NoError(t, ValidateOrder([]int{2, 0, 1}, 3))
	assert.ErrorIs(t, ValidateOrder([]int{0, 1}, 3), ErrInvalidAssignment)
	assert.ErrorIs(t, ValidateOrder([]int{0, 0, 1}, 3), ErrInvalidAssignment)
	assert.ErrorIs(t, ValidateOrder([]int{0, 1, 3}, 3), ErrInvalidAssignment)
}

func TestOrderChecksum(t *testing.T) {
	a := OrderChecksum([]int{0, 1, 2, 3})
	assert.Equal(t, a, OrderChecksum([]int{0, 1, 2, 3}))
	assert.NotEqual(t, a, OrderChecksum([]int{0, 3, 2, 1}))
	assert.NotEqual(t, a, OrderChecksum([]int{0, 1, 2}))
}
