package datastore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/comm"
	"github.com/dreamware/shufflestore/internal/exchange"
	"github.com/dreamware/shufflestore/internal/negotiate"
	"github.com/dreamware/shufflestore/internal/partition"
	"github.com/dreamware/shufflestore/internal/record"
	"github.com/dreamware/shufflestore/internal/source"
	"github.com/dreamware/shufflestore/internal/storage"
)

var logger = logrus.WithField("module", "datastore")

var (
	// ErrNotSetup is returned by Exchange and Verify before Setup succeeds.
	ErrNotSetup = errors.New("store not set up")

	// ErrReconfigured is returned when the loaded buffer no longer matches
	// the negotiated layout. A full Setup is required.
	ErrReconfigured = errors.New("dataset reconfigured, setup required")

	// ErrExchangeInProgress is returned when Exchange is called while
	// another Exchange on the same store is running.
	ErrExchangeInProgress = errors.New("exchange already in progress")

	// ErrSetupInProgress is returned when Exchange is called while Setup
	// is running.
	ErrSetupInProgress = errors.New("setup in progress")

	// ErrSetup is returned on every rank when any rank failed setup.
	ErrSetup = errors.New("setup failed")
)

// Shuffler supplies the shuffled sample order of an epoch. It must return
// the same permutation of [0, N) on every rank.
type Shuffler interface {
	Order(epoch int) []int
}

// Batcher maps an epoch's order to per-rank mini-batch positions. Only the
// root rank's Batcher is consulted.
type Batcher interface {
	Assign(epoch int, order []int) exchange.Assignment
}

// Options configures a Store.
type Options struct {
	NumSamples       int           // N, samples in the dataset
	SourcesPerSample int           // S, records per sample
	Source           source.Source // backing storage for the initial load
	Shuffler         Shuffler
	Batcher          Batcher
	Root             int // rank that computes and broadcasts assignments
}

// loaded is the immutable result of one successful Setup.
type loaded struct {
	sizes   *negotiate.SizeTable
	offsets *negotiate.OffsetTable
	buffer  *storage.Buffer
	engine  *exchange.Engine
}

// Current describes the most recently published epoch.
type Current struct {
	Epoch     int
	Order     []int
	Positions []int // positions of Order assigned to this rank
}

// Store is one rank's view of the distributed sample store.
type Store struct {
	group comm.Group
	opts  Options
	part  partition.Partitioner
	log   *logrus.Entry

	busy    sync.Mutex // serializes Setup and Exchange
	setting atomic.Bool
	state   atomic.Pointer[loaded]
	current atomic.Pointer[Current]

	cache *storage.Cache
	stats storage.Stats
}

// New creates a store for this rank of g. Nothing is read or exchanged
// until Setup.
func New(g comm.Group, opts Options) (*Store, error) {
	if opts.NumSamples <= 0 {
		return nil, fmt.Errorf("number of samples must be positive, got %d", opts.NumSamples)
	}
	if opts.SourcesPerSample <= 0 {
		return nil, fmt.Errorf("sources per sample must be positive, got %d", opts.SourcesPerSample)
	}
	if opts.Source == nil {
		return nil, errors.New("no record source configured")
	}
	if opts.Shuffler == nil {
		return nil, errors.New("no shuffler configured")
	}
	if opts.Root < 0 || opts.Root >= g.Size() {
		return nil, fmt.Errorf("root rank %d not in [0, %d)", opts.Root, g.Size())
	}
	if g.Rank() == opts.Root && opts.Batcher == nil {
		return nil, errors.New("root rank requires a batcher")
	}
	part, err := partition.New(g.Size())
	if err != nil {
		return nil, err
	}
	return &Store{
		group: g,
		opts:  opts,
		part:  part,
		log:   logger.WithField("rank", g.Rank()),
		cache: storage.NewCache(),
	}, nil
}

// Rank returns this store's rank.
func (s *Store) Rank() int { return s.group.Rank() }

// Setup partitions the dataset, negotiates sizes with every rank, and loads
// this rank's owned records into a freshly allocated buffer. It clears the
// cache. Every rank must call it; on error the store is unusable until a
// later Setup succeeds.
func (s *Store) Setup(ctx context.Context) error {
	s.setting.Store(true)
	defer s.setting.Store(false)
	s.busy.Lock()
	defer s.busy.Unlock()

	s.state.Store(nil)
	s.current.Store(nil)
	s.cache.Reset()

	start := time.Now()
	n, sources := s.opts.NumSamples, s.opts.SourcesPerSample
	owned := s.part.OwnedKeys(s.group.Rank(), n, sources)

	local, measureErr := negotiate.Measure(ctx, s.opts.Source, owned)
	if measureErr != nil {
		s.log.WithError(measureErr).Error("measure failed")
	}
	sizes, err := negotiate.Negotiate(ctx, s.group, s.opts.Root, local, measureErr, n*sources)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}

	st, loadErr := s.load(sizes, owned)
	if loadErr != nil {
		s.log.WithError(loadErr).Error("load failed")
	}
	if err := s.agree(ctx, loadErr); err != nil {
		return err
	}

	s.state.Store(st)

	s.log.WithFields(logrus.Fields{
		"owned_records": st.offsets.Len(),
		"buffer_bytes":  st.buffer.Len(),
		"dataset_bytes": sizes.TotalBytes(),
		"checksum":      st.buffer.Checksum(),
		"elapsed":       time.Since(start),
	}).Info("setup complete")
	return nil
}

// load validates the negotiated table, lays out and fills the local buffer.
func (s *Store) load(sizes *negotiate.SizeTable, owned []record.Key) (*loaded, error) {
	if err := sizes.Complete(s.opts.NumSamples, s.opts.SourcesPerSample); err != nil {
		return nil, err
	}
	offsets, err := negotiate.BuildOffsets(owned, sizes)
	if err != nil {
		return nil, err
	}
	if err := offsets.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", negotiate.ErrNegotiation, err)
	}
	buf, err := storage.Allocate(offsets.Total())
	if err != nil {
		return nil, err
	}
	for _, k := range offsets.Keys() {
		span, _ := offsets.Lookup(k)
		dst, err := buf.Slice(span.Offset, span.Size)
		if err != nil {
			return nil, err
		}
		if err := s.opts.Source.ReadInto(k, dst); err != nil {
			return nil, fmt.Errorf("load %s: %w", k, err)
		}
		s.stats.RecordLoad(span.Size)
	}
	return &loaded{
		sizes:   sizes,
		offsets: offsets,
		buffer:  buf,
		engine:  exchange.NewEngine(s.group, sizes, offsets, buf),
	}, nil
}

// agree reports this rank's setup outcome to every rank and fails all of
// them if any rank failed.
func (s *Store) agree(ctx context.Context, localErr error) error {
	failed, err := s.failedRanks(ctx, localErr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	switch {
	case localErr != nil:
		return fmt.Errorf("%w: %w", ErrSetup, localErr)
	case len(failed) > 0:
		return fmt.Errorf("%w: ranks %v failed to load", ErrSetup, failed)
	}
	return nil
}

// failedRanks reports this rank's outcome to every rank and returns the
// ranks that failed, in ascending order.
func (s *Store) failedRanks(ctx context.Context, localErr error) ([]int, error) {
	var status int64
	if localErr != nil {
		status = 1
	}
	statuses, err := negotiate.GatherInt64(ctx, s.group, s.opts.Root, status)
	if err != nil {
		return nil, err
	}
	var failed []int
	for r, st := range statuses {
		if st != 0 {
			failed = append(failed, r)
		}
	}
	return failed, nil
}

// Exchange runs the epoch's exchange and publishes the result. On success
// Get serves exactly this rank's need-set for epoch. Every rank must call
// it for the same epoch.
func (s *Store) Exchange(ctx context.Context, epoch int) error {
	if !s.busy.TryLock() {
		if s.setting.Load() {
			return ErrSetupInProgress
		}
		return ErrExchangeInProgress
	}
	defer s.busy.Unlock()

	st := s.state.Load()
	if st == nil {
		return ErrNotSetup
	}
	if st.buffer.Len() != st.offsets.Total() {
		return fmt.Errorf("%w: buffer holds %d bytes, layout needs %d", ErrReconfigured, st.buffer.Len(), st.offsets.Total())
	}

	n := s.opts.NumSamples
	order := s.opts.Shuffler.Order(epoch)
	if err := exchange.ValidateOrder(order, n); err != nil {
		return fmt.Errorf("epoch %d: %w", epoch, err)
	}

	asg, err := s.broadcastAssignment(ctx, epoch, order)
	if err != nil {
		return fmt.Errorf("epoch %d: %w", epoch, err)
	}

	plan, err := exchange.BuildPlan(s.group.Rank(), s.part, order, asg, s.opts.SourcesPerSample)
	if err != nil {
		return fmt.Errorf("epoch %d: %w", epoch, err)
	}
	res, err := st.engine.Run(ctx, epoch, plan)
	if err != nil {
		return err
	}

	s.cache.Replace(epoch, res.Records)
	s.current.Store(&Current{Epoch: epoch, Order: order, Positions: asg[s.group.Rank()]})
	s.stats.RecordExchange(res.SentRecords, res.RecvRecords, res.LocalRecords,
		res.SentBytes, res.RecvBytes, res.LocalBytes)
	return nil
}

// broadcastAssignment computes the assignment at the root and distributes
// it to every rank, prefixed with a checksum of the root's order. Every rank
// compares that checksum with its own order and the group fails together
// if any rank disagrees, since mismatched orders pair the wrong records.
func (s *Store) broadcastAssignment(ctx context.Context, epoch int, order []int) (exchange.Assignment, error) {
	root := s.opts.Root
	var (
		payload []byte
		rootErr error
	)
	if s.group.Rank() == root {
		asg := s.opts.Batcher.Assign(epoch, order)
		if rootErr = asg.Validate(s.group.Size(), len(order)); rootErr == nil {
			payload = binary.BigEndian.AppendUint32(nil, exchange.OrderChecksum(order))
			payload = append(payload, asg.Encode()...)
		}
	}
	// An empty payload tells peers the root rejected its own assignment.
	payload, err := comm.Broadcast(ctx, s.group, root, payload)
	if err != nil {
		return nil, fmt.Errorf("broadcast assignment: %w", err)
	}
	if rootErr != nil {
		return nil, rootErr
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: root rank %d rejected its assignment", exchange.ErrInvalidAssignment, root)
	}

	asg, localErr := exchange.DecodeAssignment(payload[4:])
	if localErr == nil {
		localErr = asg.Validate(s.group.Size(), len(order))
	}
	if localErr == nil && exchange.OrderChecksum(order) != binary.BigEndian.Uint32(payload) {
		localErr = fmt.Errorf("%w: rank %d order differs from root rank %d", exchange.ErrInvalidAssignment, s.group.Rank(), root)
	}

	failed, err := s.failedRanks(ctx, localErr)
	switch {
	case err != nil:
		return nil, fmt.Errorf("assignment agreement: %w", err)
	case localErr != nil:
		return nil, localErr
	case len(failed) > 0:
		return nil, fmt.Errorf("%w: ranks %v disagree with root rank %d", exchange.ErrInvalidAssignment, failed, root)
	}
	return asg, nil
}

// Get returns the record (sample, source) of the current epoch. The bytes
// are owned by the store and are only valid until the next Exchange.
func (s *Store) Get(sample, src int) ([]byte, error) {
	k := record.Key{Sample: sample, Source: src}
	data, err := s.cache.Get(k)
	s.stats.RecordGet(err == nil)
	if err != nil {
		return nil, fmt.Errorf("get %s (epoch %d): %w", k, s.cache.Epoch(), err)
	}
	return data, nil
}

// Peek is Get without counting the lookup in Stats, for diagnostics that
// must not skew what the training loop reports.
func (s *Store) Peek(sample, src int) ([]byte, error) {
	k := record.Key{Sample: sample, Source: src}
	data, err := s.cache.Get(k)
	if err != nil {
		return nil, fmt.Errorf("peek %s (epoch %d): %w", k, s.cache.Epoch(), err)
	}
	return data, nil
}

// Current returns the last published epoch, or nil before the first
// exchange.
func (s *Store) Current() *Current { return s.current.Load() }

// Stats returns operation counters.
func (s *Store) Stats() storage.StatsSnapshot { return s.stats.Snapshot() }

// Info describes a store's layout and state.
type Info struct {
	Rank          int    `json:"rank"`
	World         int    `json:"world"`
	NumSamples    int    `json:"num_samples"`
	Sources       int    `json:"sources_per_sample"`
	Ready         bool   `json:"ready"`
	OwnedSamples  int    `json:"owned_samples"`
	OwnedRecords  int    `json:"owned_records"`
	BufferBytes   int64  `json:"buffer_bytes"`
	DatasetBytes  int64  `json:"dataset_bytes"`
	Checksum      uint32 `json:"checksum"`
	Epoch         int    `json:"epoch"`
	CachedRecords int    `json:"cached_records"`
	CachedBytes   int64  `json:"cached_bytes"`
}

// Info reports the store's current layout and cache state.
func (s *Store) Info() Info {
	cs := s.cache.Stats()
	info := Info{
		Rank:          s.group.Rank(),
		World:         s.group.Size(),
		NumSamples:    s.opts.NumSamples,
		Sources:       s.opts.SourcesPerSample,
		OwnedSamples:  s.part.Counts(s.opts.NumSamples)[s.group.Rank()],
		Epoch:         cs.Epoch,
		CachedRecords: cs.Records,
		CachedBytes:   cs.Bytes,
	}
	if st := s.state.Load(); st != nil {
		info.Ready = true
		info.OwnedRecords = st.offsets.Len()
		info.BufferBytes = st.buffer.Len()
		info.DatasetBytes = st.sizes.TotalBytes()
		info.Checksum = st.buffer.Checksum()
	}
	return info
}

// Verify re-reads every owned record from the source and compares it with
// the local buffer and, where cached, with the cache. It reports the first
// mismatch.
func (s *Store) Verify(ctx context.Context) error {
	st := s.state.Load()
	if st == nil {
		return ErrNotSetup
	}
	for _, k := range st.offsets.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		span, _ := st.offsets.Lookup(k)
		want := make([]byte, span.Size)
		if err := s.opts.Source.ReadInto(k, want); err != nil {
			return fmt.Errorf("verify %s: %w", k, err)
		}
		got, err := st.buffer.Slice(span.Offset, span.Size)
		if err != nil {
			return fmt.Errorf("verify %s: %w", k, err)
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("verify %s: buffer differs from source", k)
		}
		if cached, err := s.cache.Get(k); err == nil && !bytes.Equal(cached, want) {
			return fmt.Errorf("verify %s: cache differs from source", k)
		}
	}
	return nil
}
