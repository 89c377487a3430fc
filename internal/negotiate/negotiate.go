// Package negotiate agrees on every record's size across the group and
// derives this rank's packed buffer layout.
//
// Negotiation runs once, at setup, in two rounds:
//
//	round 1 (local):   Measure stats each owned record
//	round 2 (global):  GatherInt64(count) at root
//	                   Broadcast(counts)
//	                   AllGatherv(entries)  -> SizeTable on every rank
//
// Afterwards BuildOffsets lays the owned records out back to back in
// ascending key order; the OffsetTable total is the local buffer length.
package negotiate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/comm"
	"github.com/dreamware/shufflestore/internal/record"
	"github.com/dreamware/shufflestore/internal/source"
)

var logger = logrus.WithField("module", "negotiate")

var (
	// ErrNegotiation is returned on every rank when any rank failed to
	// measure its records or the gathered table is inconsistent.
	ErrNegotiation = errors.New("size negotiation failed")

	// ErrInvalidSize is returned when a record reports a negative size.
	ErrInvalidSize = errors.New("invalid record size")
)

// entryWidth is the encoded size of an Entry: sample, source, size as
// big-endian int64.
const entryWidth = 24

// failedCount is the count a rank contributes when its measurement failed.
const failedCount = -1

// Entry is one record's measured size.
type Entry struct {
	Key  record.Key
	Size int64
}

// Measure stats every key in keys without reading contents. Returns the
// entries in the order of keys.
func Measure(ctx context.Context, src source.Source, keys []record.Key) ([]Entry, error) {
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size, err := src.Size(k)
		if err != nil {
			return nil, fmt.Errorf("measure %s: %w", k, err)
		}
		if size < 0 {
			return nil, fmt.Errorf("%w: record %s reports %d bytes", ErrInvalidSize, k, size)
		}
		out = append(out, Entry{Key: k, Size: size})
	}
	return out, nil
}

// Negotiate distributes local to every rank and returns the complete size
// table of expected entries. Every rank must call it with the same root,
// which collects and redistributes the per-rank counts. localErr is this
// rank's round 1 failure, if any; it is reported to all peers so the whole
// group fails together instead of deadlocking.
func Negotiate(ctx context.Context, g comm.Group, root int, local []Entry, localErr error, expected int) (*SizeTable, error) {
	log := logger.WithField("rank", g.Rank())

	count := int64(len(local))
	if localErr != nil {
		count = failedCount
	}

	counts, err := GatherInt64(ctx, g, root, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNegotiation, err)
	}

	var failedRanks []int
	for r, c := range counts {
		if c == failedCount {
			failedRanks = append(failedRanks, r)
		}
	}
	if len(failedRanks) > 0 {
		if localErr != nil {
			return nil, fmt.Errorf("%w: ranks %v failed to measure: %w", ErrNegotiation, failedRanks, localErr)
		}
		return nil, fmt.Errorf("%w: ranks %v failed to measure", ErrNegotiation, failedRanks)
	}

	strides := make([]int, len(counts))
	for r, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: rank %d reported count %d", ErrNegotiation, r, c)
		}
		strides[r] = int(c) * entryWidth
	}

	all, err := comm.AllGatherv(ctx, g, encodeEntries(local), strides)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	table, err := decodeTable(all, expected)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"records": table.Len(),
		"bytes":   table.TotalBytes(),
	}).Info("size table negotiated")
	return table, nil
}

// GatherInt64 gathers one value per rank at root and broadcasts the result,
// so every rank sees the same counts.
func GatherInt64(ctx context.Context, g comm.Group, root int, v int64) ([]int64, error) {
	gathered, err := comm.GatherInt64(ctx, g, root, v)
	if err != nil {
		return nil, err
	}
	var payload []byte
	if g.Rank() == root {
		payload = make([]byte, 8*len(gathered))
		for r, c := range gathered {
			binary.BigEndian.PutUint64(payload[8*r:], uint64(c))
		}
	}
	payload, err = comm.Broadcast(ctx, g, root, payload)
	if err != nil {
		return nil, err
	}
	if len(payload) != 8*g.Size() {
		return nil, fmt.Errorf("broadcast counts: got %d bytes for %d ranks", len(payload), g.Size())
	}
	out := make([]int64, g.Size())
	for r := range out {
		out[r] = int64(binary.BigEndian.Uint64(payload[8*r:]))
	}
	return out, nil
}

func encodeEntries(entries []Entry) []byte {
	buf := make([]byte, len(entries)*entryWidth)
	for i, e := range entries {
		b := buf[i*entryWidth:]
		binary.BigEndian.PutUint64(b[0:], uint64(e.Key.Sample))
		binary.BigEndian.PutUint64(b[8:], uint64(e.Key.Source))
		binary.BigEndian.PutUint64(b[16:], uint64(e.Size))
	}
	return buf
}

func decodeEntries(buf []byte) []Entry {
	out := make([]Entry, len(buf)/entryWidth)
	for i := range out {
		b := buf[i*entryWidth:]
		out[i] = Entry{
			Key: record.Key{
				Sample: int(int64(binary.BigEndian.Uint64(b[0:]))),
				Source: int(int64(binary.BigEndian.Uint64(b[8:]))),
			},
			Size: int64(binary.BigEndian.Uint64(b[16:])),
		}
	}
	return out
}

func decodeTable(buf []byte, expected int) (*SizeTable, error) {
	if len(buf)%entryWidth != 0 {
		return nil, fmt.Errorf("%w: gathered %d bytes is not a whole number of entries", ErrNegotiation, len(buf))
	}
	entries := decodeEntries(buf)
	if len(entries) != expected {
		return nil, fmt.Errorf("%w: gathered %d entries, want %d", ErrNegotiation, len(entries), expected)
	}
	t := &SizeTable{sizes: make(map[record.Key]int64, len(entries))}
	for _, e := range entries {
		if e.Size < 0 {
			return nil, fmt.Errorf("%w: record %s has size %d", ErrInvalidSize, e.Key, e.Size)
		}
		if _, dup := t.sizes[e.Key]; dup {
			return nil, fmt.Errorf("%w: record %s reported twice", ErrNegotiation, e.Key)
		}
		t.sizes[e.Key] = e.Size
		t.total += e.Size
	}
	return t, nil
}
