package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("module", "comm")

var (
	// ErrPeerLost is returned when a peer rank is unreachable or the group
	// was aborted because a peer failed.
	ErrPeerLost = errors.New("peer lost")

	// ErrAborted is the default abort cause when none is given.
	ErrAborted = errors.New("group aborted")

	// ErrSizeMismatch is returned when a received message does not exactly
	// fill the buffer posted for it.
	ErrSizeMismatch = errors.New("message size mismatch")

	// ErrDuplicate is returned when a message is delivered twice.
	ErrDuplicate = errors.New("duplicate message")

	// ErrInvalidRank is returned for a peer rank outside [0, Size()).
	ErrInvalidRank = errors.New("invalid rank")
)

// Tag separates independent message streams between the same two ranks.
type Tag uint32

const (
	// TagRecord carries record payloads during the per-epoch exchange.
	TagRecord Tag = iota + 1
	// TagGather carries gather contributions.
	TagGather
	// TagBroadcast carries broadcast lengths and payloads.
	TagBroadcast
	// TagAllGather carries all-gather slabs.
	TagAllGather
)

func (t Tag) String() string {
	switch t {
	case TagRecord:
		return "record"
	case TagGather:
		return "gather"
	case TagBroadcast:
		return "broadcast"
	case TagAllGather:
		return "allgather"
	}
	return fmt.Sprintf("tag(%d)", uint32(t))
}

// Group is the process-group primitive the store runs on: a fixed set of
// ranks exchanging byte messages point to point.
//
// Isend and Irecv never block; they return a Request that completes when the
// transfer finishes. For a given (peer, tag) pair, the Nth send posted by the
// sender is matched with the Nth receive posted by the receiver, regardless
// of the order in which messages arrive on the wire. Collectives in this
// package are built on these two calls.
type Group interface {
	// Rank returns this process's rank in [0, Size()).
	Rank() int

	// Size returns the number of ranks in the group.
	Size() int

	// Isend posts a send of data to rank dest. The caller must not modify
	// data until the request completes.
	Isend(ctx context.Context, dest int, tag Tag, data []byte) *Request

	// Irecv posts a receive from rank src into buf. The message must be
	// exactly len(buf) bytes.
	Irecv(ctx context.Context, src int, tag Tag, buf []byte) *Request
}

// sequencer hands out per-(peer, tag) sequence numbers.
type sequencer struct {
	mu   sync.Mutex
	next map[seqKey]uint64
}

type seqKey struct {
	peer int
	tag  Tag
}

func newSequencer() *sequencer {
	return &sequencer{next: make(map[seqKey]uint64)}
}

func (s *sequencer) take(peer int, tag Tag) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seqKey{peer: peer, tag: tag}
	seq := s.next[k]
	s.next[k] = seq + 1
	return seq
}

// postRecv posts a receive on mb for the message identified by env and
// copies it into buf when it arrives. Shared by every transport.
func postRecv(ctx context.Context, mb *Mailbox, env Envelope, buf []byte, desc string) *Request {
	req := newRequest(desc)
	go func() {
		data, err := mb.Await(ctx, env)
		if err != nil {
			req.complete(err)
			return
		}
		if len(data) != len(buf) {
			req.complete(fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(data), len(buf)))
			return
		}
		copy(buf, data)
		req.complete(nil)
	}()
	return req
}

func checkPeer(g Group, peer int) error {
	if peer < 0 || peer >= g.Size() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidRank, peer, g.Size())
	}
	return nil
}

func failed(desc string, err error) *Request {
	req := newRequest(desc)
	req.complete(err)
	return req
}

func describe(op string, from, to int, tag Tag, seq uint64) string {
	return fmt.Sprintf("%s %d->%d %s#%d", op, from, to, tag, seq)
}
