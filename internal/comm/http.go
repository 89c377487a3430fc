package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/cluster"
)

// InboxPath is the URL prefix peers post messages to.
const InboxPath = "/p2p/"

// DefaultMaxInflight bounds concurrent outbound HTTP posts per rank.
const DefaultMaxInflight = 64

// MaxMessageBytes caps the body InboxHandler accepts for one message.
const MaxMessageBytes = 1 << 30

// HTTPGroup is a Group whose ranks are separate node processes. Each send
// is one POST of the raw payload to the destination's inbox:
//
//	POST {addr}/p2p/{src}/{tag}/{seq}
//
// The destination's InboxHandler delivers the body into its Mailbox, where
// the (src, tag, seq) envelope pairs it with the matching receive.
type HTTPGroup struct {
	members []cluster.Member
	mailbox *Mailbox
	client  *http.Client
	sendSeq *sequencer
	recvSeq *sequencer
	sem     chan struct{}
	rank    int
}

// HTTPOption customizes an HTTPGroup.
type HTTPOption func(*HTTPGroup)

// WithHTTPClient sets the client used for outbound posts.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGroup) { g.client = c }
}

// WithMaxInflight bounds the number of concurrent outbound posts.
func WithMaxInflight(n int) HTTPOption {
	return func(g *HTTPGroup) {
		if n > 0 {
			g.sem = make(chan struct{}, n)
		}
	}
}

// NewHTTPGroup creates the transport for rank within members. members must
// be indexed by rank. mailbox must be the one served by this node's
// InboxHandler.
func NewHTTPGroup(rank int, members []cluster.Member, mailbox *Mailbox, opts ...HTTPOption) (*HTTPGroup, error) {
	if rank < 0 || rank >= len(members) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidRank, rank, len(members))
	}
	for i, m := range members {
		if m.Rank != i {
			return nil, fmt.Errorf("member %s has rank %d at index %d", m.ID, m.Rank, i)
		}
		if m.Addr == "" {
			return nil, fmt.Errorf("member %s has no address", m.ID)
		}
	}
	g := &HTTPGroup{
		rank:    rank,
		members: members,
		mailbox: mailbox,
		client:  &http.Client{Timeout: 60 * time.Second},
		sendSeq: newSequencer(),
		recvSeq: newSequencer(),
		sem:     make(chan struct{}, DefaultMaxInflight),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Rank returns this rank's index.
func (g *HTTPGroup) Rank() int { return g.rank }

// Size returns the number of ranks.
func (g *HTTPGroup) Size() int { return len(g.members) }

// Isend posts data to dest's inbox. A send to self is delivered directly.
func (g *HTTPGroup) Isend(ctx context.Context, dest int, tag Tag, data []byte) *Request {
	if err := checkPeer(g, dest); err != nil {
		return failed(describe("send", g.rank, dest, tag, 0), err)
	}
	seq := g.sendSeq.take(dest, tag)
	req := newRequest(describe("send", g.rank, dest, tag, seq))

	if dest == g.rank {
		msg := make([]byte, len(data))
		copy(msg, data)
		req.complete(g.mailbox.Deliver(Envelope{Src: g.rank, Tag: tag, Seq: seq}, msg))
		return req
	}

	url := fmt.Sprintf("%s%s%d/%d/%d", strings.TrimRight(g.members[dest].Addr, "/"), InboxPath, g.rank, uint32(tag), seq)
	go func() {
		select {
		case g.sem <- struct{}{}:
		case <-ctx.Done():
			req.complete(ctx.Err())
			return
		}
		defer func() { <-g.sem }()

		if err := cluster.PostBytes(ctx, g.client, url, data); err != nil {
			logger.WithFields(logrus.Fields{
				"rank": g.rank,
				"dest": dest,
				"tag":  tag.String(),
				"seq":  seq,
			}).WithError(err).Error("send failed")
			req.complete(fmt.Errorf("%w: rank %d: %v", ErrPeerLost, dest, err))
			return
		}
		req.complete(nil)
	}()
	return req
}

// Irecv posts a receive from src.
func (g *HTTPGroup) Irecv(ctx context.Context, src int, tag Tag, buf []byte) *Request {
	if err := checkPeer(g, src); err != nil {
		return failed(describe("recv", src, g.rank, tag, 0), err)
	}
	seq := g.recvSeq.take(src, tag)
	env := Envelope{Src: src, Tag: tag, Seq: seq}
	return postRecv(ctx, g.mailbox, env, buf, describe("recv", src, g.rank, tag, seq))
}

// Abort fails every pending receive on this rank.
func (g *HTTPGroup) Abort(err error) { g.mailbox.Abort(err) }

// InboxHandler serves POST /p2p/{src}/{tag}/{seq} into mb.
//
// Response:
//   - 204 No Content: message parked or handed to its receive
//   - 400 Bad Request: malformed path or unreadable body
//   - 409 Conflict: envelope already delivered
//   - 413 Request Entity Too Large: body exceeds MaxMessageBytes
//   - 503 Service Unavailable: mailbox aborted
func InboxHandler(mb *Mailbox) http.Handler {
	return inboxHandler(mb, MaxMessageBytes)
}

func inboxHandler(mb *Mailbox, limit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		env, err := parseEnvelope(strings.TrimPrefix(r.URL.Path, InboxPath))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if err := mb.Deliver(env, body); err != nil {
			if errors.Is(err, ErrDuplicate) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func parseEnvelope(path string) (Envelope, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 {
		return Envelope{}, fmt.Errorf("invalid inbox path %q", path)
	}
	src, err := strconv.Atoi(parts[0])
	if err != nil || src < 0 {
		return Envelope{}, fmt.Errorf("invalid source rank %q", parts[0])
	}
	tag, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Envelope{}, fmt.Errorf("invalid tag %q", parts[1])
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Envelope{}, fmt.Errorf("invalid sequence %q", parts[2])
	}
	return Envelope{Src: src, Tag: Tag(tag), Seq: seq}, nil
}
