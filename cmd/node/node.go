package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/cluster"
	"github.com/dreamware/shufflestore/internal/comm"
	"github.com/dreamware/shufflestore/internal/datastore"
	"github.com/dreamware/shufflestore/internal/storage"
)

// Node is one rank's process: the mailbox peers deliver into, its place in
// the group once registered, and the store once created.
type Node struct {
	ID      string
	mailbox *comm.Mailbox
	store   atomic.Pointer[datastore.Store]

	mu     sync.RWMutex
	member cluster.Member
	runID  string
	joined bool
}

// NewNode creates a node that has not yet joined a group.
func NewNode(id string) *Node {
	return &Node{ID: id, mailbox: comm.NewMailbox()}
}

func (n *Node) setMember(runID string, m cluster.Member) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runID = runID
	n.member = m
	n.joined = true
}

// Member returns this node's rank assignment and whether it has one.
func (n *Node) Member() (cluster.Member, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.member, n.joined
}

func (n *Node) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/control", n.handleControl)
	mux.Handle(comm.InboxPath, comm.InboxHandler(n.mailbox))
	mux.HandleFunc("/info", n.handleInfo)
	mux.HandleFunc("/record/", n.handleRecord)
	return mux
}

// handleControl processes control messages from the coordinator.
//
// The only message type is "abort": a peer rank was lost, so every pending
// and future receive on this rank fails with comm.ErrPeerLost and the
// epoch loop unwinds instead of waiting on records that will never arrive.
//
// Request body:
//
//	{"type": "abort", "reason": "node n2 unreachable", "rank": 2}
//
// Response:
//   - 204 No Content: message applied
//   - 400 Bad Request: invalid JSON or unknown message type
//   - 405 Method Not Allowed: non-POST request
func (n *Node) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg cluster.ControlMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid control message", http.StatusBadRequest)
		return
	}
	switch msg.Type {
	case cluster.ControlAbort:
		logger.WithFields(logrus.Fields{
			"node":   n.ID,
			"failed": msg.Rank,
			"reason": msg.Reason,
		}).Warn("group aborted by coordinator")
		n.mailbox.Abort(fmt.Errorf("%w: rank %d: %s", comm.ErrPeerLost, msg.Rank, msg.Reason))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, fmt.Sprintf("unknown control type %q", msg.Type), http.StatusBadRequest)
	}
}

// NodeInfo is the body of GET /info.
type NodeInfo struct {
	ID     string                 `json:"id"`
	RunID  string                 `json:"run_id,omitempty"`
	Rank   int                    `json:"rank"`
	Joined bool                   `json:"joined"`
	Store  *datastore.Info        `json:"store,omitempty"`
	Stats  *storage.StatsSnapshot `json:"stats,omitempty"`
}

// handleInfo reports the node's rank and, once created, its store layout
// and counters.
//
// Response:
//   - 200 OK: NodeInfo as JSON; rank is -1 before registration
func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	n.mu.RLock()
	info := NodeInfo{ID: n.ID, RunID: n.runID, Rank: -1, Joined: n.joined}
	if n.joined {
		info.Rank = n.member.Rank
	}
	n.mu.RUnlock()

	if st := n.store.Load(); st != nil {
		si := st.Info()
		stats := st.Stats()
		info.Store = &si
		info.Stats = &stats
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

// handleRecord serves GET /record/{sample}/{source}: the bytes of one
// record of the current epoch's mini-batches on this rank. Lookups here are
// not counted in the store's Get statistics.
//
// Response:
//   - 200 OK: raw record bytes
//   - 400 Bad Request: malformed path
//   - 404 Not Found: record not in this rank's current epoch
//   - 405 Method Not Allowed: non-GET request
//   - 503 Service Unavailable: store not created yet
func (n *Node) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sample, src, err := parseRecordPath(strings.TrimPrefix(r.URL.Path, "/record/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st := n.store.Load()
	if st == nil {
		http.Error(w, "store not ready", http.StatusServiceUnavailable)
		return
	}
	data, err := st.Peek(sample, src)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func parseRecordPath(path string) (int, int, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid record path %q", path)
	}
	sample, err := strconv.Atoi(parts[0])
	if err != nil || sample < 0 {
		return 0, 0, fmt.Errorf("invalid sample %q", parts[0])
	}
	src, err := strconv.Atoi(parts[1])
	if err != nil || src < 0 {
		return 0, 0, fmt.Errorf("invalid source %q", parts[1])
	}
	return sample, src, nil
}
