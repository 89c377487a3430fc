package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/cluster"
	"github.com/dreamware/shufflestore/internal/coordinator"
)

// server holds the coordinator's HTTP handlers and state.
type server struct {
	ctx         context.Context
	registry    *coordinator.RankRegistry
	monitor     *coordinator.HealthMonitor
	monitorOnce sync.Once
	aborts      sync.WaitGroup
}

func newServer(ctx context.Context, worldSize int, healthInterval time.Duration) (*server, error) {
	registry, err := coordinator.NewRankRegistry(worldSize)
	if err != nil {
		return nil, err
	}
	s := &server{
		ctx:      ctx,
		registry: registry,
		monitor:  coordinator.NewHealthMonitor(healthInterval),
	}
	s.monitor.SetOnUnhealthy(s.handleUnhealthy)
	return s, nil
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/group", s.handleGroup)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// close stops monitoring and waits for in-flight abort broadcasts.
func (s *server) close() {
	s.monitor.Stop()
	s.aborts.Wait()
}

// handleRegister assigns the node a rank.
//
// Response:
//   - 200 OK: RegisterResponse with the node's rank and the run ID
//   - 400 Bad Request: malformed body or missing id/addr
//   - 409 Conflict: every rank is taken by other nodes
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}

	m, err := s.registry.Register(req.Node)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, coordinator.ErrGroupFull) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	logger.WithFields(logrus.Fields{"node": m.ID, "rank": m.Rank, "addr": m.Addr}).Info("node registered")

	if s.registry.View().Ready {
		s.startMonitor()
	}
	writeJSON(w, cluster.RegisterResponse{RunID: s.registry.RunID(), Member: m})
}

// handleGroup returns the current GroupView.
func (s *server) handleGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.registry.View())
}

// startMonitor begins health checks once the group is complete.
func (s *server) startMonitor() {
	s.monitorOnce.Do(func() {
		logger.WithField("world", s.registry.WorldSize()).Info("group ready, monitoring health")
		go s.monitor.Start(s.ctx, s.registry.Members)
	})
}

// handleUnhealthy fails the lost rank and tells every other member to abort.
func (s *server) handleUnhealthy(lost cluster.Member) {
	_, first, err := s.registry.MarkFailed(lost.ID)
	if err != nil {
		logger.WithError(err).Warn("unhealthy node not registered")
		return
	}
	if !first {
		return
	}
	s.aborts.Add(1)
	defer s.aborts.Done()
	s.broadcastAbort(s.ctx, lost)
}

func (s *server) broadcastAbort(ctx context.Context, lost cluster.Member) {
	msg := cluster.ControlMessage{
		Type:   cluster.ControlAbort,
		Rank:   lost.Rank,
		Reason: fmt.Sprintf("rank %d (%s) failed health checks", lost.Rank, lost.ID),
	}
	log := logger.WithFields(logrus.Fields{"lost_rank": lost.Rank, "lost_node": lost.ID})
	log.Error("aborting group")

	var wg sync.WaitGroup
	for _, m := range s.registry.Members() {
		if m.ID == lost.ID {
			continue
		}
		wg.Add(1)
		go func(m cluster.Member) {
			defer wg.Done()
			url := strings.TrimRight(m.Addr, "/") + "/control"
			if err := cluster.PostJSON(ctx, url, msg, nil); err != nil {
				log.WithError(err).WithField("node", m.ID).Warn("abort not delivered")
			}
		}(m)
	}
	wg.Wait()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("write response")
	}
}
