package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/cluster"
)

var logger = logrus.WithField("module", "coordinator")

// Health states reported by MemberHealth.Status.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// MemberHealth tracks the health of one rank's node process.
// Protected by HealthMonitor's mutex; callers receive copies.
type MemberHealth struct {
	LastCheck        time.Time // Last check attempt
	LastHealthy      time.Time // Last successful check
	NodeID           string    // Node identifier
	Status           string    // StatusUnknown, StatusHealthy or StatusUnhealthy
	Rank             int       // Rank of the node in the group
	ConsecutiveFails int       // Failed checks since the last success
}

// HealthMonitor checks every member of the group periodically. A member
// that fails maxFailures checks in a row is declared unhealthy and the
// unhealthy callback fires once for it.
//
// The sample store has no recovery path for a lost rank, so the callback is
// where the coordinator turns a dead peer into an immediate abort on every
// surviving rank instead of a drain that never completes.
type HealthMonitor struct {
	members     map[string]*MemberHealth                     // Health per node ID
	httpClient  *http.Client                                 // Client for default checks
	checkFunc   func(ctx context.Context, addr string) error // Check implementation
	onUnhealthy func(m cluster.Member)                       // Fired on healthy->unhealthy
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration // Time between check rounds
	mu          sync.RWMutex  // Protects members
	wg          sync.WaitGroup
	maxFailures int // Consecutive failures before unhealthy
}

// NewHealthMonitor creates a monitor probing every interval. Members are
// declared unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second)
//	monitor.SetOnUnhealthy(abortGroup)
//	go monitor.Start(ctx, registry.Members)
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		maxFailures: 3,
		members:     make(map[string]*MemberHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, on its own goroutine, when a
// member becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(m cluster.Member)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the HTTP /health check.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.checkFunc = checkFunc
}

// SetMaxFailures sets how many consecutive failures mark a member unhealthy.
func (h *HealthMonitor) SetMaxFailures(n int) {
	if n > 0 {
		h.maxFailures = n
	}
}

// Start checks the members returned by memberProvider every interval until
// ctx or Stop cancels it. It blocks; run it on its own goroutine.
func (h *HealthMonitor) Start(ctx context.Context, memberProvider func() []cluster.Member) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger.WithField("interval", h.interval).Info("health monitor started")
	h.checkAll(ctx, memberProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, memberProvider())
		case <-ctx.Done():
			logger.Info("health monitor stopping")
			return
		case <-h.ctx.Done():
			logger.Info("health monitor stopping")
			return
		}
	}
}

// Stop cancels monitoring and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAll checks each member and forgets members no longer provided.
func (h *HealthMonitor) checkAll(ctx context.Context, members []cluster.Member) {
	current := make(map[string]bool, len(members))
	for _, m := range members {
		current[m.ID] = true
		h.check(ctx, m)
	}

	h.mu.Lock()
	for id := range h.members {
		if !current[id] {
			delete(h.members, id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(ctx context.Context, m cluster.Member) {
	h.mu.Lock()
	health, exists := h.members[m.ID]
	if !exists {
		health = &MemberHealth{
			NodeID:      m.ID,
			Rank:        m.Rank,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.members[m.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(ctx, m.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()
	health.LastCheck = time.Now()
	log := logger.WithFields(logrus.Fields{"node": m.ID, "rank": m.Rank})

	if err == nil {
		if health.Status == StatusUnhealthy {
			log.Info("member recovered")
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
		return
	}

	health.ConsecutiveFails++
	log.WithError(err).Warnf("health check failed (%d/%d)", health.ConsecutiveFails, h.maxFailures)
	if health.ConsecutiveFails < h.maxFailures || health.Status == StatusUnhealthy {
		return
	}
	health.Status = StatusUnhealthy
	log.Error("member unhealthy")
	if h.onUnhealthy != nil {
		go h.onUnhealthy(m)
	}
}

// defaultHealthCheck GETs {addr}/health and expects 200 OK.
func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetMemberHealth returns a copy of the node's health, or nil if it is not
// monitored.
func (h *HealthMonitor) GetMemberHealth(nodeID string) *MemberHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, exists := h.members[nodeID]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllMemberHealth returns copies of every monitored member's health.
func (h *HealthMonitor) GetAllMemberHealth() map[string]*MemberHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*MemberHealth, len(h.members))
	for id, health := range h.members {
		cp := *health
		out[id] = &cp
	}
	return out
}

// IsHealthy reports whether the node's last checks succeeded.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, exists := h.members[nodeID]
	return exists && health.Status == StatusHealthy
}
