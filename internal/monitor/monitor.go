// Package monitor periodically probes the listings backend.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/donaldgifford/automarket/internal/metrics"
	"github.com/donaldgifford/automarket/pkg/logger"
)

const checkTimeout = 5 * time.Second

// HealthChecker reports backend health.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// Status is the outcome of the most recent probe.
type Status struct {
	Up        bool
	Message   string
	Error     string
	CheckedAt time.Time
}

// Monitor runs health probes on a schedule and remembers the last result.
type Monitor struct {
	cron    *cron.Cron
	checker HealthChecker
	log     *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	status Status
}

// New creates a Monitor probing checker every interval.
func New(checker HealthChecker, interval time.Duration, log *slog.Logger) (*Monitor, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("health interval %s is below 1s", interval)
	}

	m := &Monitor{
		cron:    cron.New(),
		checker: checker,
		log:     logger.Component(log, "monitor"),
		now:     time.Now,
	}

	if _, err := m.cron.AddFunc("@every "+interval.String(), m.runCheck); err != nil {
		return nil, fmt.Errorf("scheduling health check: %w", err)
	}

	return m, nil
}

// Start runs one probe immediately and then begins the schedule.
func (m *Monitor) Start(ctx context.Context) {
	m.log.Info("monitor started")
	m.Check(ctx)
	m.cron.Start()
}

// Stop stops the schedule. The returned context is done once a running
// probe has finished.
func (m *Monitor) Stop() context.Context {
	m.log.Info("monitor stopping")
	return m.cron.Stop()
}

// Entries returns the registered cron entries for inspection.
func (m *Monitor) Entries() []cron.Entry {
	return m.cron.Entries()
}

// Status returns the result of the most recent probe. Before the first
// probe the backend is reported down.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Check probes the backend now and records the result.
func (m *Monitor) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	msg, err := m.checker.Health(ctx)
	st := Status{Up: err == nil, Message: msg, CheckedAt: m.now()}
	if err != nil {
		st.Error = err.Error()
	}

	m.mu.Lock()
	prev := m.status
	m.status = st
	m.mu.Unlock()

	if st.Up {
		metrics.BackendUp.Set(1)
	} else {
		metrics.BackendUp.Set(0)
	}

	switch {
	case !st.Up && (prev.Up || prev.CheckedAt.IsZero()):
		m.log.Warn("backend unhealthy", "error", err)
	case st.Up && !prev.Up:
		m.log.Info("backend healthy", "message", msg)
	}

	return st
}

func (m *Monitor) runCheck() {
	m.Check(context.Background())
}
