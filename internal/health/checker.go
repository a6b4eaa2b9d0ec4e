// Package health runs periodic checks of the pieces a blob server depends
// on, repairing what it can.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tutu-network/modelctl/internal/infra/store"
)

const (
	// MinFreeBytes is the free space below which the store is unhealthy.
	MinFreeBytes = 1 << 30
	// StalePartialAge is how old an abandoned download must be before the
	// checker deletes it.
	StalePartialAge = 6 * time.Hour
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by the history database.
type Pinger interface {
	Ping() error
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	minFree  int64
	log      *logrus.Entry
}

// NewChecker creates a checker for the history database and model store.
// db may be nil when no history is kept.
func NewChecker(db Pinger, st *store.Store, log *logrus.Entry) *Checker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Checker{interval: 60 * time.Second, minFree: MinFreeBytes, log: log}
	if db != nil {
		c.checks = append(c.checks, Check{
			Name:    "history",
			CheckFn: func(ctx context.Context) error { return db.Ping() },
		})
	}
	c.checks = append(c.checks,
		Check{
			Name: "disk_space",
			CheckFn: func(ctx context.Context) error {
				return st.EnsureSpace(c.minFree)
			},
		},
		Check{
			Name: "stale_partials",
			CheckFn: func(ctx context.Context) error {
				stale, err := st.Partials(time.Now().Add(-StalePartialAge))
				if err != nil {
					return err
				}
				if len(stale) > 0 {
					return fmt.Errorf("%d abandoned partial blob(s)", len(stale))
				}
				return nil
			},
			RecoverFn: func(ctx context.Context) error {
				n, err := st.RemovePartials(time.Now().Add(-StalePartialAge))
				if n > 0 {
					log.WithField("removed", n).Info("removed abandoned partial blobs")
				}
				return err
			},
		},
	)
	return c
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			if c.log != nil {
				c.log.WithField("check", check.Name).WithError(err).Warn("health check failed")
			}
			// A successful recovery counts as healthy.
			if check.RecoverFn != nil && check.RecoverFn(ctx) == nil {
				s.Healthy, s.Error = true, ""
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
