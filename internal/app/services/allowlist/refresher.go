package allowlist

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/shipyard/pkg/logger"
)

// Refresher reloads the allow-list on a fixed schedule so lookups rarely pay
// for a load. It implements system.Service.
type Refresher struct {
	svc *Service
	log *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRefresher creates a scheduled refresher for svc.
func NewRefresher(svc *Service, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("allowlist")
	}
	return &Refresher{svc: svc, log: log}
}

// Name implements system.Service.
func (r *Refresher) Name() string { return "allowlist-refresher" }

// Start loads the list once and schedules further refreshes at the
// service's interval. An initial load failure is logged, not returned.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	if err := r.svc.Refresh(ctx); err != nil {
		r.log.WithError(err).Warn("initial allow-list load failed")
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", r.svc.Interval())
	if _, err := c.AddFunc(spec, func() {
		_ = r.svc.Refresh(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule allow-list refresh: %w", err)
	}
	c.Start()

	r.cron = c
	r.running = true
	r.log.WithField("interval", r.svc.Interval().String()).Info("allow-list refresher started")
	return nil
}

// Stop halts the schedule and waits for an in-flight refresh or ctx.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
