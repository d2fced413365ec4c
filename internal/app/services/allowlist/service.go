// Package allowlist answers whether an address may act as a round approver.
// Membership comes from an external source and is cached; a failed refresh
// keeps serving the last good snapshot.
package allowlist

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/shipyard/internal/app/core/service"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// DefaultRefreshInterval bounds how stale the cached list may become.
const DefaultRefreshInterval = 5 * time.Minute

// Source loads the current allow-list. Entries that are not well-formed
// addresses are skipped by the cache.
type Source interface {
	Load(ctx context.Context) ([]string, error)
}

// Service caches the allow-list loaded from a Source.
type Service struct {
	source   Source
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger

	mu          sync.RWMutex
	allowed     map[grant.Address]struct{}
	loaded      bool
	lastAttempt time.Time
	lastSuccess time.Time
	lastErr     error

	refreshMu sync.Mutex
}

// New creates an allow-list cache. The first lookup triggers a load.
func New(source Source, interval time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("allowlist")
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Service{
		source:   source,
		interval: interval,
		now:      time.Now,
		log:      log,
		allowed:  make(map[grant.Address]struct{}),
	}
}

// Descriptor advertises the service for orchestration.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "allowlist",
		Domain:       "authorization",
		Layer:        service.LayerCollaborator,
		Capabilities: []string{"is-allowed"},
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Interval returns the refresh interval.
func (s *Service) Interval() time.Duration { return s.interval }

// IsAllowed reports whether address is on the list, refreshing first when
// the cache is older than the refresh interval. Refresh failures never
// surface: the caller sees the last good list, or an empty one.
func (s *Service) IsAllowed(ctx context.Context, address grant.Address) bool {
	if s.stale() {
		s.refreshMu.Lock()
		// Another caller may have refreshed while we waited.
		if s.stale() {
			_ = s.load(ctx)
		}
		s.refreshMu.Unlock()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allowed[address]
	return ok
}

func (s *Service) stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAttempt.IsZero() || s.now().Sub(s.lastAttempt) >= s.interval
}

// Refresh reloads the list from the source unconditionally.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) error {
	started := s.now()
	entries, err := s.source.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt = started
	s.lastErr = err
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("cached", len(s.allowed)).Warn("allow-list refresh failed; serving cached list")
		return err
	}

	next := make(map[grant.Address]struct{}, len(entries))
	skipped := 0
	for _, raw := range entries {
		addr, err := grant.ParseAddress(raw)
		if err != nil {
			skipped++
			continue
		}
		next[addr] = struct{}{}
	}
	s.allowed = next
	s.loaded = true
	s.lastSuccess = started

	entry := s.log.WithContext(ctx).WithField("entries", len(next))
	if skipped > 0 {
		entry = entry.WithField("skipped", skipped)
	}
	entry.Debug("allow-list refreshed")
	return nil
}

// Status describes the cache for operators.
type Status struct {
	Entries     int       `json:"entries"`
	Loaded      bool      `json:"loaded"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Status returns the current cache state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Entries:     len(s.allowed),
		Loaded:      s.loaded,
		LastAttempt: s.lastAttempt,
		LastSuccess: s.lastSuccess,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
