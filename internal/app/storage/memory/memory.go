package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use. Records are copied on the way in and out so callers can
// never mutate stored state through a shared slice.
type Store struct {
	mu sync.RWMutex

	rounds     map[string]grant.Round
	roundOrder []string

	applications     map[string]grant.Application
	applicationOrder []string

	allocations      map[string]grant.Allocation
	allocationOrder  []string
	allocationsByApp map[string]string

	distributions     map[string]grant.Distribution
	distributionOrder []string

	fundings     map[string]grant.Funding
	fundingOrder []string
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.AllocationStore = (*Store)(nil)
var _ storage.DistributionStore = (*Store)(nil)
var _ storage.FundingStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		rounds:           make(map[string]grant.Round),
		applications:     make(map[string]grant.Application),
		allocations:      make(map[string]grant.Allocation),
		allocationsByApp: make(map[string]string),
		distributions:    make(map[string]grant.Distribution),
		fundings:         make(map[string]grant.Funding),
	}
}

func newID() string {
	return uuid.New().String()
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// RoundStore implementation ---------------------------------------------------

func (s *Store) CreateRound(_ context.Context, round grant.Round) (grant.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if round.ID == "" {
		round.ID = newID()
	} else if _, exists := s.rounds[round.ID]; exists {
		return grant.Round{}, fmt.Errorf("round %s: %w", round.ID, storage.ErrAlreadyExists)
	}

	round.CreatedAt = stamp(round.CreatedAt)
	if round.UpdatedAt.IsZero() {
		round.UpdatedAt = round.CreatedAt
	}
	round = cloneRound(round)

	s.rounds[round.ID] = round
	s.roundOrder = append(s.roundOrder, round.ID)
	return cloneRound(round), nil
}

func (s *Store) UpdateRound(_ context.Context, round grant.Round) (grant.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rounds[round.ID]
	if !ok {
		return grant.Round{}, fmt.Errorf("round %s: %w", round.ID, storage.ErrNotFound)
	}

	round.CreatedAt = original.CreatedAt
	round.UpdatedAt = stamp(round.UpdatedAt)
	s.rounds[round.ID] = cloneRound(round)
	return cloneRound(round), nil
}

func (s *Store) GetRound(_ context.Context, id string) (grant.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, ok := s.rounds[id]
	if !ok {
		return grant.Round{}, fmt.Errorf("round %s: %w", id, storage.ErrNotFound)
	}
	return cloneRound(round), nil
}

func (s *Store) ListRounds(_ context.Context) ([]grant.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]grant.Round, 0, len(s.roundOrder))
	for i := len(s.roundOrder) - 1; i >= 0; i-- {
		result = append(result, cloneRound(s.rounds[s.roundOrder[i]]))
	}
	return result, nil
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, app grant.Application) (grant.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.ID == "" {
		app.ID = newID()
	} else if _, exists := s.applications[app.ID]; exists {
		return grant.Application{}, fmt.Errorf("application %s: %w", app.ID, storage.ErrAlreadyExists)
	}

	app.CreatedAt = stamp(app.CreatedAt)
	s.applications[app.ID] = cloneApplication(app)
	s.applicationOrder = append(s.applicationOrder, app.ID)
	return cloneApplication(app), nil
}

func (s *Store) UpdateApplication(_ context.Context, app grant.Application) (grant.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.applications[app.ID]
	if !ok {
		return grant.Application{}, fmt.Errorf("application %s: %w", app.ID, storage.ErrNotFound)
	}

	app.CreatedAt = original.CreatedAt
	app.RoundID = original.RoundID
	s.applications[app.ID] = cloneApplication(app)
	return cloneApplication(app), nil
}

func (s *Store) GetApplication(_ context.Context, id string) (grant.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return grant.Application{}, fmt.Errorf("application %s: %w", id, storage.ErrNotFound)
	}
	return cloneApplication(app), nil
}

func (s *Store) ListApplications(_ context.Context, roundID string) ([]grant.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]grant.Application, 0)
	for i := len(s.applicationOrder) - 1; i >= 0; i-- {
		app := s.applications[s.applicationOrder[i]]
		if roundID == "" || app.RoundID == roundID {
			result = append(result, cloneApplication(app))
		}
	}
	return result, nil
}

// AllocationStore implementation ----------------------------------------------

func (s *Store) CreateAllocation(_ context.Context, alloc grant.Allocation) (grant.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alloc.ID == "" {
		alloc.ID = newID()
	} else if _, exists := s.allocations[alloc.ID]; exists {
		return grant.Allocation{}, fmt.Errorf("allocation %s: %w", alloc.ID, storage.ErrAlreadyExists)
	}
	if existing, taken := s.allocationsByApp[alloc.ApplicationID]; taken {
		return grant.Allocation{}, fmt.Errorf("application %s already has allocation %s: %w", alloc.ApplicationID, existing, storage.ErrAlreadyExists)
	}

	alloc.CreatedAt = stamp(alloc.CreatedAt)
	s.allocations[alloc.ID] = cloneAllocation(alloc)
	s.allocationOrder = append(s.allocationOrder, alloc.ID)
	s.allocationsByApp[alloc.ApplicationID] = alloc.ID
	return cloneAllocation(alloc), nil
}

func (s *Store) UpdateAllocation(_ context.Context, alloc grant.Allocation) (grant.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.allocations[alloc.ID]
	if !ok {
		return grant.Allocation{}, fmt.Errorf("allocation %s: %w", alloc.ID, storage.ErrNotFound)
	}
	if original.Distributed && !alloc.Distributed {
		return grant.Allocation{}, fmt.Errorf("allocation %s already distributed", alloc.ID)
	}

	// Identity and amount are fixed at creation.
	alloc.RoundID = original.RoundID
	alloc.ApplicationID = original.ApplicationID
	alloc.Amount = original.Amount
	alloc.CreatedAt = original.CreatedAt
	s.allocations[alloc.ID] = cloneAllocation(alloc)
	return cloneAllocation(alloc), nil
}

func (s *Store) GetAllocation(_ context.Context, id string) (grant.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alloc, ok := s.allocations[id]
	if !ok {
		return grant.Allocation{}, fmt.Errorf("allocation %s: %w", id, storage.ErrNotFound)
	}
	return cloneAllocation(alloc), nil
}

func (s *Store) ListAllocations(_ context.Context, roundID string) ([]grant.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]grant.Allocation, 0)
	for i := len(s.allocationOrder) - 1; i >= 0; i-- {
		alloc := s.allocations[s.allocationOrder[i]]
		if roundID == "" || alloc.RoundID == roundID {
			result = append(result, cloneAllocation(alloc))
		}
	}
	return result, nil
}

// DistributionStore implementation --------------------------------------------

func (s *Store) CreateDistribution(_ context.Context, dist grant.Distribution) (grant.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dist.ID == "" {
		dist.ID = newID()
	} else if _, exists := s.distributions[dist.ID]; exists {
		return grant.Distribution{}, fmt.Errorf("distribution %s: %w", dist.ID, storage.ErrAlreadyExists)
	}

	dist.CreatedAt = stamp(dist.CreatedAt)
	s.distributions[dist.ID] = cloneDistribution(dist)
	s.distributionOrder = append(s.distributionOrder, dist.ID)
	return cloneDistribution(dist), nil
}

func (s *Store) ListDistributions(_ context.Context, roundID string) ([]grant.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]grant.Distribution, 0)
	for i := len(s.distributionOrder) - 1; i >= 0; i-- {
		dist := s.distributions[s.distributionOrder[i]]
		if roundID == "" || dist.RoundID == roundID {
			result = append(result, cloneDistribution(dist))
		}
	}
	return result, nil
}

// FundingStore implementation -------------------------------------------------

func (s *Store) ClaimFunding(_ context.Context, funding grant.Funding) (grant.Funding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if funding.TxHash == "" {
		return grant.Funding{}, fmt.Errorf("funding tx hash required")
	}
	if existing, exists := s.fundings[funding.TxHash]; exists {
		return grant.Funding{}, fmt.Errorf("funding %s (%s for round %s): %w", funding.TxHash, existing.Status, existing.RoundID, storage.ErrAlreadyExists)
	}

	funding.CreatedAt = stamp(funding.CreatedAt)
	if funding.Status == "" {
		funding.Status = grant.FundingPending
	}
	s.fundings[funding.TxHash] = funding
	s.fundingOrder = append(s.fundingOrder, funding.TxHash)
	return funding, nil
}

func (s *Store) UpdateFunding(_ context.Context, funding grant.Funding) (grant.Funding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.fundings[funding.TxHash]
	if !ok {
		return grant.Funding{}, fmt.Errorf("funding %s: %w", funding.TxHash, storage.ErrNotFound)
	}
	funding.RoundID = original.RoundID
	funding.CreatedAt = original.CreatedAt
	s.fundings[funding.TxHash] = funding
	return funding, nil
}

func (s *Store) ReleaseFunding(_ context.Context, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.fundings[txHash]
	if !ok {
		return nil
	}
	if existing.Status == grant.FundingCredited {
		return fmt.Errorf("funding %s already credited", txHash)
	}
	delete(s.fundings, txHash)
	for i, h := range s.fundingOrder {
		if h == txHash {
			s.fundingOrder = append(s.fundingOrder[:i], s.fundingOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListFundings(_ context.Context, roundID string) ([]grant.Funding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]grant.Funding, 0)
	for i := len(s.fundingOrder) - 1; i >= 0; i-- {
		f := s.fundings[s.fundingOrder[i]]
		if roundID == "" || f.RoundID == roundID {
			result = append(result, f)
		}
	}
	return result, nil
}

// Helpers --------------------------------------------------------------------

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	return append([]string(nil), src...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneRound(r grant.Round) grant.Round {
	r.Criteria = cloneStrings(r.Criteria)
	return r
}

func cloneApplication(a grant.Application) grant.Application {
	a.Links = cloneStrings(a.Links)
	a.DecidedAt = cloneTime(a.DecidedAt)
	return a
}

func cloneAllocation(a grant.Allocation) grant.Allocation {
	a.DistributedAt = cloneTime(a.DistributedAt)
	return a
}

func cloneDistribution(d grant.Distribution) grant.Distribution {
	if d.Payouts != nil {
		d.Payouts = append([]grant.Payout(nil), d.Payouts...)
	}
	return d
}
