package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
)

var (
	// ErrNotFound is wrapped by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is wrapped by stores when a unique key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// RoundStore persists rounds. List order is newest-created first.
type RoundStore interface {
	CreateRound(ctx context.Context, round grant.Round) (grant.Round, error)
	UpdateRound(ctx context.Context, round grant.Round) (grant.Round, error)
	GetRound(ctx context.Context, id string) (grant.Round, error)
	ListRounds(ctx context.Context) ([]grant.Round, error)
}

// ApplicationStore persists applications. An empty roundID lists all rounds.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app grant.Application) (grant.Application, error)
	UpdateApplication(ctx context.Context, app grant.Application) (grant.Application, error)
	GetApplication(ctx context.Context, id string) (grant.Application, error)
	ListApplications(ctx context.Context, roundID string) ([]grant.Application, error)
}

// AllocationStore persists allocations. At most one allocation may exist per
// application; a second create fails with ErrAlreadyExists.
type AllocationStore interface {
	CreateAllocation(ctx context.Context, alloc grant.Allocation) (grant.Allocation, error)
	UpdateAllocation(ctx context.Context, alloc grant.Allocation) (grant.Allocation, error)
	GetAllocation(ctx context.Context, id string) (grant.Allocation, error)
	ListAllocations(ctx context.Context, roundID string) ([]grant.Allocation, error)
}

// DistributionStore is the append-only log of distribution runs.
type DistributionStore interface {
	CreateDistribution(ctx context.Context, dist grant.Distribution) (grant.Distribution, error)
	ListDistributions(ctx context.Context, roundID string) ([]grant.Distribution, error)
}

// FundingStore de-duplicates funding transactions by hash. ClaimFunding
// fails with ErrAlreadyExists when the hash was claimed before, whether the
// earlier claim is still pending or already credited.
type FundingStore interface {
	ClaimFunding(ctx context.Context, funding grant.Funding) (grant.Funding, error)
	UpdateFunding(ctx context.Context, funding grant.Funding) (grant.Funding, error)
	ReleaseFunding(ctx context.Context, txHash string) error
	ListFundings(ctx context.Context, roundID string) ([]grant.Funding, error)
}
