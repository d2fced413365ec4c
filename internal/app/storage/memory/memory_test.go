package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/storage"
)

func TestRoundLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()

	first, err := store.CreateRound(ctx, grant.Round{Name: "first", Criteria: []string{"open source"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("expected id to be generated")
	}
	if first.CreatedAt.IsZero() || first.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}

	second, err := store.CreateRound(ctx, grant.Round{Name: "second"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	list, err := store.ListRounds(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}

	list[1].Criteria[0] = "mutated"
	got, err := store.GetRound(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Criteria[0] != "open source" {
		t.Fatalf("stored round mutated through list result")
	}

	got.Budget = 100
	updated, err := store.UpdateRound(ctx, got)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Budget != 100 || !updated.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("unexpected update result %+v", updated)
	}

	if _, err := store.GetRound(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.UpdateRound(ctx, grant.Round{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestApplicationsFilterByRound(t *testing.T) {
	ctx := context.Background()
	store := New()

	for _, roundID := range []string{"r1", "r2", "r1"} {
		if _, err := store.CreateApplication(ctx, grant.Application{RoundID: roundID, Status: grant.ApplicationPending}); err != nil {
			t.Fatalf("create application: %v", err)
		}
	}

	r1, _ := store.ListApplications(ctx, "r1")
	if len(r1) != 2 {
		t.Fatalf("expected 2 applications for r1, got %d", len(r1))
	}
	all, _ := store.ListApplications(ctx, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 applications, got %d", len(all))
	}

	app := all[0]
	app.RoundID = "elsewhere"
	app.Status = grant.ApplicationApproved
	updated, err := store.UpdateApplication(ctx, app)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.RoundID != "r1" {
		t.Fatalf("round id must not change on update, got %s", updated.RoundID)
	}
}

func TestAllocationUniquePerApplication(t *testing.T) {
	ctx := context.Background()
	store := New()

	alloc, err := store.CreateAllocation(ctx, grant.Allocation{RoundID: "r1", ApplicationID: "a1", Amount: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateAllocation(ctx, grant.Allocation{RoundID: "r1", ApplicationID: "a1", Amount: 5}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	now := time.Now().UTC()
	alloc.Distributed = true
	alloc.DistributedAt = &now
	alloc.Amount = 999
	updated, err := store.UpdateAllocation(ctx, alloc)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Amount != 5 {
		t.Fatalf("amount must be immutable, got %s", updated.Amount)
	}

	alloc.Distributed = false
	if _, err := store.UpdateAllocation(ctx, alloc); err == nil {
		t.Fatalf("expected error when reverting a distributed allocation")
	}

	list, _ := store.ListAllocations(ctx, "r1")
	if len(list) != 1 || !list[0].Distributed {
		t.Fatalf("unexpected allocations %+v", list)
	}
}

func TestDistributionsAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := New()

	d, err := store.CreateDistribution(ctx, grant.Distribution{RoundID: "r1", Payouts: []grant.Payout{{AllocationID: "x"}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateDistribution(ctx, grant.Distribution{ID: d.ID, RoundID: "r1"}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected duplicate id to fail, got %v", err)
	}
	list, _ := store.ListDistributions(ctx, "r1")
	if len(list) != 1 || len(list[0].Payouts) != 1 {
		t.Fatalf("unexpected distributions %+v", list)
	}
}

func TestFundingClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	store := New()

	claim, err := store.ClaimFunding(ctx, grant.Funding{TxHash: "0xabc", RoundID: "r1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Status != grant.FundingPending {
		t.Fatalf("expected pending, got %s", claim.Status)
	}
	if _, err := store.ClaimFunding(ctx, grant.Funding{TxHash: "0xabc", RoundID: "r2"}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected duplicate claim to fail, got %v", err)
	}

	if err := store.ReleaseFunding(ctx, "0xabc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.ClaimFunding(ctx, grant.Funding{TxHash: "0xabc", RoundID: "r1"}); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}

	if _, err := store.UpdateFunding(ctx, grant.Funding{TxHash: "0xabc", Amount: 10, Status: grant.FundingCredited}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.ReleaseFunding(ctx, "0xabc"); err == nil {
		t.Fatalf("expected credited funding to be permanent")
	}

	list, _ := store.ListFundings(ctx, "r1")
	if len(list) != 1 || list[0].Amount != 10 || list[0].RoundID != "r1" {
		t.Fatalf("unexpected fundings %+v", list)
	}
}
