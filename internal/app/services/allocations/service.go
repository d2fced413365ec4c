package allocations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/R3E-Network/shipyard/internal/app/core/service"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/metrics"
	"github.com/R3E-Network/shipyard/internal/app/storage"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// RoundMutator gives the ledger exclusive access to a round's totals.
type RoundMutator interface {
	GetRound(ctx context.Context, id string) (grant.Round, error)
	Mutate(ctx context.Context, id string, fn func(round *grant.Round) error) (grant.Round, error)
}

// ApplicationRegistry loads and records applications.
type ApplicationRegistry interface {
	GetApplication(ctx context.Context, id string) (grant.Application, error)
	Record(ctx context.Context, app grant.Application) (grant.Application, error)
}

// DecideInput is an approver's verdict on an application. Amount is the raw
// decimal string and is only read when Approved is set.
type DecideInput struct {
	ApplicationID string
	Actor         string
	Approved      bool
	Amount        string
}

// Decision is the result of Decide. Allocation is nil for rejections.
type Decision struct {
	Application grant.Application `json:"application"`
	Allocation  *grant.Allocation `json:"allocation,omitempty"`
	Round       grant.Round       `json:"round"`
}

// Service is the allocation ledger: the only writer of round.Allocated.
type Service struct {
	rounds       RoundMutator
	applications ApplicationRegistry
	store        storage.AllocationStore
	now          func() time.Time
	log          *logger.Logger
}

// New constructs an allocation ledger.
func New(rounds RoundMutator, applications ApplicationRegistry, store storage.AllocationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("allocations")
	}
	return &Service{
		rounds:       rounds,
		applications: applications,
		store:        store,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// Descriptor advertises the service for orchestration.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "allocations",
		Domain:       "allocations",
		Layer:        service.LayerLedger,
		Capabilities: []string{"decide", "allocations"},
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Decide records the round approver's verdict on an application. Approval
// reserves Amount from the round's remaining budget; the budget check, the
// allocation insert and the round update happen under the round's lock so
// concurrent approvals can never overspend. An application is decided once.
func (s *Service) Decide(ctx context.Context, in DecideInput) (Decision, error) {
	app, err := s.applications.GetApplication(ctx, in.ApplicationID)
	if err != nil {
		return Decision{}, err
	}
	if strings.TrimSpace(in.Actor) == "" {
		return Decision{}, svcerrors.InvalidInput("actor is required")
	}
	actor, err := grant.ParseAddress(in.Actor)
	if err != nil {
		return Decision{}, svcerrors.InvalidInput(err.Error()).WithDetails("field", "actor")
	}
	ctx = logger.WithActor(ctx, actor.String())

	var (
		decision Decision
		amount   grant.Amount
	)
	round, err := s.rounds.Mutate(ctx, app.RoundID, func(round *grant.Round) error {
		if round.Approver != actor {
			return svcerrors.Forbidden("only the round approver may decide applications").
				WithDetails("round_id", round.ID)
		}

		// Re-read under the lock: a concurrent decision may have landed.
		current, err := s.applications.GetApplication(ctx, app.ID)
		if err != nil {
			return err
		}
		if current.Decided() {
			return svcerrors.InvalidState("application already decided").
				WithDetails("application_id", current.ID).
				WithDetails("status", string(current.Status))
		}

		now := s.now()
		current.DecidedAt = &now

		if !in.Approved {
			current.Status = grant.ApplicationRejected
			recorded, err := s.applications.Record(ctx, current)
			if err != nil {
				return err
			}
			decision.Application = recorded
			return nil
		}

		amount, err = grant.ParseAmount(in.Amount)
		if err != nil {
			return svcerrors.InvalidAmount(in.Amount, err)
		}
		remaining := round.Remaining()
		if amount > remaining {
			return svcerrors.InsufficientBudget(remaining.String(), amount.String()).
				WithDetails("round_id", round.ID)
		}

		alloc, err := s.store.CreateAllocation(ctx, grant.Allocation{
			RoundID:       round.ID,
			ApplicationID: current.ID,
			Recipient:     current.Applicant,
			Amount:        amount,
			CreatedAt:     now,
		})
		if err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return svcerrors.InvalidState("application already has an allocation").
					WithDetails("application_id", current.ID)
			}
			return svcerrors.Internal("create allocation", err)
		}

		current.Status = grant.ApplicationApproved
		current.AllocatedAmount = amount
		recorded, err := s.applications.Record(ctx, current)
		if err != nil {
			return err
		}

		round.Allocated += amount
		if round.Status == grant.RoundCompleted {
			round.Status = grant.SettledStatus(*round)
		}
		decision.Application = recorded
		decision.Allocation = &alloc
		return nil
	})
	if err != nil {
		if svcerrors.HasCode(err, svcerrors.CodeInsufficientBudget) || svcerrors.HasCode(err, svcerrors.CodeForbidden) ||
			svcerrors.HasCode(err, svcerrors.CodeInvalidState) {
			metrics.RecordDecision("refused")
		}
		return Decision{}, err
	}
	decision.Round = round

	entry := s.log.WithContext(ctx).
		WithField("round_id", round.ID).
		WithField("application_id", app.ID)
	if decision.Allocation != nil {
		metrics.RecordDecision("approved")
		entry.WithField("amount", amount.String()).
			WithField("allocated", round.Allocated.String()).
			Info("allocation approved")
	} else {
		metrics.RecordDecision("rejected")
		entry.Info("application rejected")
	}
	return decision, nil
}

// GetAllocation returns an allocation by id.
func (s *Service) GetAllocation(ctx context.Context, id string) (grant.Allocation, error) {
	alloc, err := s.store.GetAllocation(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return grant.Allocation{}, svcerrors.NotFound("allocation", id)
		}
		return grant.Allocation{}, svcerrors.Internal("get allocation", err)
	}
	return alloc, nil
}

// ListAllocations returns the allocations of a round, newest first.
func (s *Service) ListAllocations(ctx context.Context, roundID string) ([]grant.Allocation, error) {
	if _, err := s.rounds.GetRound(ctx, roundID); err != nil {
		return nil, err
	}
	allocs, err := s.store.ListAllocations(ctx, roundID)
	if err != nil {
		return nil, svcerrors.Internal("list allocations", err)
	}
	return allocs, nil
}

// Pending returns the payable allocations of a round in the order they were
// approved.
func (s *Service) Pending(ctx context.Context, roundID string) ([]grant.Allocation, error) {
	allocs, err := s.store.ListAllocations(ctx, roundID)
	if err != nil {
		return nil, svcerrors.Internal("list allocations", err)
	}
	pending := make([]grant.Allocation, 0, len(allocs))
	for i := len(allocs) - 1; i >= 0; i-- {
		if allocs[i].Payable() {
			pending = append(pending, allocs[i])
		}
	}
	return pending, nil
}

// MarkDistributed flips an allocation to distributed with its payment
// reference, clearing any pending confirmation. An allocation is marked at
// most once.
func (s *Service) MarkDistributed(ctx context.Context, id, paymentRef string, at time.Time) (grant.Allocation, error) {
	alloc, err := s.GetAllocation(ctx, id)
	if err != nil {
		return grant.Allocation{}, err
	}
	if alloc.Distributed {
		return grant.Allocation{}, svcerrors.InvalidState("allocation already distributed").WithDetails("allocation_id", id)
	}
	alloc.Distributed = true
	alloc.DistributedAt = &at
	alloc.AwaitingConfirmation = false
	alloc.PaymentReference = paymentRef
	return s.update(ctx, alloc)
}

// AwaitingConfirmation returns the allocations of a round whose payment was
// broadcast but not yet confirmed, in the order they were approved.
func (s *Service) AwaitingConfirmation(ctx context.Context, roundID string) ([]grant.Allocation, error) {
	allocs, err := s.store.ListAllocations(ctx, roundID)
	if err != nil {
		return nil, svcerrors.Internal("list allocations", err)
	}
	var awaiting []grant.Allocation
	for i := len(allocs) - 1; i >= 0; i-- {
		if allocs[i].AwaitingConfirmation && !allocs[i].Distributed {
			awaiting = append(awaiting, allocs[i])
		}
	}
	return awaiting, nil
}

// MarkAwaitingConfirmation records a broadcast transfer whose outcome is
// unknown. The allocation is withheld from payment until the transfer is
// confirmed or known to have failed.
func (s *Service) MarkAwaitingConfirmation(ctx context.Context, id, paymentRef string) (grant.Allocation, error) {
	alloc, err := s.GetAllocation(ctx, id)
	if err != nil {
		return grant.Allocation{}, err
	}
	if alloc.Distributed {
		return grant.Allocation{}, svcerrors.InvalidState("allocation already distributed").WithDetails("allocation_id", id)
	}
	alloc.AwaitingConfirmation = true
	alloc.PaymentReference = paymentRef
	return s.update(ctx, alloc)
}

// ReleaseAwaiting makes an allocation payable again after its transfer was
// found to have faulted on chain.
func (s *Service) ReleaseAwaiting(ctx context.Context, id string) (grant.Allocation, error) {
	alloc, err := s.GetAllocation(ctx, id)
	if err != nil {
		return grant.Allocation{}, err
	}
	if alloc.Distributed || !alloc.AwaitingConfirmation {
		return grant.Allocation{}, svcerrors.InvalidState("allocation is not awaiting confirmation").WithDetails("allocation_id", id)
	}
	alloc.AwaitingConfirmation = false
	alloc.PaymentReference = ""
	return s.update(ctx, alloc)
}

func (s *Service) update(ctx context.Context, alloc grant.Allocation) (grant.Allocation, error) {
	updated, err := s.store.UpdateAllocation(ctx, alloc)
	if err != nil {
		return grant.Allocation{}, svcerrors.Internal("update allocation", err)
	}
	return updated, nil
}
