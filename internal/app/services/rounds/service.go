package rounds

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/R3E-Network/shipyard/internal/app/core/lock"
	"github.com/R3E-Network/shipyard/internal/app/core/service"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/metrics"
	"github.com/R3E-Network/shipyard/internal/app/storage"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// Authorizer reports whether an address may act as a round approver.
type Authorizer interface {
	IsAllowed(ctx context.Context, address grant.Address) bool
}

// CreateInput carries the caller-supplied fields of a new round. A nil
// DurationDays selects grant.DefaultDurationDays.
type CreateInput struct {
	Name         string
	Description  string
	Approver     string
	Criteria     []string
	DurationDays *int
}

// Service is the round registry. It owns the budget, allocated and
// distributed totals of every round and serialises mutations per round.
type Service struct {
	store      storage.RoundStore
	locks      *lock.Keyed
	authorizer Authorizer
	days       int
	now        func() time.Time
	log        *logger.Logger
}

// New constructs a round registry.
func New(store storage.RoundStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rounds")
	}
	return &Service{
		store: store,
		locks: lock.NewKeyed(),
		days:  grant.DefaultDurationDays,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log,
	}
}

// Descriptor advertises the service for orchestration.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "rounds",
		Domain:       "rounds",
		Layer:        service.LayerLedger,
		Capabilities: []string{"rounds", "budget"},
	}
}

// AttachAuthorizer makes round creation require an allowed approver.
func (s *Service) AttachAuthorizer(a Authorizer) {
	s.authorizer = a
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithDefaultDuration sets the duration of rounds created without one.
func (s *Service) WithDefaultDuration(days int) *Service {
	if days > 0 {
		s.days = days
	}
	return s
}

// Now returns the registry's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// CreateRound registers a new open round with a zero budget.
func (s *Service) CreateRound(ctx context.Context, in CreateInput) (grant.Round, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return grant.Round{}, svcerrors.InvalidInput("name is required")
	}
	if strings.TrimSpace(in.Approver) == "" {
		return grant.Round{}, svcerrors.InvalidInput("approver is required")
	}
	approver, err := grant.ParseAddress(in.Approver)
	if err != nil {
		return grant.Round{}, svcerrors.InvalidInput(err.Error()).WithDetails("field", "approver")
	}

	days := s.days
	if in.DurationDays != nil {
		days = *in.DurationDays
	}
	if days <= 0 {
		return grant.Round{}, svcerrors.InvalidInput("duration_days must be positive")
	}

	if s.authorizer != nil && !s.authorizer.IsAllowed(ctx, approver) {
		return grant.Round{}, svcerrors.Forbidden("approver is not on the allow-list")
	}

	criteria := make([]string, 0, len(in.Criteria))
	for _, c := range in.Criteria {
		if c = strings.TrimSpace(c); c != "" {
			criteria = append(criteria, c)
		}
	}

	now := s.now()
	created, err := s.store.CreateRound(ctx, grant.Round{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Approver:    approver,
		Criteria:    criteria,
		StartTime:   now,
		EndTime:     now.Add(time.Duration(days) * 24 * time.Hour),
		Status:      grant.RoundOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return grant.Round{}, svcerrors.Internal("create round", err)
	}

	metrics.RecordRoundCreated()
	s.log.WithContext(ctx).WithField("round_id", created.ID).Infof("round %q created, closes %s", created.Name, created.EndTime.Format(time.RFC3339))
	return created, nil
}

// GetRound returns a round with its effective status applied.
func (s *Service) GetRound(ctx context.Context, id string) (grant.Round, error) {
	round, err := s.load(ctx, id)
	if err != nil {
		return grant.Round{}, err
	}
	return s.expire(ctx, round)
}

// ListRounds returns rounds newest first, optionally filtered by effective
// status. Open rounds past their end time are persisted as closed.
func (s *Service) ListRounds(ctx context.Context, status grant.RoundStatus) ([]grant.Round, error) {
	rounds, err := s.store.ListRounds(ctx)
	if err != nil {
		return nil, svcerrors.Internal("list rounds", err)
	}

	result := make([]grant.Round, 0, len(rounds))
	for _, round := range rounds {
		round, err = s.expire(ctx, round)
		if err != nil {
			return nil, err
		}
		if status != "" && round.Status != status {
			continue
		}
		result = append(result, round)
	}
	return result, nil
}

// CreditBudget adds amount to the round's budget.
func (s *Service) CreditBudget(ctx context.Context, id string, amount grant.Amount) (grant.Round, error) {
	updated, err := s.Mutate(ctx, id, func(round *grant.Round) error {
		budget, err := round.Budget.Add(amount)
		if err != nil {
			return svcerrors.InvalidAmount(amount.String(), err)
		}
		round.Budget = budget
		return nil
	})
	if err != nil {
		return grant.Round{}, err
	}

	metrics.RecordBudgetCredit(amount.Uint64())
	s.log.WithContext(ctx).WithField("round_id", id).WithField("amount", amount.String()).Info("round budget credited")
	return updated, nil
}

// Mutate runs fn against the current state of a round while holding that
// round's lock, then persists the result. fn sees the effective status and
// may touch other stores; nothing is persisted when it returns an error.
func (s *Service) Mutate(ctx context.Context, id string, fn func(round *grant.Round) error) (grant.Round, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	round, err := s.load(ctx, id)
	if err != nil {
		return grant.Round{}, err
	}
	now := s.now()
	round.Status = grant.EffectiveStatus(round, now)

	if err := fn(&round); err != nil {
		return grant.Round{}, err
	}
	if round.Allocated > round.Budget || round.Distributed > round.Allocated {
		return grant.Round{}, svcerrors.Internal("round totals out of order", nil).WithDetails("round_id", id)
	}

	round.UpdatedAt = now
	updated, err := s.store.UpdateRound(ctx, round)
	if err != nil {
		return grant.Round{}, svcerrors.Internal("update round", err)
	}
	return updated, nil
}

func (s *Service) load(ctx context.Context, id string) (grant.Round, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return grant.Round{}, svcerrors.InvalidInput("round id is required")
	}
	round, err := s.store.GetRound(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return grant.Round{}, svcerrors.NotFound("round", id)
		}
		return grant.Round{}, svcerrors.Internal("get round", err)
	}
	return round, nil
}

// expire persists the open to closed transition when the round has ended.
func (s *Service) expire(ctx context.Context, round grant.Round) (grant.Round, error) {
	if grant.EffectiveStatus(round, s.now()) == round.Status {
		return round, nil
	}
	updated, err := s.Mutate(ctx, round.ID, func(*grant.Round) error { return nil })
	if err != nil {
		return grant.Round{}, err
	}
	s.log.WithContext(ctx).WithField("round_id", round.ID).Info("round closed after end time")
	return updated, nil
}
