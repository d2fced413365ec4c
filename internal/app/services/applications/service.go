package applications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/R3E-Network/shipyard/internal/app/core/service"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/storage"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// RoundReader resolves the owning round of an application with its effective
// status applied.
type RoundReader interface {
	GetRound(ctx context.Context, id string) (grant.Round, error)
}

// CreateInput carries the caller-supplied fields of a new application.
// RequestedAmount is the raw decimal string; empty means zero.
type CreateInput struct {
	RoundID         string
	Applicant       string
	ProjectName     string
	Description     string
	RequestedAmount string
	Links           []string
}

// Service is the application registry.
type Service struct {
	rounds RoundReader
	store  storage.ApplicationStore
	now    func() time.Time
	log    *logger.Logger
}

// New constructs an application registry.
func New(rounds RoundReader, store storage.ApplicationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("applications")
	}
	return &Service{
		rounds: rounds,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log,
	}
}

// Descriptor advertises the service for orchestration.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "applications",
		Domain:       "applications",
		Layer:        service.LayerLedger,
		Capabilities: []string{"applications"},
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateApplication submits a funding request to an open round.
func (s *Service) CreateApplication(ctx context.Context, in CreateInput) (grant.Application, error) {
	round, err := s.rounds.GetRound(ctx, in.RoundID)
	if err != nil {
		return grant.Application{}, err
	}
	if round.Status != grant.RoundOpen {
		return grant.Application{}, svcerrors.InvalidState("round is not accepting applications").
			WithDetails("round_id", round.ID).
			WithDetails("status", string(round.Status))
	}

	if strings.TrimSpace(in.Applicant) == "" {
		return grant.Application{}, svcerrors.InvalidInput("applicant is required")
	}
	applicant, err := grant.ParseAddress(in.Applicant)
	if err != nil {
		return grant.Application{}, svcerrors.InvalidInput(err.Error()).WithDetails("field", "applicant")
	}
	projectName := strings.TrimSpace(in.ProjectName)
	if projectName == "" {
		return grant.Application{}, svcerrors.InvalidInput("project_name is required")
	}

	var requested grant.Amount
	if raw := strings.TrimSpace(in.RequestedAmount); raw != "" {
		requested, err = grant.ParseAmount(raw)
		if err != nil {
			return grant.Application{}, svcerrors.InvalidAmount(in.RequestedAmount, err)
		}
	}

	links := make([]string, 0, len(in.Links))
	for _, l := range in.Links {
		if l = strings.TrimSpace(l); l != "" {
			links = append(links, l)
		}
	}

	created, err := s.store.CreateApplication(ctx, grant.Application{
		RoundID:         round.ID,
		Applicant:       applicant,
		ProjectName:     projectName,
		Description:     strings.TrimSpace(in.Description),
		RequestedAmount: requested,
		Links:           links,
		Status:          grant.ApplicationPending,
		CreatedAt:       s.now(),
	})
	if err != nil {
		return grant.Application{}, svcerrors.Internal("create application", err)
	}

	s.log.WithContext(ctx).
		WithField("round_id", round.ID).
		WithField("application_id", created.ID).
		WithField("amount", requested.String()).
		Info("application submitted")
	return created, nil
}

// GetApplication returns an application by id.
func (s *Service) GetApplication(ctx context.Context, id string) (grant.Application, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return grant.Application{}, svcerrors.InvalidInput("application id is required")
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return grant.Application{}, svcerrors.NotFound("application", id)
		}
		return grant.Application{}, svcerrors.Internal("get application", err)
	}
	return app, nil
}

// ListApplications returns applications newest first. An empty roundID spans
// every round; a non-empty one must exist. An empty status matches all.
func (s *Service) ListApplications(ctx context.Context, roundID string, status grant.ApplicationStatus) ([]grant.Application, error) {
	roundID = strings.TrimSpace(roundID)
	if roundID != "" {
		if _, err := s.rounds.GetRound(ctx, roundID); err != nil {
			return nil, err
		}
	}

	apps, err := s.store.ListApplications(ctx, roundID)
	if err != nil {
		return nil, svcerrors.Internal("list applications", err)
	}
	if status == "" {
		return apps, nil
	}
	filtered := apps[:0]
	for _, app := range apps {
		if app.Status == status {
			filtered = append(filtered, app)
		}
	}
	return filtered, nil
}

// Record persists a decided application. It is called by the allocation
// ledger while it holds the owning round's lock.
func (s *Service) Record(ctx context.Context, app grant.Application) (grant.Application, error) {
	updated, err := s.store.UpdateApplication(ctx, app)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return grant.Application{}, svcerrors.NotFound("application", app.ID)
		}
		return grant.Application{}, svcerrors.Internal("update application", err)
	}
	return updated, nil
}
