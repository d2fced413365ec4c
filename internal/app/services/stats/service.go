// Package stats aggregates ledger figures across every round.
package stats

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/shipyard/internal/app/core/service"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
)

// GASDecimals is the number of fractional digits of one GAS.
const GASDecimals = 8

// RoundLister lists rounds with their effective status.
type RoundLister interface {
	ListRounds(ctx context.Context, status grant.RoundStatus) ([]grant.Round, error)
}

// ApplicationLister lists applications across rounds.
type ApplicationLister interface {
	ListApplications(ctx context.Context, roundID string, status grant.ApplicationStatus) ([]grant.Application, error)
}

// Totals are summed over all rounds in base units.
type Totals struct {
	Budget       grant.Amount `json:"budget"`
	Allocated    grant.Amount `json:"allocated"`
	Distributed  grant.Amount `json:"distributed"`
	NetPaid      grant.Amount `json:"net_paid"`
	FeesRetained grant.Amount `json:"fees_retained"`
}

// DisplayTotals carries Totals as GAS with fixed decimals.
type DisplayTotals struct {
	Budget       string `json:"budget"`
	Allocated    string `json:"allocated"`
	Distributed  string `json:"distributed"`
	NetPaid      string `json:"net_paid"`
	FeesRetained string `json:"fees_retained"`
}

// Snapshot is a point-in-time aggregate.
type Snapshot struct {
	Rounds       map[grant.RoundStatus]int       `json:"rounds"`
	RoundCount   int                             `json:"round_count"`
	Applications map[grant.ApplicationStatus]int `json:"applications"`
	AppCount     int                             `json:"application_count"`
	Totals       Totals                          `json:"totals"`
	TotalsGAS    DisplayTotals                   `json:"totals_gas"`
	GeneratedAt  time.Time                       `json:"generated_at"`
}

// Service computes snapshots on demand.
type Service struct {
	rounds       RoundLister
	applications ApplicationLister
	now          func() time.Time
}

// New constructs the stats service.
func New(rounds RoundLister, applications ApplicationLister) *Service {
	return &Service{
		rounds:       rounds,
		applications: applications,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Descriptor advertises the service for orchestration.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "stats",
		Domain:       "stats",
		Layer:        service.LayerReporting,
		Capabilities: []string{"stats"},
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Stats returns counts by status and summed totals. Every known status is
// present in the count maps, zero or not.
func (s *Service) Stats(ctx context.Context) (Snapshot, error) {
	rounds, err := s.rounds.ListRounds(ctx, "")
	if err != nil {
		return Snapshot{}, err
	}
	apps, err := s.applications.ListApplications(ctx, "", "")
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Rounds: map[grant.RoundStatus]int{
			grant.RoundOpen: 0, grant.RoundClosed: 0, grant.RoundDistributing: 0, grant.RoundCompleted: 0,
		},
		Applications: map[grant.ApplicationStatus]int{
			grant.ApplicationPending: 0, grant.ApplicationApproved: 0, grant.ApplicationRejected: 0,
		},
		RoundCount:  len(rounds),
		AppCount:    len(apps),
		GeneratedAt: s.now(),
	}

	for _, r := range rounds {
		snap.Rounds[r.Status]++
		t := &snap.Totals
		for _, pair := range []struct {
			dst *grant.Amount
			add grant.Amount
		}{
			{&t.Budget, r.Budget},
			{&t.Allocated, r.Allocated},
			{&t.Distributed, r.Distributed},
			{&t.NetPaid, r.NetPaid},
			{&t.FeesRetained, r.FeesRetained},
		} {
			sum, err := pair.dst.Add(pair.add)
			if err != nil {
				return Snapshot{}, svcerrors.Internal("sum round totals", err)
			}
			*pair.dst = sum
		}
	}
	for _, a := range apps {
		snap.Applications[a.Status]++
	}

	snap.TotalsGAS = DisplayTotals{
		Budget:       FormatGAS(snap.Totals.Budget),
		Allocated:    FormatGAS(snap.Totals.Allocated),
		Distributed:  FormatGAS(snap.Totals.Distributed),
		NetPaid:      FormatGAS(snap.Totals.NetPaid),
		FeesRetained: FormatGAS(snap.Totals.FeesRetained),
	}
	return snap, nil
}

// FormatGAS renders base units as GAS with eight decimals.
func FormatGAS(a grant.Amount) string {
	return decimal.NewFromBigInt(a.BigInt(), -GASDecimals).StringFixed(GASDecimals)
}
