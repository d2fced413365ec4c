package distribution

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/shipyard/internal/app/core/lock"
	"github.com/R3E-Network/shipyard/internal/app/core/service"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/metrics"
	"github.com/R3E-Network/shipyard/internal/app/storage"
	"github.com/R3E-Network/shipyard/internal/chain"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// Payer sends native currency to a recipient and returns the transaction
// reference. CanSign is false when no signing key is configured. An error
// returned together with a non-empty reference means the transfer was
// broadcast but its outcome is unknown.
type Payer interface {
	CanSign() bool
	SendPayment(ctx context.Context, to grant.Address, amount grant.Amount) (string, error)
}

// Confirmer looks up a broadcast transfer on chain.
type Confirmer interface {
	GetTransferReceipt(ctx context.Context, txHash string) (chain.TransferReceipt, error)
}

// RoundMutator gives the engine access to a round's totals.
type RoundMutator interface {
	GetRound(ctx context.Context, id string) (grant.Round, error)
	Mutate(ctx context.Context, id string, fn func(round *grant.Round) error) (grant.Round, error)
}

// Ledger exposes the allocations a run pays and records their settlement.
type Ledger interface {
	Pending(ctx context.Context, roundID string) ([]grant.Allocation, error)
	AwaitingConfirmation(ctx context.Context, roundID string) ([]grant.Allocation, error)
	MarkDistributed(ctx context.Context, id, paymentRef string, at time.Time) (grant.Allocation, error)
	MarkAwaitingConfirmation(ctx context.Context, id, paymentRef string) (grant.Allocation, error)
	ReleaseAwaiting(ctx context.Context, id string) (grant.Allocation, error)
}

const defaultPaymentTimeout = 2 * time.Minute

// held is a payout whose transfer left the treasury but whose allocation
// could not be updated in the ledger. Confirmed payouts are already counted
// in the round totals.
type held struct {
	roundID   string
	ref       string
	confirmed bool
}

// Service is the distribution engine.
type Service struct {
	rounds    RoundMutator
	ledger    Ledger
	store     storage.DistributionStore
	payer     Payer
	confirmer Confirmer
	runs      *lock.Keyed
	timeout   time.Duration
	now       func() time.Time
	log       *logger.Logger

	heldMu sync.Mutex
	held   map[string]held
}

// New constructs a distribution engine. A nil payer makes every run fail
// with PaymentsUnavailable.
func New(rounds RoundMutator, ledger Ledger, store storage.DistributionStore, payer Payer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("distribution")
	}
	return &Service{
		rounds:  rounds,
		ledger:  ledger,
		store:   store,
		payer:   payer,
		runs:    lock.NewKeyed(),
		timeout: defaultPaymentTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
		held:    make(map[string]held),
	}
}

// Descriptor advertises the service for orchestration.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "distribution",
		Domain:       "distribution",
		Layer:        service.LayerLedger,
		Capabilities: []string{"distribute", "payouts", "reconcile"},
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithPaymentTimeout bounds each outbound payment.
func (s *Service) WithPaymentTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithConfirmer lets runs settle transfers left unconfirmed by earlier runs.
// Without one, such allocations stay withheld.
func (s *Service) WithConfirmer(c Confirmer) *Service {
	s.confirmer = c
	return s
}

// Distribute pays every payable allocation of a round, net of the platform
// fee. Payments run one at a time in approval order; a failed payment is
// recorded in the run and leaves its allocation eligible for the next run,
// while a broadcast transfer with an unknown outcome withholds its allocation
// until it is confirmed. Runs on the same round never overlap, and the
// round's ledger lock is only taken to commit totals, never across a payment.
//
// Once started, a run finishes the payment in flight and records its results
// even if ctx is cancelled; cancellation only stops new payments.
func (s *Service) Distribute(ctx context.Context, roundID string) (grant.Distribution, error) {
	unlock := s.runs.Lock(roundID)
	defer unlock()

	round, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		return grant.Distribution{}, err
	}
	if s.payer == nil || !s.payer.CanSign() {
		return grant.Distribution{}, svcerrors.PaymentsUnavailable("payment signing key not configured")
	}

	requestCtx := ctx
	ctx = context.WithoutCancel(ctx)
	log := s.log.WithContext(ctx).WithField("round_id", round.ID)

	run := grant.Distribution{RoundID: round.ID}
	s.retryHeld(ctx, round.ID)
	for _, payout := range s.reconcile(ctx, round.ID) {
		run.Add(payout)
	}

	pending, err := s.ledger.Pending(ctx, round.ID)
	if err != nil {
		return grant.Distribution{}, err
	}
	pending = s.withoutHeld(pending)
	if len(pending) == 0 && len(run.Payouts) == 0 {
		return grant.Distribution{}, svcerrors.NothingToDistribute(round.ID)
	}

	log.WithField("allocations", len(pending)).Info("distribution started")
	for _, alloc := range pending {
		if err := requestCtx.Err(); err != nil {
			run.Add(skipped(alloc, err))
			continue
		}
		run.Add(s.pay(ctx, alloc))
	}

	updated, err := s.rounds.Mutate(ctx, round.ID, func(r *grant.Round) error {
		r.Distributed += run.GrossPaid
		r.NetPaid += run.NetPaid
		r.FeesRetained += run.GrossPaid - run.NetPaid
		r.Status = grant.SettledStatus(*r)
		return nil
	})
	if err != nil {
		// Payments already left the treasury; the record below still lists them.
		log.WithError(err).Error("commit distribution totals")
	}

	run.CreatedAt = s.now()
	recorded, storeErr := s.store.CreateDistribution(ctx, run)
	if storeErr != nil {
		log.WithError(storeErr).Error("record distribution run")
		recorded = run
	}
	if err != nil {
		return recorded, err
	}

	log.WithField("distribution_id", recorded.ID).
		WithField("succeeded", run.Succeeded).
		WithField("failed", run.Failed).
		WithField("unconfirmed", run.Unconfirmed).
		WithField("net_paid", run.NetPaid.String()).
		WithField("status", string(updated.Status)).
		Info("distribution finished")
	return recorded, nil
}

func newPayout(alloc grant.Allocation) grant.Payout {
	net, fee := grant.SplitFee(alloc.Amount)
	return grant.Payout{
		AllocationID:  alloc.ID,
		ApplicationID: alloc.ApplicationID,
		Recipient:     alloc.Recipient,
		Gross:         alloc.Amount,
		Fee:           fee,
		Net:           net,
	}
}

func skipped(alloc grant.Allocation, cause error) grant.Payout {
	payout := newPayout(alloc)
	payout.Error = "not attempted: " + cause.Error()
	return payout
}

// pay attempts one payout and reports its outcome. It never returns an error:
// failures are carried in the payout.
func (s *Service) pay(ctx context.Context, alloc grant.Allocation) grant.Payout {
	payout := newPayout(alloc)
	log := s.log.WithContext(ctx).
		WithField("round_id", alloc.RoundID).
		WithField("allocation_id", alloc.ID).
		WithField("amount", payout.Net.String())

	payCtx, cancel := context.WithTimeout(ctx, s.timeout)
	started := time.Now()
	ref, err := s.payer.SendPayment(payCtx, alloc.Recipient, payout.Net)
	cancel()
	metrics.RecordPayout(err == nil, payout.Net.Uint64(), time.Since(started))

	switch {
	case err != nil && ref == "":
		payout.Error = err.Error()
		log.WithError(err).Warn("payout failed")
		return payout
	case err != nil:
		payout.Unconfirmed = true
		payout.PaymentReference = ref
		payout.Error = err.Error()
		log = log.WithField("tx_hash", ref)
		log.WithError(err).Warn("payout broadcast but unconfirmed")
		if _, markErr := s.ledger.MarkAwaitingConfirmation(ctx, alloc.ID, ref); markErr != nil {
			s.hold(alloc, ref, false)
			log.WithError(markErr).Error("mark allocation awaiting confirmation")
		}
		return payout
	}

	payout.Success = true
	payout.PaymentReference = ref
	if _, err := s.ledger.MarkDistributed(ctx, alloc.ID, ref, s.now()); err != nil {
		// The transfer is on chain; withhold the allocation until it is marked.
		s.hold(alloc, ref, true)
		payout.Error = "payment sent but allocation not marked: " + err.Error()
		log.WithError(err).WithField("tx_hash", ref).Error("mark allocation distributed")
		return payout
	}
	log.WithField("tx_hash", ref).Info("payout sent")
	return payout
}

// reconcile settles allocations whose transfer was left unconfirmed by an
// earlier run. Confirmed transfers become successful payouts of this run;
// faulted ones make their allocation payable again.
func (s *Service) reconcile(ctx context.Context, roundID string) []grant.Payout {
	awaiting, err := s.ledger.AwaitingConfirmation(ctx, roundID)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("list allocations awaiting confirmation")
		return nil
	}
	if len(awaiting) == 0 {
		return nil
	}
	if s.confirmer == nil {
		s.log.WithContext(ctx).WithField("round_id", roundID).WithField("allocations", len(awaiting)).
			Warn("unconfirmed payouts withheld; no chain reader configured")
		return nil
	}

	var settled []grant.Payout
	for _, alloc := range awaiting {
		if s.isHeld(alloc.ID) {
			continue
		}
		log := s.log.WithContext(ctx).WithField("allocation_id", alloc.ID).WithField("tx_hash", alloc.PaymentReference)
		receipt, err := s.confirmer.GetTransferReceipt(ctx, alloc.PaymentReference)
		if err != nil {
			log.WithError(err).Info("transfer still unconfirmed")
			continue
		}
		if !receipt.Succeeded {
			if _, err := s.ledger.ReleaseAwaiting(ctx, alloc.ID); err != nil {
				log.WithError(err).Error("release faulted payout")
				continue
			}
			log.WithField("vm_state", receipt.VMState).Warn("transfer faulted; allocation payable again")
			continue
		}

		payout := newPayout(alloc)
		payout.Success = true
		payout.Reconciled = true
		payout.PaymentReference = alloc.PaymentReference
		if _, err := s.ledger.MarkDistributed(ctx, alloc.ID, alloc.PaymentReference, s.now()); err != nil {
			s.hold(alloc, alloc.PaymentReference, true)
			payout.Error = "payment confirmed but allocation not marked: " + err.Error()
			log.WithError(err).Error("mark reconciled allocation distributed")
		} else {
			log.Info("unconfirmed payout confirmed")
		}
		settled = append(settled, payout)
	}
	return settled
}

func (s *Service) hold(alloc grant.Allocation, ref string, confirmed bool) {
	s.heldMu.Lock()
	defer s.heldMu.Unlock()
	s.held[alloc.ID] = held{roundID: alloc.RoundID, ref: ref, confirmed: confirmed}
}

// retryHeld writes back ledger updates that failed after money moved.
func (s *Service) retryHeld(ctx context.Context, roundID string) {
	s.heldMu.Lock()
	defer s.heldMu.Unlock()
	for id, h := range s.held {
		if h.roundID != roundID {
			continue
		}
		var err error
		if h.confirmed {
			_, err = s.ledger.MarkDistributed(ctx, id, h.ref, s.now())
		} else {
			_, err = s.ledger.MarkAwaitingConfirmation(ctx, id, h.ref)
		}
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("allocation_id", id).Warn("ledger update still failing")
			continue
		}
		delete(s.held, id)
	}
}

func (s *Service) isHeld(id string) bool {
	s.heldMu.Lock()
	defer s.heldMu.Unlock()
	_, ok := s.held[id]
	return ok
}

func (s *Service) withoutHeld(allocs []grant.Allocation) []grant.Allocation {
	s.heldMu.Lock()
	defer s.heldMu.Unlock()
	out := allocs[:0]
	for _, a := range allocs {
		if _, ok := s.held[a.ID]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// ListDistributions returns a round's distribution runs, newest first.
func (s *Service) ListDistributions(ctx context.Context, roundID string) ([]grant.Distribution, error) {
	if _, err := s.rounds.GetRound(ctx, roundID); err != nil {
		return nil, err
	}
	runs, err := s.store.ListDistributions(ctx, roundID)
	if err != nil {
		return nil, svcerrors.Internal("list distributions", err)
	}
	return runs, nil
}
