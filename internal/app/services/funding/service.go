package funding

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/shipyard/internal/app/core/service"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/metrics"
	"github.com/R3E-Network/shipyard/internal/app/storage"
	"github.com/R3E-Network/shipyard/internal/chain"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// TransferReader looks up the GAS movements of an executed transaction.
type TransferReader interface {
	GetTransferReceipt(ctx context.Context, txHash string) (chain.TransferReceipt, error)
}

// RoundCreditor is the part of the round registry that funding touches.
type RoundCreditor interface {
	GetRound(ctx context.Context, id string) (grant.Round, error)
	CreditBudget(ctx context.Context, id string, amount grant.Amount) (grant.Round, error)
}

// Service is the funding verifier. It credits a round's budget with the GAS a
// transaction sent to the treasury, at most once per transaction.
type Service struct {
	rounds   RoundCreditor
	reader   TransferReader
	store    storage.FundingStore
	treasury grant.Address
	now      func() time.Time
	log      *logger.Logger
}

// New constructs a funding verifier for the given treasury.
func New(rounds RoundCreditor, reader TransferReader, store storage.FundingStore, treasury grant.Address, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("funding")
	}
	return &Service{
		rounds:   rounds,
		reader:   reader,
		store:    store,
		treasury: treasury,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Descriptor advertises the service for orchestration.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "funding",
		Domain:       "funding",
		Layer:        service.LayerCollaborator,
		Capabilities: []string{"verify-transfer", "credit-budget"},
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Treasury returns the address funding transfers must be sent to.
func (s *Service) Treasury() grant.Address { return s.treasury }

// VerifyAndCredit confirms that txHash moved GAS to the treasury and credits
// the transferred value to the round. The hash is claimed before the chain is
// queried so concurrent submissions of the same transaction cannot both
// credit; the claim is released if verification fails.
func (s *Service) VerifyAndCredit(ctx context.Context, roundID, txHash string) (grant.Round, error) {
	round, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		return grant.Round{}, err
	}
	if strings.TrimSpace(txHash) == "" {
		return grant.Round{}, svcerrors.InvalidInput("tx_hash is required")
	}
	hash, err := NormalizeTxHash(txHash)
	if err != nil {
		return grant.Round{}, svcerrors.InvalidInput(err.Error()).WithDetails("field", "tx_hash")
	}
	if s.reader == nil || s.treasury == "" {
		return grant.Round{}, svcerrors.Internal("funding verification is not configured", nil)
	}

	log := s.log.WithContext(ctx).WithField("round_id", round.ID).WithField("tx_hash", hash)

	if _, err := s.store.ClaimFunding(ctx, grant.Funding{TxHash: hash, RoundID: round.ID, CreatedAt: s.now()}); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			metrics.RecordFunding("duplicate")
			return grant.Round{}, svcerrors.DuplicateTransaction(hash)
		}
		return grant.Round{}, svcerrors.Internal("claim funding", err)
	}

	amount, err := s.verify(ctx, hash)
	if err != nil {
		s.release(ctx, hash)
		log.WithError(err).Warn("funding verification failed")
		return grant.Round{}, err
	}

	updated, err := s.rounds.CreditBudget(ctx, round.ID, amount)
	if err != nil {
		s.release(ctx, hash)
		return grant.Round{}, err
	}

	if _, err := s.store.UpdateFunding(ctx, grant.Funding{TxHash: hash, Amount: amount, Status: grant.FundingCredited}); err != nil {
		log.WithError(err).Error("mark funding credited")
	}
	metrics.RecordFunding("credited")
	log.WithField("amount", amount.String()).Info("funding verified")
	return updated, nil
}

func (s *Service) verify(ctx context.Context, hash string) (grant.Amount, error) {
	receipt, err := s.reader.GetTransferReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, chain.ErrTransactionNotFound) {
			metrics.RecordFunding("not_found")
			return 0, svcerrors.TransactionNotFound(hash, err)
		}
		metrics.RecordFunding("error")
		return 0, svcerrors.Internal("query transaction", err)
	}
	if !receipt.Succeeded {
		metrics.RecordFunding("not_found")
		return 0, svcerrors.TransactionNotFound(hash, nil).WithDetails("vm_state", receipt.VMState)
	}

	amount, found, err := receipt.AmountTo(s.treasury)
	if err != nil {
		metrics.RecordFunding("error")
		return 0, svcerrors.InvalidAmount("sum of transfers", err)
	}
	if !found {
		metrics.RecordFunding("wrong_recipient")
		return 0, svcerrors.WrongRecipient(hash, s.treasury.String())
	}
	return amount, nil
}

func (s *Service) release(ctx context.Context, hash string) {
	if err := s.store.ReleaseFunding(ctx, hash); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("tx_hash", hash).Error("release funding claim")
	}
}

// ListFundings returns the funding claims of a round, newest first.
func (s *Service) ListFundings(ctx context.Context, roundID string) ([]grant.Funding, error) {
	if _, err := s.rounds.GetRound(ctx, roundID); err != nil {
		return nil, err
	}
	fundings, err := s.store.ListFundings(ctx, roundID)
	if err != nil {
		return nil, svcerrors.Internal("list fundings", err)
	}
	return fundings, nil
}

// NormalizeTxHash returns the canonical 0x-prefixed lowercase form of a
// transaction hash.
func NormalizeTxHash(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "0x")
	h, err := util.Uint256DecodeStringLE(s)
	if err != nil {
		return "", errors.New("tx_hash must be 64 hex digits")
	}
	return "0x" + h.StringLE(), nil
}
