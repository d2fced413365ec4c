package funding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/services/rounds"
	"github.com/R3E-Network/shipyard/internal/app/storage/memory"
	"github.com/R3E-Network/shipyard/internal/chain"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/pkg/testutil"
)

var treasury = testutil.Address(0xee)

func txHash(seed string) string {
	return "0x" + strings.Repeat(seed, 64/len(seed))
}

func setup(t *testing.T) (*Service, *rounds.Service, *testutil.MockTransferReader, grant.Round) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	store := memory.New()
	roundSvc := rounds.New(store, nil).WithClock(clock.Now)
	reader := testutil.NewMockTransferReader()

	round, err := roundSvc.CreateRound(context.Background(), rounds.CreateInput{Name: "fund me", Approver: string(testutil.Address(1))})
	require.NoError(t, err)
	return New(roundSvc, reader, store, treasury, nil).WithClock(clock.Now), roundSvc, reader, round
}

func TestVerifyAndCredit(t *testing.T) {
	svc, roundSvc, reader, round := setup(t)
	hash := txHash("ab")
	reader.AddTransfer(hash, treasury, 10)

	updated, err := svc.VerifyAndCredit(context.Background(), round.ID, strings.ToUpper(strings.TrimPrefix(hash, "0x")))
	require.NoError(t, err)
	assert.Equal(t, grant.Amount(10), updated.Budget)

	got, err := roundSvc.GetRound(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Equal(t, grant.Amount(10), got.Budget)

	fundings, err := svc.ListFundings(context.Background(), round.ID)
	require.NoError(t, err)
	require.Len(t, fundings, 1)
	assert.Equal(t, hash, fundings[0].TxHash)
	assert.Equal(t, grant.FundingCredited, fundings[0].Status)
	assert.Equal(t, grant.Amount(10), fundings[0].Amount)
}

func TestVerifyAndCreditSumsTreasuryTransfers(t *testing.T) {
	svc, _, reader, round := setup(t)
	hash := txHash("cd")
	reader.AddReceipt(chain.TransferReceipt{
		TxHash:    hash,
		VMState:   "HALT",
		Succeeded: true,
		Transfers: []chain.Transfer{
			{To: treasury, Amount: 7},
			{To: testutil.Address(0x01), Amount: 100},
			{To: treasury, Amount: 3},
		},
	})

	updated, err := svc.VerifyAndCredit(context.Background(), round.ID, hash)
	require.NoError(t, err)
	assert.Equal(t, grant.Amount(10), updated.Budget)
}

func TestVerifyAndCreditRejectsDuplicates(t *testing.T) {
	svc, _, reader, round := setup(t)
	hash := txHash("12")
	reader.AddTransfer(hash, treasury, 5)

	_, err := svc.VerifyAndCredit(context.Background(), round.ID, hash)
	require.NoError(t, err)

	updated, err := svc.VerifyAndCredit(context.Background(), round.ID, hash)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeDuplicateTransaction), "got %v", err)
	assert.Zero(t, updated.Budget)
	assert.Equal(t, 1, reader.Calls(), "duplicates are refused before the chain is queried")
}

func TestVerifyAndCreditConcurrentDuplicates(t *testing.T) {
	svc, roundSvc, reader, round := setup(t)
	hash := txHash("34")
	reader.AddTransfer(hash, treasury, 5)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.VerifyAndCredit(context.Background(), round.ID, hash)
		}()
	}
	wg.Wait()

	got, err := roundSvc.GetRound(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Equal(t, grant.Amount(5), got.Budget)
}

func TestVerifyAndCreditFailures(t *testing.T) {
	svc, roundSvc, reader, round := setup(t)

	faulted := txHash("56")
	reader.AddReceipt(chain.TransferReceipt{TxHash: faulted, VMState: "FAULT", Transfers: []chain.Transfer{{To: treasury, Amount: 9}}})
	elsewhere := txHash("78")
	reader.AddTransfer(elsewhere, testutil.Address(0x02), 9)
	broken := txHash("9a")
	reader.FailWith(broken, errors.New("connection refused"))

	tests := []struct {
		name  string
		round string
		hash  string
		code  svcerrors.Code
	}{
		{"unknown round", "missing", txHash("ab"), svcerrors.CodeNotFound},
		{"missing hash", round.ID, " ", svcerrors.CodeInvalidInput},
		{"malformed hash", round.ID, "0x1234", svcerrors.CodeInvalidInput},
		{"unknown transaction", round.ID, txHash("bc"), svcerrors.CodeTransactionNotFound},
		{"faulted transaction", round.ID, faulted, svcerrors.CodeTransactionNotFound},
		{"wrong recipient", round.ID, elsewhere, svcerrors.CodeWrongRecipient},
		{"chain unavailable", round.ID, broken, svcerrors.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.VerifyAndCredit(context.Background(), tt.round, tt.hash)
			assert.True(t, svcerrors.HasCode(err, tt.code), "expected %s, got %v", tt.code, err)
		})
	}

	got, err := roundSvc.GetRound(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Budget)

	fundings, err := svc.ListFundings(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Empty(t, fundings, "failed verifications release their claim")

	// A transaction that failed verification may be resubmitted once it lands.
	reader.AddTransfer(txHash("bc"), treasury, 4)
	updated, err := svc.VerifyAndCredit(context.Background(), round.ID, txHash("bc"))
	require.NoError(t, err)
	assert.Equal(t, grant.Amount(4), updated.Budget)
}

func TestNormalizeTxHash(t *testing.T) {
	want := txHash("ef")
	for _, in := range []string{want, strings.ToUpper(want[2:]), " 0X" + strings.ToUpper(want[2:]) + " "} {
		got, err := NormalizeTxHash(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := NormalizeTxHash("0xnothex")
	assert.Error(t, err)
}
