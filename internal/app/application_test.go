package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/shipyard/internal/app/services/allocations"
	"github.com/R3E-Network/shipyard/internal/app/services/allowlist"
	"github.com/R3E-Network/shipyard/internal/app/services/applications"
	"github.com/R3E-Network/shipyard/internal/app/services/rounds"
	"github.com/R3E-Network/shipyard/internal/config"
	svcerrors "github.com/R3E-Network/shipyard/internal/errors"
	"github.com/R3E-Network/shipyard/pkg/testutil"
)

type heightStub struct {
	height uint64
	err    error
}

func (h heightStub) GetBlockCount(context.Context) (uint64, error) { return h.height, h.err }

func TestApplicationEndToEnd(t *testing.T) {
	ctx := context.Background()
	treasury := testutil.Address(0xee)
	approver := testutil.Address(0x0a)
	payer := testutil.NewMockPayer()
	reader := testutil.NewMockTransferReader()
	hash := "0x" + strings.Repeat("cd", 32)
	reader.AddTransfer(hash, treasury, 2_000_000)

	application, err := New(Stores{}, Options{
		Payer:          payer,
		TransferReader: reader,
		Treasury:       treasury,
		Allowlist:      allowlist.New(allowlist.StaticSource{string(approver)}, time.Minute, nil),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	defer application.Stop(ctx)

	_, err = application.Rounds.CreateRound(ctx, rounds.CreateInput{Name: "denied", Approver: string(testutil.Address(0x0b))})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden), "got %v", err)

	round, err := application.Rounds.CreateRound(ctx, rounds.CreateInput{Name: "builders", Approver: string(approver)})
	require.NoError(t, err)
	_, err = application.Funding.VerifyAndCredit(ctx, round.ID, hash)
	require.NoError(t, err)

	app1, err := application.Applications.CreateApplication(ctx, applications.CreateInput{
		RoundID: round.ID, Applicant: string(testutil.Address(1)), ProjectName: "explorer", RequestedAmount: "1000000",
	})
	require.NoError(t, err)
	_, err = application.Allocations.Decide(ctx, allocations.DecideInput{ApplicationID: app1.ID, Actor: string(approver), Approved: true, Amount: "1000000"})
	require.NoError(t, err)

	run, err := application.Distribution.Distribute(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)

	snap, err := application.Stats.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.02000000", snap.TotalsGAS.Budget)
	assert.Equal(t, "0.00950000", snap.TotalsGAS.NetPaid)

	payments := payer.Payments()
	require.Len(t, payments, 1)
	assert.EqualValues(t, 950_000, payments[0].Amount)
}

func TestApplicationDescriptorsAndHealth(t *testing.T) {
	application, err := New(Stores{}, Options{Payer: testutil.NewUnsignedPayer()}, nil)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, d := range application.Descriptors() {
		names[d.Name] = true
	}
	for _, want := range []string{"rounds", "applications", "allocations", "distribution", "funding", "stats"} {
		assert.True(t, names[want], "missing descriptor %s", want)
	}
	assert.False(t, names["allowlist"])

	h := application.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.False(t, h.Payments)
	assert.Nil(t, h.Allowlist)
	assert.Contains(t, h.Services, "distribution")
	assert.Empty(t, h.Workers, "no background workers without an allow-list")

	application.chain = heightStub{err: errors.New("node offline")}
	h = application.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "node offline", h.ChainError)

	application.chain = heightStub{height: 42}
	assert.EqualValues(t, 42, application.Health(context.Background()).ChainHeight)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Chain.RPCURL = "http://127.0.0.1:1"
	cfg.Chain.Treasury = string(testutil.Address(0xee))
	cfg.Allowlist.Enforce = true
	cfg.Allowlist.Static = []string{string(testutil.Address(0x01))}
	require.NoError(t, cfg.Validate())

	application, err := NewFromConfig(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, application.Allowlist)
	assert.Equal(t, testutil.Address(0xee), application.Funding.Treasury())

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	defer application.Stop(ctx)

	_, err = application.Rounds.CreateRound(ctx, rounds.CreateInput{Name: "ok", Approver: string(testutil.Address(0x01))})
	require.NoError(t, err)
	_, err = application.Distribution.Distribute(ctx, "missing")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound), "got %v", err)
}
