package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/shipyard/internal/app/core/service"
	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/app/services/allocations"
	"github.com/R3E-Network/shipyard/internal/app/services/allowlist"
	"github.com/R3E-Network/shipyard/internal/app/services/applications"
	"github.com/R3E-Network/shipyard/internal/app/services/distribution"
	"github.com/R3E-Network/shipyard/internal/app/services/funding"
	"github.com/R3E-Network/shipyard/internal/app/services/rounds"
	"github.com/R3E-Network/shipyard/internal/app/services/stats"
	"github.com/R3E-Network/shipyard/internal/app/storage"
	"github.com/R3E-Network/shipyard/internal/app/storage/memory"
	"github.com/R3E-Network/shipyard/internal/app/system"
	"github.com/R3E-Network/shipyard/internal/chain"
	"github.com/R3E-Network/shipyard/internal/config"
	"github.com/R3E-Network/shipyard/internal/httputil"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Rounds        storage.RoundStore
	Applications  storage.ApplicationStore
	Allocations   storage.AllocationStore
	Distributions storage.DistributionStore
	Fundings      storage.FundingStore
}

// Options carries the collaborators of the ledger. Every field is optional:
// without a payer distribution fails with PaymentsUnavailable, without a
// transfer reader funding verification is refused, and without an allow-list
// any approver may open a round.
type Options struct {
	Payer               distribution.Payer
	TransferReader      funding.TransferReader
	Treasury            grant.Address
	Allowlist           *allowlist.Service
	DefaultDurationDays int
	PaymentTimeout      time.Duration
	Clock               func() time.Time
}

// HeightReader reports the chain tip for health checks.
type HeightReader interface {
	GetBlockCount(ctx context.Context) (uint64, error)
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	chain   HeightReader
	payer   distribution.Payer
	closers []func() error

	Rounds       *rounds.Service
	Applications *applications.Service
	Allocations  *allocations.Service
	Distribution *distribution.Service
	Funding      *funding.Service
	Allowlist    *allowlist.Service
	Stats        *stats.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Rounds == nil {
		stores.Rounds = mem
	}
	if stores.Applications == nil {
		stores.Applications = mem
	}
	if stores.Allocations == nil {
		stores.Allocations = mem
	}
	if stores.Distributions == nil {
		stores.Distributions = mem
	}
	if stores.Fundings == nil {
		stores.Fundings = mem
	}

	manager := system.NewManager()

	roundService := rounds.New(stores.Rounds, log.Module("rounds")).
		WithClock(opts.Clock).
		WithDefaultDuration(opts.DefaultDurationDays)
	appService := applications.New(roundService, stores.Applications, log.Module("applications")).WithClock(opts.Clock)
	ledger := allocations.New(roundService, appService, stores.Allocations, log.Module("allocations")).WithClock(opts.Clock)
	engine := distribution.New(roundService, ledger, stores.Distributions, opts.Payer, log.Module("distribution")).
		WithClock(opts.Clock).
		WithPaymentTimeout(opts.PaymentTimeout)
	if opts.TransferReader != nil {
		engine.WithConfirmer(opts.TransferReader)
	}
	verifier := funding.New(roundService, opts.TransferReader, stores.Fundings, opts.Treasury, log.Module("funding")).WithClock(opts.Clock)
	statsService := stats.New(roundService, appService).WithClock(opts.Clock)

	if opts.Allowlist != nil {
		roundService.AttachAuthorizer(opts.Allowlist)
		if err := manager.Register(allowlist.NewRefresher(opts.Allowlist, log.Module("allowlist"))); err != nil {
			return nil, fmt.Errorf("register allow-list refresher: %w", err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		payer:        opts.Payer,
		Rounds:       roundService,
		Applications: appService,
		Allocations:  ledger,
		Distribution: engine,
		Funding:      verifier,
		Allowlist:    opts.Allowlist,
		Stats:        statsService,
	}, nil
}

// NewFromConfig wires the chain client, GAS payer and allow-list described
// by cfg around in-memory stores.
func NewFromConfig(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	opts := Options{
		DefaultDurationDays: cfg.Ledger.DefaultDurationDays,
		PaymentTimeout:      cfg.Chain.PaymentTimeout,
	}

	var client *chain.Client
	if cfg.Chain.RPCURL != "" {
		var err error
		client, err = chain.NewClient(chain.Config{
			RPCURL:    cfg.Chain.RPCURL,
			NetworkID: cfg.Chain.NetworkMagic,
			Timeout:   cfg.Chain.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("chain client: %w", err)
		}
		opts.TransferReader = client
	} else {
		log.Warn("chain.rpc_url not set; funding verification disabled")
	}

	if cfg.Chain.SignerWIF != "" {
		payer, err := chain.NewGasPayer(cfg.Chain.RPCURL, cfg.Chain.SignerWIF, log.Module("chain-payer"))
		if err != nil {
			return nil, err
		}
		opts.Payer = payer
		opts.Treasury = payer.From()
	} else {
		log.Warn("chain.signer_wif not set; distribution disabled")
	}

	if cfg.Chain.Treasury != "" {
		treasury, err := grant.ParseAddress(cfg.Chain.Treasury)
		if err != nil {
			return nil, fmt.Errorf("chain.treasury: %w", err)
		}
		if opts.Treasury != "" && opts.Treasury != treasury {
			log.WithField("signer", opts.Treasury.String()).WithField("treasury", treasury.String()).
				Warn("treasury differs from the payout signer account")
		}
		opts.Treasury = treasury
	}

	var closers []func() error
	if cfg.Allowlist.Enforce {
		source, closer := allowlistSource(cfg.Allowlist)
		if closer != nil {
			closers = append(closers, closer)
		}
		opts.Allowlist = allowlist.New(source, cfg.Allowlist.RefreshInterval, log.Module("allowlist"))
	}

	application, err := New(Stores{}, opts, log)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	if client != nil {
		application.chain = client
	}
	application.closers = closers
	return application, nil
}

func allowlistSource(cfg config.AllowlistConfig) (allowlist.Source, func() error) {
	switch {
	case cfg.HTTPURL != "":
		client := httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL: cfg.HTTPURL,
			Token:   cfg.HTTPToken,
			Timeout: 10 * time.Second,
		})
		return allowlist.NewHTTPSource(client, ""), nil
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return allowlist.NewRedisSource(rdb, cfg.RedisKey), rdb.Close
	default:
		return allowlist.StaticSource(cfg.Static), nil
	}
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases external connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	for _, c := range a.closers {
		err = errors.Join(err, c())
	}
	a.closers = nil
	return err
}

// Descriptors lists the advertised services.
func (a *Application) Descriptors() []service.Descriptor {
	items := []service.Describer{a.Rounds, a.Applications, a.Allocations, a.Distribution, a.Funding, a.Stats}
	if a.Allowlist != nil {
		items = append(items, a.Allowlist)
	}
	return service.Collect(items...)
}

// Health summarises readiness for the /healthz endpoint.
type Health struct {
	Status      string            `json:"status"`
	Services    []string          `json:"services"`
	Workers     []string          `json:"workers"`
	Payments    bool              `json:"payments"`
	Treasury    string            `json:"treasury,omitempty"`
	ChainHeight uint64            `json:"chain_height,omitempty"`
	ChainError  string            `json:"chain_error,omitempty"`
	Allowlist   *allowlist.Status `json:"allowlist,omitempty"`
}

// Health reports the state of the ledger's collaborators. A chain outage
// degrades the status but never fails the check: the ledger keeps serving.
func (a *Application) Health(ctx context.Context) Health {
	h := Health{
		Status:   "ok",
		Workers:  a.manager.Services(),
		Treasury: a.Funding.Treasury().String(),
	}
	for _, d := range a.Descriptors() {
		h.Services = append(h.Services, d.Name)
	}
	h.Payments = a.payer != nil && a.payer.CanSign()
	if a.chain != nil {
		height, err := a.chain.GetBlockCount(ctx)
		if err != nil {
			h.Status = "degraded"
			h.ChainError = err.Error()
		} else {
			h.ChainHeight = height
		}
	}
	if a.Allowlist != nil {
		st := a.Allowlist.Status()
		h.Allowlist = &st
	}
	return h
}
