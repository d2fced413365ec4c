package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/gas"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"github.com/nspcc-dev/neo-go/pkg/wallet"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

var (
	// ErrNoSigner is returned by SendPayment when no signing key is configured.
	ErrNoSigner = errors.New("no signing key configured")
	// ErrUnconfirmed is returned together with the transaction hash when a
	// transfer was broadcast but its inclusion could not be observed.
	ErrUnconfirmed = errors.New("transfer broadcast but not confirmed")
)

// GasPayer sends GAS from the treasury account. The RPC connection is opened
// on first use so a node outage does not block startup.
type GasPayer struct {
	rpcURL  string
	account *wallet.Account
	log     *logger.Logger

	mu    sync.Mutex
	actor *actor.Actor
}

// NewGasPayer builds a payer signing with the given WIF. An empty WIF yields
// a payer that reports CanSign() == false.
func NewGasPayer(rpcURL, wif string, log *logger.Logger) (*GasPayer, error) {
	if log == nil {
		log = logger.NewDefault("chain-payer")
	}
	p := &GasPayer{rpcURL: rpcURL, log: log}
	if wif == "" {
		return p, nil
	}
	acc, err := wallet.NewAccountFromWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("parse signer WIF: %w", err)
	}
	p.account = acc
	return p, nil
}

// CanSign reports whether a signing key is configured.
func (p *GasPayer) CanSign() bool {
	return p != nil && p.account != nil
}

// From returns the treasury address payouts are sent from.
func (p *GasPayer) From() grant.Address {
	if !p.CanSign() {
		return ""
	}
	return grant.AddressFromScriptHash(p.account.ScriptHash())
}

// SendPayment transfers amount GAS units to the recipient and waits for the
// transaction to be accepted. It returns the transaction hash. Once the
// transfer has been broadcast, a failed wait returns the hash with an error
// wrapping ErrUnconfirmed: the payment may still land.
func (p *GasPayer) SendPayment(ctx context.Context, to grant.Address, amount grant.Amount) (string, error) {
	if !p.CanSign() {
		return "", ErrNoSigner
	}
	recipient, err := to.ScriptHash()
	if err != nil {
		return "", fmt.Errorf("recipient %s: %w", to, err)
	}

	act, err := p.connect()
	if err != nil {
		return "", err
	}

	token := gas.New(act)
	hash, vub, err := token.Transfer(p.account.ScriptHash(), recipient, amount.BigInt(), nil)
	if err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}
	ref := "0x" + hash.StringLE()

	res, err := act.WaitAny(ctx, vub, hash)
	if err != nil {
		return ref, fmt.Errorf("%w: await %s: %v", ErrUnconfirmed, ref, err)
	}
	if res.VMState != vmstate.Halt {
		return "", fmt.Errorf("transfer %s faulted: %s", ref, res.FaultException)
	}

	p.log.WithContext(ctx).WithField("tx_hash", ref).WithField("amount", amount.String()).Debug("gas transfer confirmed")
	return ref, nil
}

// connect opens the long-lived RPC client. Its context outlives any single
// payment, so the caller's deadline is not passed down.
func (p *GasPayer) connect() (*actor.Actor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.actor != nil {
		return p.actor, nil
	}

	client, err := rpcclient.New(context.Background(), p.rpcURL, rpcclient.Options{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", p.rpcURL, err)
	}
	if err := client.Init(); err != nil {
		return nil, fmt.Errorf("init rpc client: %w", err)
	}
	act, err := actor.NewSimple(client, p.account)
	if err != nil {
		return nil, fmt.Errorf("create actor: %w", err)
	}
	p.actor = act
	return act, nil
}
