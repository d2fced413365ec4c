// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/internal/chain"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Payment is one call recorded by MockPayer.
type Payment struct {
	To     grant.Address
	Amount grant.Amount
	Ref    string
}

// MockPayer is a test implementation of the distribution payer.
type MockPayer struct {
	mu       sync.Mutex
	signing  bool
	fail     map[grant.Address]error
	payments []Payment
	block    chan struct{}
	stall    chan struct{}
}

// NewMockPayer creates a payer that signs and succeeds by default.
func NewMockPayer() *MockPayer {
	return &MockPayer{signing: true, fail: make(map[grant.Address]error)}
}

// NewUnsignedPayer creates a payer without signing capability.
func NewUnsignedPayer() *MockPayer {
	return &MockPayer{fail: make(map[grant.Address]error)}
}

// FailFor makes payments to address fail with err until cleared with nil.
func (m *MockPayer) FailFor(address grant.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, address)
		return
	}
	m.fail[address] = err
}

// BlockUntil makes every payment wait for release to be closed or the
// context to end.
func (m *MockPayer) BlockUntil(release chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = release
}

// StallAfterBroadcast makes every payment broadcast first and then wait for
// release or the context to end. A context that ends first yields the
// transaction hash together with chain.ErrUnconfirmed, as a node that stops
// answering after accepting a transfer would.
func (m *MockPayer) StallAfterBroadcast(release chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stall = release
}

// CanSign reports whether the payer is configured to sign.
func (m *MockPayer) CanSign() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signing
}

// SendPayment records the payment and returns a synthetic transaction hash.
func (m *MockPayer) SendPayment(ctx context.Context, to grant.Address, amount grant.Amount) (string, error) {
	m.mu.Lock()
	block := m.block
	stall := m.stall
	err := m.fail[to]
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}

	ref := "0x" + strings.ReplaceAll(uuid.New().String(), "-", "") + strings.Repeat("0", 32)
	m.mu.Lock()
	m.payments = append(m.payments, Payment{To: to, Amount: amount, Ref: ref})
	m.mu.Unlock()

	if stall != nil {
		select {
		case <-stall:
		case <-ctx.Done():
			return ref, fmt.Errorf("%w: %v", chain.ErrUnconfirmed, ctx.Err())
		}
	}
	return ref, nil
}

// Payments returns a copy of the broadcast payments.
func (m *MockPayer) Payments() []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Payment(nil), m.payments...)
}

// MockTransferReader is a test implementation of the funding chain reader.
type MockTransferReader struct {
	mu       sync.RWMutex
	receipts map[string]chain.TransferReceipt
	errs     map[string]error
	calls    int
}

// NewMockTransferReader creates an empty reader; unknown hashes return
// chain.ErrTransactionNotFound.
func NewMockTransferReader() *MockTransferReader {
	return &MockTransferReader{
		receipts: make(map[string]chain.TransferReceipt),
		errs:     make(map[string]error),
	}
}

// AddTransfer registers a successful transaction paying amount to to.
func (m *MockTransferReader) AddTransfer(txHash string, to grant.Address, amount grant.Amount) {
	m.AddReceipt(chain.TransferReceipt{
		TxHash:    txHash,
		VMState:   "HALT",
		Succeeded: true,
		Transfers: []chain.Transfer{{To: to, Amount: amount}},
	})
}

// AddReceipt registers an arbitrary receipt.
func (m *MockTransferReader) AddReceipt(r chain.TransferReceipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[strings.ToLower(r.TxHash)] = r
}

// FailWith makes lookups of txHash return err.
func (m *MockTransferReader) FailWith(txHash string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[strings.ToLower(txHash)] = err
}

// GetTransferReceipt returns the registered receipt.
func (m *MockTransferReader) GetTransferReceipt(_ context.Context, txHash string) (chain.TransferReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	key := strings.ToLower(txHash)
	if err, ok := m.errs[key]; ok {
		return chain.TransferReceipt{}, err
	}
	r, ok := m.receipts[key]
	if !ok {
		return chain.TransferReceipt{}, fmt.Errorf("%s: %w", txHash, chain.ErrTransactionNotFound)
	}
	return r, nil
}

// Calls reports how many lookups were made.
func (m *MockTransferReader) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// StaticAuthorizer allows a fixed set of addresses.
type StaticAuthorizer struct {
	mu      sync.RWMutex
	allowed map[grant.Address]bool
}

// NewStaticAuthorizer creates an authorizer allowing the given addresses.
func NewStaticAuthorizer(addresses ...grant.Address) *StaticAuthorizer {
	a := &StaticAuthorizer{allowed: make(map[grant.Address]bool)}
	for _, addr := range addresses {
		a.allowed[addr] = true
	}
	return a
}

// IsAllowed reports whether address was registered.
func (a *StaticAuthorizer) IsAllowed(_ context.Context, address grant.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.allowed[address]
}

// Address returns a deterministic canonical address derived from seed.
func Address(seed byte) grant.Address {
	var u [20]byte
	for i := range u {
		u[i] = seed
	}
	return grant.AddressFromScriptHash(u)
}
