package chain

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/rpcclient/gas"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
)

const vmStateHalt = "HALT"

// Transfer is one GAS Transfer notification emitted by a transaction. From
// is empty for mints.
type Transfer struct {
	From   grant.Address `json:"from,omitempty"`
	To     grant.Address `json:"to"`
	Amount grant.Amount  `json:"amount"`
}

// TransferReceipt summarises the GAS movements of an executed transaction.
type TransferReceipt struct {
	TxHash    string     `json:"tx_hash"`
	VMState   string     `json:"vm_state"`
	Succeeded bool       `json:"succeeded"`
	Transfers []Transfer `json:"transfers"`
}

// AmountTo sums the transfers received by to.
func (r TransferReceipt) AmountTo(to grant.Address) (grant.Amount, bool, error) {
	var (
		total grant.Amount
		found bool
	)
	for _, t := range r.Transfers {
		if t.To != to {
			continue
		}
		sum, err := total.Add(t.Amount)
		if err != nil {
			return 0, false, err
		}
		total = sum
		found = true
	}
	return total, found, nil
}

// GetTransferReceipt fetches the application log of txHash and extracts the
// GAS transfers of its first execution. A missing transaction returns
// ErrTransactionNotFound.
func (c *Client) GetTransferReceipt(ctx context.Context, txHash string) (TransferReceipt, error) {
	raw, err := c.GetApplicationLog(ctx, txHash)
	if err != nil {
		return TransferReceipt{}, err
	}
	return ParseTransferReceipt(txHash, raw)
}

// ParseTransferReceipt decodes a getapplicationlog result.
func ParseTransferReceipt(txHash string, raw []byte) (TransferReceipt, error) {
	if !gjson.ValidBytes(raw) {
		return TransferReceipt{}, fmt.Errorf("application log for %s is not valid JSON", txHash)
	}
	log := gjson.ParseBytes(raw)
	exec := log.Get("executions.0")
	if !exec.Exists() {
		return TransferReceipt{}, fmt.Errorf("%s has no executions: %w", txHash, ErrTransactionNotFound)
	}

	state := exec.Get("vmstate").String()
	receipt := TransferReceipt{
		TxHash:    txHash,
		VMState:   state,
		Succeeded: strings.EqualFold(state, vmStateHalt),
	}

	gasHash := "0x" + gas.Hash.StringLE()
	for _, n := range exec.Get("notifications").Array() {
		if !strings.EqualFold(n.Get("contract").String(), gasHash) || n.Get("eventname").String() != "Transfer" {
			continue
		}
		transfer, err := parseTransfer(n.Get("state.value"))
		if err != nil {
			return TransferReceipt{}, fmt.Errorf("%s: %w", txHash, err)
		}
		receipt.Transfers = append(receipt.Transfers, transfer)
	}
	return receipt, nil
}

func parseTransfer(args gjson.Result) (Transfer, error) {
	items := args.Array()
	if len(items) != 3 {
		return Transfer{}, fmt.Errorf("transfer notification has %d arguments", len(items))
	}

	from, err := stackHash(items[0])
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer from: %w", err)
	}
	to, err := stackHash(items[1])
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer to: %w", err)
	}
	if to == "" {
		// burn
		return Transfer{From: from}, nil
	}

	if t := items[2].Get("type").String(); t != "Integer" {
		return Transfer{}, fmt.Errorf("transfer amount has type %q", t)
	}
	amount, err := grant.ParseAmount(items[2].Get("value").String())
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer amount: %w", err)
	}
	return Transfer{From: from, To: to, Amount: amount}, nil
}

// stackHash decodes a ByteString stack item holding a script hash. Any (null)
// decodes to the empty address.
func stackHash(item gjson.Result) (grant.Address, error) {
	switch item.Get("type").String() {
	case "Any":
		return "", nil
	case "ByteString", "Buffer":
	default:
		return "", fmt.Errorf("unexpected stack item type %q", item.Get("type").String())
	}
	b, err := base64.StdEncoding.DecodeString(item.Get("value").String())
	if err != nil {
		return "", err
	}
	u, err := util.Uint160DecodeBytesBE(b)
	if err != nil {
		return "", err
	}
	return grant.AddressFromScriptHash(u), nil
}
