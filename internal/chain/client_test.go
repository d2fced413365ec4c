package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/gas"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
)

const testTxHash = "0x7d3d5a3b9c2f1e0d4c5b6a79887766554433221100ffeeddccbbaa9988776655"

var (
	sender   = util.Uint160{0x11, 0x22, 0x33}
	treasury = util.Uint160{0xaa, 0xbb, 0xcc}
	other    = util.Uint160{0x01}
)

func hashItem(u util.Uint160) map[string]any {
	return map[string]any{"type": "ByteString", "value": base64.StdEncoding.EncodeToString(u.BytesBE())}
}

func transferNotification(contract string, from, to util.Uint160, amount string) map[string]any {
	return map[string]any{
		"contract":  contract,
		"eventname": "Transfer",
		"state": map[string]any{
			"type": "Array",
			"value": []any{
				hashItem(from),
				hashItem(to),
				map[string]any{"type": "Integer", "value": amount},
			},
		},
	}
}

func applicationLog(vmstate string, notifications ...map[string]any) map[string]any {
	return map[string]any{
		"txid": testTxHash,
		"executions": []any{
			map[string]any{
				"trigger":       "Application",
				"vmstate":       vmstate,
				"gasconsumed":   "9977780",
				"stack":         []any{},
				"notifications": notifications,
			},
		},
	}
}

// rpcServer answers getapplicationlog with the given result, or with an
// unknown-transaction error when result is nil.
func rpcServer(t *testing.T, result any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch {
		case req.Method == "getblockcount":
			resp["result"] = 1234
		case req.Method != "getapplicationlog":
			resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
		case result == nil:
			resp["error"] = map[string]any{"code": -100, "message": "Unknown transaction"}
		default:
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{RPCURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty RPC URL")
	}
}

func TestGetBlockCount(t *testing.T) {
	srv := rpcServer(t, nil)
	defer srv.Close()

	count, err := newTestClient(t, srv).GetBlockCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1234), count)
}

func TestGetTransferReceipt(t *testing.T) {
	gasHash := "0x" + gas.Hash.StringLE()
	log := applicationLog("HALT",
		transferNotification(gasHash, sender, treasury, "700"),
		transferNotification("0x"+other.StringLE(), sender, treasury, "999"),
		transferNotification(gasHash, sender, other, "5"),
		transferNotification(gasHash, sender, treasury, "300"),
	)
	srv := rpcServer(t, log)
	defer srv.Close()

	receipt, err := newTestClient(t, srv).GetTransferReceipt(context.Background(), testTxHash)
	require.NoError(t, err)
	require.True(t, receipt.Succeeded)
	require.Len(t, receipt.Transfers, 3, "non-GAS notifications are ignored")

	amount, found, err := receipt.AmountTo(grant.AddressFromScriptHash(treasury))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, grant.Amount(1000), amount)
	require.Equal(t, grant.AddressFromScriptHash(sender), receipt.Transfers[0].From)

	_, found, err = receipt.AmountTo(grant.AddressFromScriptHash(util.Uint160{0xff}))
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetTransferReceiptFault(t *testing.T) {
	srv := rpcServer(t, applicationLog("FAULT"))
	defer srv.Close()

	receipt, err := newTestClient(t, srv).GetTransferReceipt(context.Background(), testTxHash)
	require.NoError(t, err)
	require.False(t, receipt.Succeeded)
	require.Equal(t, "FAULT", receipt.VMState)
}

func TestGetTransferReceiptUnknown(t *testing.T) {
	srv := rpcServer(t, nil)
	defer srv.Close()

	_, err := newTestClient(t, srv).GetTransferReceipt(context.Background(), testTxHash)
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestParseTransferReceiptRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"invalid json":  `{`,
		"no executions": `{"txid":"x","executions":[]}`,
		"bad amount": fmt.Sprintf(`{"executions":[{"vmstate":"HALT","notifications":[{"contract":"0x%s","eventname":"Transfer","state":{"type":"Array","value":[{"type":"Any"},{"type":"ByteString","value":"%s"},{"type":"Integer","value":"-1"}]}}]}]}`,
			gas.Hash.StringLE(), base64.StdEncoding.EncodeToString(treasury.BytesBE())),
		"short args": fmt.Sprintf(`{"executions":[{"vmstate":"HALT","notifications":[{"contract":"0x%s","eventname":"Transfer","state":{"type":"Array","value":[]}}]}]}`,
			gas.Hash.StringLE()),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseTransferReceipt(testTxHash, []byte(raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseTransferReceiptMint(t *testing.T) {
	raw := fmt.Sprintf(`{"executions":[{"vmstate":"HALT","notifications":[{"contract":"0x%s","eventname":"Transfer","state":{"type":"Array","value":[{"type":"Any"},{"type":"ByteString","value":"%s"},{"type":"Integer","value":"42"}]}}]}]}`,
		gas.Hash.StringLE(), base64.StdEncoding.EncodeToString(treasury.BytesBE()))

	receipt, err := ParseTransferReceipt(testTxHash, []byte(raw))
	require.NoError(t, err)
	require.Len(t, receipt.Transfers, 1)
	require.Equal(t, grant.Address(""), receipt.Transfers[0].From)
	require.Equal(t, grant.Amount(42), receipt.Transfers[0].Amount)
}

func TestGasPayerSigning(t *testing.T) {
	unsigned, err := NewGasPayer("http://localhost:1", "", nil)
	require.NoError(t, err)
	require.False(t, unsigned.CanSign())
	_, err = unsigned.SendPayment(context.Background(), grant.AddressFromScriptHash(other), 1)
	require.ErrorIs(t, err, ErrNoSigner)

	_, err = NewGasPayer("http://localhost:1", "not-a-wif", nil)
	require.Error(t, err)

	key, err := keys.NewPrivateKey()
	require.NoError(t, err)
	signer, err := NewGasPayer("http://localhost:1", key.WIF(), nil)
	require.NoError(t, err)
	require.True(t, signer.CanSign())
	require.Equal(t, grant.AddressFromScriptHash(key.GetScriptHash()), signer.From())

	_, err = signer.SendPayment(context.Background(), grant.Address("bogus"), 1)
	require.Error(t, err)
}
