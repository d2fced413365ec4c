// Package chain talks to a Neo N3 node: it reads transfer receipts for
// funding verification and submits GAS payouts.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/shipyard/internal/httputil"
)

// ErrTransactionNotFound is returned when the node has no record of a
// transaction or its execution.
var ErrTransactionNotFound = errors.New("transaction not found")

// Unknown-item codes used by neo-go and the C# node for missing hashes.
const (
	rpcUnknownTransaction = -100
	rpcUnknownItem        = -105
)

// Client provides Neo N3 JSON-RPC functionality.
type Client struct {
	rpc       *httputil.ServiceClient
	rpcURL    string
	networkID uint32
	nextID    atomic.Int64
}

// Config holds client configuration.
type Config struct {
	RPCURL    string
	NetworkID uint32 // MainNet: 860833102, TestNet: 894710606
	Timeout   time.Duration
}

// NewClient creates a new Neo N3 client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpc: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL: cfg.RPCURL,
			Timeout: timeout,
		}),
		rpcURL:    cfg.RPCURL,
		networkID: cfg.NetworkID,
	}, nil
}

// RPCURL returns the node endpoint.
func (c *Client) RPCURL() string { return c.rpcURL }

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call makes an RPC call to the Neo N3 node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	resp, err := c.rpc.Post(ctx, "", req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var rpcResp RPCResponse
	if err := httputil.DecodeResponse(resp, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// GetBlockCount returns the current block height.
func (c *Client) GetBlockCount(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "getblockcount", nil)
	if err != nil {
		return 0, err
	}

	var count uint64
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, fmt.Errorf("unmarshal block count: %w", err)
	}
	return count, nil
}

// GetApplicationLog returns the raw application log of a transaction.
func (c *Client) GetApplicationLog(ctx context.Context, txHash string) (json.RawMessage, error) {
	result, err := c.Call(ctx, "getapplicationlog", []interface{}{txHash})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && isUnknown(rpcErr) {
			return nil, fmt.Errorf("%s: %w", txHash, ErrTransactionNotFound)
		}
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, fmt.Errorf("%s: %w", txHash, ErrTransactionNotFound)
	}
	return result, nil
}

func isUnknown(e *RPCError) bool {
	if e.Code == rpcUnknownTransaction || e.Code == rpcUnknownItem {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "unknown")
}
