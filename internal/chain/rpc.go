package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RPCClient is the read-only ledger collaborator. Absent values come back as
// nil results, not errors, so callers can distinguish "not found" from a
// transport failure.
type RPCClient interface {
	// GetAccountInfo returns the account's raw data, or nil when the
	// account does not exist.
	GetAccountInfo(ctx context.Context, address PublicKey) ([]byte, error)
	// GetSignatureStatus reports whether the transaction signature is known
	// to the cluster.
	GetSignatureStatus(ctx context.Context, signature string) (bool, error)
	// GetTransaction returns the parsed transaction, or nil when unknown.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

const defaultRPCTimeout = 5 * time.Second

// HTTPClient talks JSON-RPC to a ledger node over HTTP with a bounded
// per-call timeout.
type HTTPClient struct {
	endpoint string
	http     *http.Client
}

var _ RPCClient = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the given RPC endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultRPCTimeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("chain: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chain: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chain: %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chain: %s: unexpected status %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("chain: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("chain: %s: rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if result != nil && envelope.Result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("chain: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

func (c *HTTPClient) GetAccountInfo(ctx context.Context, address PublicKey) ([]byte, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"` // [payload, encoding]
		} `json:"value"`
	}
	params := []any{address.String(), map[string]any{"encoding": "base64", "commitment": "confirmed"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}
	if len(result.Value.Data) == 0 {
		return nil, fmt.Errorf("chain: account %s has no data", address)
	}
	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("chain: decode account data: %w", err)
	}
	return raw, nil
}

func (c *HTTPClient) GetSignatureStatus(ctx context.Context, signature string) (bool, error) {
	var result struct {
		Value []json.RawMessage `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", []any{[]string{signature}}, &result); err != nil {
		return false, err
	}
	if len(result.Value) == 0 {
		return false, nil
	}
	return string(result.Value[0]) != "null", nil
}

func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	var tx Transaction
	params := []any{signature, map[string]any{
		"encoding":                       "jsonParsed",
		"maxSupportedTransactionVersion": 0,
		"commitment":                     "confirmed",
	}}
	raw := json.RawMessage{}
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("chain: unmarshal transaction: %w", err)
	}
	return &tx, nil
}
