package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dehouse/donation-ledger/internal/adapter"
	"github.com/dehouse/donation-ledger/internal/domain"
)

// SignatureInfo is one entry from getSignaturesForAddress, newest first
type SignatureInfo struct {
	Signature string          `json:"signature"`
	Err       json.RawMessage `json:"err"`
	BlockTime *int64          `json:"blockTime"`
}

// UITokenAmount carries an SPL token amount in raw base units plus decimals
type UITokenAmount struct {
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

// TokenBalance is a pre/post SPL token balance of one account in a transaction
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// TransactionMeta holds the balance movements recorded for a transaction
type TransactionMeta struct {
	Err               json.RawMessage `json:"err"`
	PreBalances       []uint64        `json:"preBalances"`
	PostBalances      []uint64        `json:"postBalances"`
	PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
}

// TransactionMessage lists the accounts a transaction touches. The first
// account key is the fee payer.
type TransactionMessage struct {
	AccountKeys []string `json:"accountKeys"`
}

// TransactionEnvelope wraps the decoded transaction body
type TransactionEnvelope struct {
	Message TransactionMessage `json:"message"`
}

// TransactionResult is the getTransaction response payload
type TransactionResult struct {
	BlockTime   *int64              `json:"blockTime"`
	Meta        *TransactionMeta    `json:"meta"`
	Transaction TransactionEnvelope `json:"transaction"`
}

// SolanaClient defines an interface for Solana JSON-RPC operations to enable mocking
type SolanaClient interface {
	// GetSignaturesForAddress returns recent signatures touching the address, newest first
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error)
	// GetTransaction returns a confirmed transaction by signature
	GetTransaction(ctx context.Context, signature string) (*TransactionResult, error)
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
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

// solanaClient is the concrete implementation of SolanaClient
type solanaClient struct {
	rpcURL     string
	httpClient adapter.HTTPClient
}

// NewSolanaClient creates a new Solana JSON-RPC client
func NewSolanaClient(rpcURL string, httpClient adapter.HTTPClient) SolanaClient {
	return &solanaClient{
		rpcURL:     rpcURL,
		httpClient: httpClient,
	}
}

// call performs one JSON-RPC request and unmarshals the result field
func (c *solanaClient) call(ctx context.Context, method string, params []any, result any) error {
	payload, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	respBody, err := c.httpClient.Post(ctx, c.rpcURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc call %s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}

	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to decode rpc result: %w", err)
	}

	return nil
}

// GetSignaturesForAddress returns recent signatures touching the address, newest first
func (c *solanaClient) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	var signatures []SignatureInfo
	params := []any{address, map[string]any{"limit": limit}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &signatures); err != nil {
		return nil, err
	}
	return signatures, nil
}

// GetTransaction returns a confirmed transaction by signature
func (c *solanaClient) GetTransaction(ctx context.Context, signature string) (*TransactionResult, error) {
	var tx *TransactionResult
	params := []any{signature, map[string]any{
		"encoding":                       "json",
		"maxSupportedTransactionVersion": 0,
	}}
	if err := c.call(ctx, "getTransaction", params, &tx); err != nil {
		return nil, err
	}
	// The RPC returns a null result for unknown signatures
	if tx == nil {
		return nil, domain.ErrTxNotFound
	}
	return tx, nil
}
