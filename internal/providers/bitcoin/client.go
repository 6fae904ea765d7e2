package bitcoin

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dehouse/donation-ledger/internal/adapter"
	"github.com/dehouse/donation-ledger/internal/domain"
)

// EsploraStatus holds the confirmation state of a transaction
type EsploraStatus struct {
	Confirmed bool  `json:"confirmed"`
	BlockTime int64 `json:"block_time"`
}

// EsploraPrevout describes the output an input spends
type EsploraPrevout struct {
	ScriptpubkeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// EsploraVin is a transaction input
type EsploraVin struct {
	Prevout *EsploraPrevout `json:"prevout"`
}

// EsploraVout is a transaction output; Value is in satoshis
type EsploraVout struct {
	ScriptpubkeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// EsploraTransaction represents a transaction from an Esplora-style API
type EsploraTransaction struct {
	Txid   string        `json:"txid"`
	Status EsploraStatus `json:"status"`
	Vin    []EsploraVin  `json:"vin"`
	Vout   []EsploraVout `json:"vout"`
}

// EsploraClient defines an interface for Esplora API operations to enable mocking
type EsploraClient interface {
	// GetAddressTransactions returns recent transactions touching the address, newest first
	GetAddressTransactions(ctx context.Context, address string) ([]EsploraTransaction, error)
	// GetTransaction returns a transaction by txid
	GetTransaction(ctx context.Context, txid string) (*EsploraTransaction, error)
}

// esploraClient is the concrete implementation of EsploraClient
type esploraClient struct {
	baseURL    string
	httpClient adapter.HTTPClient
}

// NewEsploraClient creates a new Esplora API client
func NewEsploraClient(baseURL string, httpClient adapter.HTTPClient) EsploraClient {
	return &esploraClient{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// GetAddressTransactions returns recent transactions touching the address, newest first
func (c *esploraClient) GetAddressTransactions(ctx context.Context, address string) ([]EsploraTransaction, error) {
	url := fmt.Sprintf("%s/address/%s/txs", c.baseURL, address)

	var txs []EsploraTransaction
	if err := c.httpClient.Get(ctx, url, &txs); err != nil {
		return nil, fmt.Errorf("failed to get transactions for address %s: %w", address, err)
	}

	return txs, nil
}

// GetTransaction returns a transaction by txid
func (c *esploraClient) GetTransaction(ctx context.Context, txid string) (*EsploraTransaction, error) {
	url := fmt.Sprintf("%s/tx/%s", c.baseURL, txid)

	var tx EsploraTransaction
	if err := c.httpClient.Get(ctx, url, &tx); err != nil {
		var statusErr *adapter.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, domain.ErrTxNotFound
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", txid, err)
	}

	return &tx, nil
}
