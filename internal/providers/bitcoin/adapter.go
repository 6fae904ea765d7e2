package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"

	"github.com/dehouse/donation-ledger/internal/adapter"
	"github.com/dehouse/donation-ledger/internal/config"
	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/logger"
	"github.com/dehouse/donation-ledger/internal/store"
)

const satoshisPerBTC = 1e8

// Adapter watches the treasury addresses for inbound BTC transfers through an
// Esplora-style API. The watermark is the most recent txid seen per address.
type Adapter struct {
	client       EsploraClient
	cursors      store.CursorStore
	clock        adapter.Clock
	addresses    []string
	treasury     map[string]struct{}
	pollInterval time.Duration

	// pending holds the per-address watermarks observed by the last poll,
	// persisted only once the caller commits the batch
	pending map[string]string
}

// NewAdapter creates a Bitcoin chain adapter. Every configured treasury
// address must parse as a mainnet address.
func NewAdapter(cfg config.BitcoinConfig, client EsploraClient, cursors store.CursorStore, clock adapter.Clock) (*Adapter, error) {
	if len(cfg.TreasuryAddresses) == 0 {
		return nil, fmt.Errorf("no bitcoin treasury addresses configured")
	}

	treasury := make(map[string]struct{}, len(cfg.TreasuryAddresses))
	for _, addr := range cfg.TreasuryAddresses {
		if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
			return nil, fmt.Errorf("invalid bitcoin treasury address %s: %w", addr, err)
		}
		treasury[addr] = struct{}{}
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 90 * time.Second
	}

	return &Adapter{
		client:       client,
		cursors:      cursors,
		clock:        clock,
		addresses:    cfg.TreasuryAddresses,
		treasury:     treasury,
		pollInterval: pollInterval,
		pending:      make(map[string]string),
	}, nil
}

// Chain returns the chain this adapter watches
func (a *Adapter) Chain() domain.Chain {
	return domain.ChainBitcoin
}

// PollInterval returns the cadence for poll cycles
func (a *Adapter) PollInterval() time.Duration {
	return a.pollInterval
}

// PollNewTransfers returns treasury-bound transfers that appeared since the
// previous cycle, oldest first. The per-address watermark is staged in memory;
// it only persists when the caller commits it after recording the batch, so a
// transfer whose commit failed is re-discovered on the next poll.
func (a *Adapter) PollNewTransfers(ctx context.Context) ([]domain.CandidateTransfer, error) {
	var transfers []domain.CandidateTransfer

	for _, address := range a.addresses {
		cursor, err := a.cursors.GetPollCursor(ctx, domain.ChainBitcoin, address)
		if err != nil {
			return transfers, err
		}

		txs, err := a.client.GetAddressTransactions(ctx, address)
		if err != nil {
			return transfers, fmt.Errorf("failed to poll address %s: %w", address, err)
		}
		if len(txs) == 0 {
			continue
		}

		// Responses are newest first; take everything above the watermark
		fresh := txs
		for i, tx := range txs {
			if tx.Txid == cursor {
				fresh = txs[:i]
				break
			}
		}

		for i := len(fresh) - 1; i >= 0; i-- {
			if candidate, ok := a.candidateForAddress(&fresh[i], address); ok {
				transfers = append(transfers, *candidate)
			}
		}

		a.pending[address] = txs[0].Txid
	}

	return transfers, nil
}

// CommitWatermark persists the per-address watermarks staged by the last poll
func (a *Adapter) CommitWatermark(ctx context.Context) error {
	for address, txid := range a.pending {
		if err := a.cursors.SetPollCursor(ctx, domain.ChainBitcoin, address, txid); err != nil {
			return err
		}
		delete(a.pending, address)
	}
	return nil
}

// ResolveTransaction verifies a single transaction by txid. A mempool
// transaction is reported as unconfirmed; it could still be replaced or
// dropped, so it must not become a permanent donation.
func (a *Adapter) ResolveTransaction(ctx context.Context, txHash string, currency domain.Currency) (*domain.CandidateTransfer, error) {
	if currency != domain.CurrencyBTC {
		return nil, domain.ErrWrongAsset
	}

	tx, err := a.client.GetTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if !tx.Status.Confirmed {
		return nil, domain.ErrTxUnconfirmed
	}

	// Sum every output paying any treasury address
	var satoshis int64
	for _, vout := range tx.Vout {
		if _, ok := a.treasury[vout.ScriptpubkeyAddress]; ok {
			satoshis += vout.Value
		}
	}
	if satoshis <= 0 {
		return nil, domain.ErrWrongAsset
	}

	return a.newCandidate(tx, satoshis), nil
}

// candidateForAddress extracts a transfer paying the polled address
func (a *Adapter) candidateForAddress(tx *EsploraTransaction, address string) (*domain.CandidateTransfer, bool) {
	var satoshis int64
	for _, vout := range tx.Vout {
		if vout.ScriptpubkeyAddress == address {
			satoshis += vout.Value
		}
	}
	if satoshis <= 0 {
		return nil, false
	}

	logger.Debug("bitcoin transfer detected",
		zap.String("txid", tx.Txid),
		zap.String("address", address),
		zap.Int64("satoshis", satoshis))

	return a.newCandidate(tx, satoshis), true
}

func (a *Adapter) newCandidate(tx *EsploraTransaction, satoshis int64) *domain.CandidateTransfer {
	timestamp := a.clock.Now()
	if tx.Status.Confirmed && tx.Status.BlockTime > 0 {
		timestamp = a.clock.Unix(tx.Status.BlockTime, 0)
	}

	raw, _ := json.Marshal(tx)

	return &domain.CandidateTransfer{
		TxHash:    tx.Txid,
		Sender:    a.senderOf(tx),
		Amount:    float64(satoshis) / satoshisPerBTC,
		Currency:  domain.CurrencyBTC,
		Chain:     domain.ChainBitcoin,
		Timestamp: timestamp,
		Raw:       raw,
	}
}

// senderOf attributes the donation to the first input owner outside the
// treasury set. UTXO transactions have no single sender; this is a
// best-effort heuristic.
func (a *Adapter) senderOf(tx *EsploraTransaction) string {
	for _, vin := range tx.Vin {
		if vin.Prevout == nil || vin.Prevout.ScriptpubkeyAddress == "" {
			continue
		}
		if _, ok := a.treasury[vin.Prevout.ScriptpubkeyAddress]; ok {
			continue
		}
		return vin.Prevout.ScriptpubkeyAddress
	}
	return domain.UNKNOWN_BTC_SENDER
}
