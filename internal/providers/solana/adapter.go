package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dehouse/donation-ledger/internal/adapter"
	"github.com/dehouse/donation-ledger/internal/config"
	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/logger"
	"github.com/dehouse/donation-ledger/internal/store"
)

const lamportsPerSOL = 1e9

// Adapter watches the treasury account for inbound SOL and USDC transfers.
// The watermark is the most recent signature seen for the account.
type Adapter struct {
	client         SolanaClient
	cursors        store.CursorStore
	clock          adapter.Clock
	treasury       string
	usdcMint       string
	signatureLimit int
	pollInterval   time.Duration

	// pendingCursor is the newest signature seen by the last poll, persisted
	// only once the caller commits the batch
	pendingCursor string
}

// NewAdapter creates a Solana chain adapter
func NewAdapter(cfg config.SolanaConfig, client SolanaClient, cursors store.CursorStore, clock adapter.Clock) (*Adapter, error) {
	if cfg.TreasuryAddress == "" {
		return nil, fmt.Errorf("no solana treasury address configured")
	}

	usdcMint := cfg.USDCMint
	if usdcMint == "" {
		usdcMint = domain.SOL_USDC_MINT
	}

	signatureLimit := cfg.SignatureLimit
	if signatureLimit == 0 {
		signatureLimit = 30
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 20 * time.Second
	}

	return &Adapter{
		client:         client,
		cursors:        cursors,
		clock:          clock,
		treasury:       cfg.TreasuryAddress,
		usdcMint:       usdcMint,
		signatureLimit: signatureLimit,
		pollInterval:   pollInterval,
	}, nil
}

// Chain returns the chain this adapter watches
func (a *Adapter) Chain() domain.Chain {
	return domain.ChainSolana
}

// PollInterval returns the cadence for poll cycles
func (a *Adapter) PollInterval() time.Duration {
	return a.pollInterval
}

// PollNewTransfers returns treasury-bound transfers that appeared since the
// previous cycle, oldest first. Failed transactions are skipped without
// fetching their bodies. The watermark is staged in memory; it only persists
// when the caller commits it after recording the batch, so a transfer whose
// commit failed is re-discovered on the next poll.
func (a *Adapter) PollNewTransfers(ctx context.Context) ([]domain.CandidateTransfer, error) {
	cursor, err := a.cursors.GetPollCursor(ctx, domain.ChainSolana, "")
	if err != nil {
		return nil, err
	}

	signatures, err := a.client.GetSignaturesForAddress(ctx, a.treasury, a.signatureLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to poll signatures for %s: %w", a.treasury, err)
	}
	if len(signatures) == 0 {
		return nil, nil
	}

	// Responses are newest first; take everything above the watermark
	fresh := signatures
	for i, sig := range signatures {
		if sig.Signature == cursor {
			fresh = signatures[:i]
			break
		}
	}

	var transfers []domain.CandidateTransfer
	for i := len(fresh) - 1; i >= 0; i-- {
		sig := fresh[i]
		if len(sig.Err) > 0 && string(sig.Err) != "null" {
			continue
		}

		tx, err := a.client.GetTransaction(ctx, sig.Signature)
		if err != nil {
			return transfers, fmt.Errorf("failed to get transaction %s: %w", sig.Signature, err)
		}

		transfers = append(transfers, a.extractTransfers(tx, sig.Signature)...)
	}

	a.pendingCursor = signatures[0].Signature

	return transfers, nil
}

// CommitWatermark persists the signature cursor staged by the last poll
func (a *Adapter) CommitWatermark(ctx context.Context) error {
	if a.pendingCursor == "" {
		return nil
	}
	if err := a.cursors.SetPollCursor(ctx, domain.ChainSolana, "", a.pendingCursor); err != nil {
		return err
	}
	a.pendingCursor = ""
	return nil
}

// ResolveTransaction verifies a single transaction by signature
func (a *Adapter) ResolveTransaction(ctx context.Context, txHash string, currency domain.Currency) (*domain.CandidateTransfer, error) {
	if currency != domain.CurrencySOL && currency != domain.CurrencyUSDC {
		return nil, domain.ErrWrongAsset
	}

	tx, err := a.client.GetTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if tx.Meta == nil || len(tx.Meta.Err) > 0 && string(tx.Meta.Err) != "null" {
		return nil, domain.ErrTxUnconfirmed
	}

	for _, candidate := range a.extractTransfers(tx, txHash) {
		if candidate.Currency == currency {
			return &candidate, nil
		}
	}

	return nil, domain.ErrWrongAsset
}

// extractTransfers derives treasury-bound transfers from the balance movements
// of a confirmed transaction. A single transaction can deliver both SOL and
// USDC; each becomes its own candidate.
func (a *Adapter) extractTransfers(tx *TransactionResult, signature string) []domain.CandidateTransfer {
	if tx.Meta == nil || len(tx.Meta.Err) > 0 && string(tx.Meta.Err) != "null" {
		return nil
	}

	var transfers []domain.CandidateTransfer

	if lamports := a.lamportsReceived(tx); lamports > 0 {
		logger.Debug("solana transfer detected",
			zap.String("signature", signature),
			zap.Int64("lamports", lamports))
		transfers = append(transfers, *a.newCandidate(tx, signature, float64(lamports)/lamportsPerSOL, domain.CurrencySOL))
	}

	if amount := a.usdcReceived(tx); amount > 0 {
		logger.Debug("solana usdc transfer detected",
			zap.String("signature", signature),
			zap.Float64("amount", amount))
		transfers = append(transfers, *a.newCandidate(tx, signature, amount, domain.CurrencyUSDC))
	}

	return transfers
}

// lamportsReceived returns the native balance gained by the treasury account
func (a *Adapter) lamportsReceived(tx *TransactionResult) int64 {
	for i, key := range tx.Transaction.Message.AccountKeys {
		if key != a.treasury {
			continue
		}
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			return 0
		}
		return int64(tx.Meta.PostBalances[i]) - int64(tx.Meta.PreBalances[i])
	}
	return 0
}

// usdcReceived returns the USDC gained by token accounts owned by the
// treasury, comparing pre and post token balances in raw base units
func (a *Adapter) usdcReceived(tx *TransactionResult) float64 {
	pre, _ := a.treasuryTokenUnits(tx.Meta.PreTokenBalances)
	post, decimals := a.treasuryTokenUnits(tx.Meta.PostTokenBalances)
	if decimals < 0 {
		return 0
	}

	diff := post - pre
	if diff <= 0 {
		return 0
	}

	return float64(diff) / math.Pow10(decimals)
}

// treasuryTokenUnits sums the USDC balances of token accounts owned by the
// treasury, in raw base units. Decimals is -1 when no balance matched.
func (a *Adapter) treasuryTokenUnits(balances []TokenBalance) (int64, int) {
	var units int64
	decimals := -1
	for _, b := range balances {
		if b.Mint != a.usdcMint || b.Owner != a.treasury {
			continue
		}
		raw, err := strconv.ParseInt(b.UITokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		units += raw
		decimals = b.UITokenAmount.Decimals
	}
	return units, decimals
}

func (a *Adapter) newCandidate(tx *TransactionResult, signature string, amount float64, currency domain.Currency) *domain.CandidateTransfer {
	timestamp := a.clock.Now()
	if tx.BlockTime != nil && *tx.BlockTime > 0 {
		timestamp = a.clock.Unix(*tx.BlockTime, 0)
	}

	sender := ""
	if len(tx.Transaction.Message.AccountKeys) > 0 {
		sender = tx.Transaction.Message.AccountKeys[0]
	}

	raw, _ := json.Marshal(tx)

	return &domain.CandidateTransfer{
		TxHash:    signature,
		Sender:    sender,
		Amount:    amount,
		Currency:  currency,
		Chain:     domain.ChainSolana,
		Timestamp: timestamp,
		Raw:       raw,
	}
}
