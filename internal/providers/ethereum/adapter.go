package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/dehouse/donation-ledger/internal/adapter"
	"github.com/dehouse/donation-ledger/internal/config"
	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/logger"
	"github.com/dehouse/donation-ledger/internal/store"
)

// transferEventSignature is the keccak256 hash of the ERC-20 Transfer event
var transferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

type tokenInfo struct {
	symbol   domain.Currency
	address  common.Address
	decimals int
}

// Adapter watches the treasury address for native ETH transfers and inbound
// ERC-20 transfers of allow-listed tokens. The watermark is the last fully
// scanned block number.
type Adapter struct {
	client           adapter.EthClient
	cursors          store.CursorStore
	treasury         common.Address
	tokensByAddress  map[common.Address]tokenInfo
	tokensBySymbol   map[domain.Currency]tokenInfo
	pollInterval     time.Duration
	maxBlocksPerPoll uint64

	// pendingCursor is the block number reached by the last poll, persisted
	// only once the caller commits the batch
	pendingCursor string
}

// NewAdapter creates an Ethereum chain adapter. When no token allow-list is
// configured the mainnet stablecoin defaults are used.
func NewAdapter(cfg config.EthereumConfig, client adapter.EthClient, cursors store.CursorStore) (*Adapter, error) {
	if !common.IsHexAddress(cfg.TreasuryAddress) {
		return nil, fmt.Errorf("invalid ethereum treasury address %s", cfg.TreasuryAddress)
	}

	tokens := cfg.Tokens
	if len(tokens) == 0 {
		tokens = config.DefaultERC20Tokens()
	}

	byAddress := make(map[common.Address]tokenInfo, len(tokens))
	bySymbol := make(map[domain.Currency]tokenInfo, len(tokens))
	for _, t := range tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("invalid token contract address %s for %s", t.Address, t.Symbol)
		}
		info := tokenInfo{
			symbol:   domain.Currency(strings.ToUpper(t.Symbol)),
			address:  common.HexToAddress(t.Address),
			decimals: t.Decimals,
		}
		byAddress[info.address] = info
		bySymbol[info.symbol] = info
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 15 * time.Second
	}

	maxBlocks := cfg.MaxBlocksPerPoll
	if maxBlocks == 0 {
		maxBlocks = 10
	}

	return &Adapter{
		client:           client,
		cursors:          cursors,
		treasury:         common.HexToAddress(cfg.TreasuryAddress),
		tokensByAddress:  byAddress,
		tokensBySymbol:   bySymbol,
		pollInterval:     pollInterval,
		maxBlocksPerPoll: maxBlocks,
	}, nil
}

// Chain returns the chain this adapter watches
func (a *Adapter) Chain() domain.Chain {
	return domain.ChainEthereum
}

// PollInterval returns the cadence for poll cycles
func (a *Adapter) PollInterval() time.Duration {
	return a.pollInterval
}

// PollNewTransfers scans the blocks mined since the previous cycle, capped at
// maxBlocksPerPoll per cycle so a long outage is caught up gradually. On the
// first run the watermark is initialized to the chain head and no backlog is
// scanned. The watermark is staged in memory; it only persists when the caller
// commits it after recording the batch, so a transfer whose commit failed is
// re-discovered on the next poll.
func (a *Adapter) PollNewTransfers(ctx context.Context) ([]domain.CandidateTransfer, error) {
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain head: %w", err)
	}
	headNumber := head.Number.Uint64()

	cursor, err := a.cursors.GetPollCursor(ctx, domain.ChainEthereum, "")
	if err != nil {
		return nil, err
	}
	if cursor == "" {
		a.pendingCursor = strconv.FormatUint(headNumber, 10)
		return nil, nil
	}

	lastScanned, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt ethereum poll cursor %q: %w", cursor, err)
	}
	if lastScanned >= headNumber {
		return nil, nil
	}

	from := lastScanned + 1
	to := min(headNumber, lastScanned+a.maxBlocksPerPoll)

	blockTimes := make(map[uint64]time.Time)
	var transfers []domain.CandidateTransfer

	for number := from; number <= to; number++ {
		block, err := a.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return nil, fmt.Errorf("failed to get block %d: %w", number, err)
		}
		blockTimes[number] = time.Unix(int64(block.Time()), 0).UTC()

		native, err := a.nativeTransfers(ctx, block)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, native...)
	}

	tokenTransfers, err := a.tokenTransfers(ctx, from, to, blockTimes)
	if err != nil {
		return nil, err
	}
	transfers = append(transfers, tokenTransfers...)

	a.pendingCursor = strconv.FormatUint(to, 10)

	return transfers, nil
}

// CommitWatermark persists the block cursor staged by the last poll
func (a *Adapter) CommitWatermark(ctx context.Context) error {
	if a.pendingCursor == "" {
		return nil
	}
	if err := a.cursors.SetPollCursor(ctx, domain.ChainEthereum, "", a.pendingCursor); err != nil {
		return err
	}
	a.pendingCursor = ""
	return nil
}

// ResolveTransaction verifies a single transaction by hash. A pending or
// reverted transaction is reported as unconfirmed so callers can retry later.
func (a *Adapter) ResolveTransaction(ctx context.Context, txHash string, currency domain.Currency) (*domain.CandidateTransfer, error) {
	hash := common.HexToHash(txHash)

	tx, pending, err := a.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, goethereum.NotFound) {
			return nil, domain.ErrTxNotFound
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", txHash, err)
	}
	if pending {
		return nil, domain.ErrTxUnconfirmed
	}

	receipt, err := a.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, goethereum.NotFound) {
			return nil, domain.ErrTxUnconfirmed
		}
		return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, domain.ErrTxUnconfirmed
	}

	header, err := a.client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get block header %s: %w", receipt.BlockNumber, err)
	}
	timestamp := time.Unix(int64(header.Time), 0).UTC()

	if currency == domain.CurrencyETH {
		if tx.To() == nil || *tx.To() != a.treasury || tx.Value().Sign() <= 0 {
			return nil, domain.ErrWrongAsset
		}

		sender, err := a.client.TransactionSender(ctx, tx, receipt.BlockHash, receipt.TransactionIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to recover sender of %s: %w", txHash, err)
		}

		return a.newCandidate(hash, sender, weiToFloat(tx.Value(), 18), domain.CurrencyETH, timestamp, rawTx(tx, sender)), nil
	}

	token, ok := a.tokensBySymbol[currency]
	if !ok {
		return nil, domain.ErrWrongAsset
	}

	var amount float64
	var sender common.Address
	found := false
	for _, lg := range receipt.Logs {
		info, value, from, ok := a.matchTransferLog(*lg)
		if !ok || info.address != token.address {
			continue
		}
		amount += value
		if !found {
			sender = from
			found = true
		}
	}
	if !found || amount <= 0 {
		return nil, domain.ErrWrongAsset
	}

	return a.newCandidate(hash, sender, amount, token.symbol, timestamp, rawReceipt(receipt)), nil
}

// nativeTransfers extracts treasury-bound ETH transfers from a block
func (a *Adapter) nativeTransfers(ctx context.Context, block *types.Block) ([]domain.CandidateTransfer, error) {
	var transfers []domain.CandidateTransfer
	timestamp := time.Unix(int64(block.Time()), 0).UTC()

	for index, tx := range block.Transactions() {
		if tx.To() == nil || *tx.To() != a.treasury || tx.Value().Sign() <= 0 {
			continue
		}

		sender, err := a.client.TransactionSender(ctx, tx, block.Hash(), uint(index))
		if err != nil {
			return nil, fmt.Errorf("failed to recover sender of %s: %w", tx.Hash(), err)
		}

		logger.Debug("ethereum transfer detected",
			zap.String("txHash", tx.Hash().Hex()),
			zap.String("sender", sender.Hex()),
			zap.Uint64("block", block.NumberU64()))

		transfers = append(transfers, *a.newCandidate(tx.Hash(), sender, weiToFloat(tx.Value(), 18), domain.CurrencyETH, timestamp, rawTx(tx, sender)))
	}

	return transfers, nil
}

// tokenTransfers queries Transfer logs for the allow-listed tokens where the
// recipient is the treasury
func (a *Adapter) tokenTransfers(ctx context.Context, from, to uint64, blockTimes map[uint64]time.Time) ([]domain.CandidateTransfer, error) {
	if len(a.tokensByAddress) == 0 {
		return nil, nil
	}

	contracts := make([]common.Address, 0, len(a.tokensByAddress))
	for addr := range a.tokensByAddress {
		contracts = append(contracts, addr)
	}

	logs, err := a.client.FilterLogs(ctx, goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: contracts,
		Topics: [][]common.Hash{
			{transferEventSignature},
			nil,
			{common.BytesToHash(a.treasury.Bytes())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter token transfer logs: %w", err)
	}

	var transfers []domain.CandidateTransfer
	for _, lg := range logs {
		info, amount, sender, ok := a.matchTransferLog(lg)
		if !ok || amount <= 0 {
			continue
		}

		timestamp, cached := blockTimes[lg.BlockNumber]
		if !cached {
			header, err := a.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("failed to get block header %d: %w", lg.BlockNumber, err)
			}
			timestamp = time.Unix(int64(header.Time), 0).UTC()
		}

		logger.Debug("erc20 transfer detected",
			zap.String("txHash", lg.TxHash.Hex()),
			zap.String("token", string(info.symbol)),
			zap.String("sender", sender.Hex()))

		raw, _ := json.Marshal(lg)
		transfers = append(transfers, *a.newCandidate(lg.TxHash, sender, amount, info.symbol, timestamp, raw))
	}

	return transfers, nil
}

// matchTransferLog decodes a Transfer log emitted by an allow-listed token,
// scaling the value by the token's decimals
func (a *Adapter) matchTransferLog(lg types.Log) (tokenInfo, float64, common.Address, bool) {
	info, ok := a.tokensByAddress[lg.Address]
	if !ok {
		return tokenInfo{}, 0, common.Address{}, false
	}
	if len(lg.Topics) != 3 || lg.Topics[0] != transferEventSignature {
		return tokenInfo{}, 0, common.Address{}, false
	}
	if common.BytesToAddress(lg.Topics[2].Bytes()) != a.treasury {
		return tokenInfo{}, 0, common.Address{}, false
	}

	sender := common.BytesToAddress(lg.Topics[1].Bytes())
	amount := weiToFloat(new(big.Int).SetBytes(lg.Data), info.decimals)

	return info, amount, sender, true
}

func (a *Adapter) newCandidate(hash common.Hash, sender common.Address, amount float64, currency domain.Currency, timestamp time.Time, raw json.RawMessage) *domain.CandidateTransfer {
	return &domain.CandidateTransfer{
		TxHash:    hash.Hex(),
		Sender:    sender.Hex(),
		Amount:    amount,
		Currency:  currency,
		Chain:     domain.ChainEthereum,
		Timestamp: timestamp,
		Raw:       raw,
	}
}

// weiToFloat converts a base-unit integer amount into a float using the
// token's decimals
func weiToFloat(value *big.Int, decimals int) float64 {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	result, _ := new(big.Float).Quo(new(big.Float).SetInt(value), scale).Float64()
	return result
}

func rawTx(tx *types.Transaction, sender common.Address) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"txHash": tx.Hash().Hex(),
		"from":   sender.Hex(),
		"to":     tx.To().Hex(),
		"value":  tx.Value().String(),
	})
	return raw
}

func rawReceipt(receipt *types.Receipt) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"txHash":      receipt.TxHash.Hex(),
		"blockNumber": receipt.BlockNumber.String(),
		"status":      receipt.Status,
	})
	return raw
}
