package solana

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dehouse/donation-ledger/internal/config"
	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

const feePayer = "FeePayer1111111111111111111111111111111111"

type fakeSolanaClient struct {
	signatures []SignatureInfo
	txs        map[string]*TransactionResult
	err        error
}

func (f *fakeSolanaClient) GetSignaturesForAddress(_ context.Context, _ string, _ int) ([]SignatureInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.signatures, nil
}

func (f *fakeSolanaClient) GetTransaction(_ context.Context, signature string) (*TransactionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[signature]
	if !ok {
		return nil, domain.ErrTxNotFound
	}
	return tx, nil
}

type memCursorStore struct {
	cursors map[string]string
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{cursors: make(map[string]string)}
}

func (m *memCursorStore) GetPollCursor(_ context.Context, chain domain.Chain, scope string) (string, error) {
	return m.cursors[string(chain)+":"+scope], nil
}

func (m *memCursorStore) SetPollCursor(_ context.Context, chain domain.Chain, scope string, value string) error {
	m.cursors[string(chain)+":"+scope] = value
	return nil
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time                        { return c.now }
func (c *fixedClock) Since(t time.Time) time.Duration      { return c.now.Sub(t) }
func (c *fixedClock) Unix(sec int64, nsec int64) time.Time { return time.Unix(sec, nsec).UTC() }
func (c *fixedClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

func testConfig() config.SolanaConfig {
	return config.SolanaConfig{
		TreasuryAddress: domain.SOL_TREASURY_ADDRESS,
		USDCMint:        domain.SOL_USDC_MINT,
		SignatureLimit:  30,
		PollInterval:    time.Second,
	}
}

func solTransfer(lamports int64, blockTime int64) *TransactionResult {
	return &TransactionResult{
		BlockTime: &blockTime,
		Meta: &TransactionMeta{
			PreBalances:  []uint64{5_000_000_000, 1_000_000_000},
			PostBalances: []uint64{5_000_000_000 - uint64(lamports), 1_000_000_000 + uint64(lamports)},
		},
		Transaction: TransactionEnvelope{
			Message: TransactionMessage{AccountKeys: []string{feePayer, domain.SOL_TREASURY_ADDRESS}},
		},
	}
}

func usdcTransfer(preUnits, postUnits string, blockTime int64) *TransactionResult {
	return &TransactionResult{
		BlockTime: &blockTime,
		Meta: &TransactionMeta{
			PreBalances:  []uint64{5_000_000_000},
			PostBalances: []uint64{4_999_000_000},
			PreTokenBalances: []TokenBalance{{
				AccountIndex:  2,
				Mint:          domain.SOL_USDC_MINT,
				Owner:         domain.SOL_TREASURY_ADDRESS,
				UITokenAmount: UITokenAmount{Amount: preUnits, Decimals: 6},
			}},
			PostTokenBalances: []TokenBalance{{
				AccountIndex:  2,
				Mint:          domain.SOL_USDC_MINT,
				Owner:         domain.SOL_TREASURY_ADDRESS,
				UITokenAmount: UITokenAmount{Amount: postUnits, Decimals: 6},
			}},
		},
		Transaction: TransactionEnvelope{
			Message: TransactionMessage{AccountKeys: []string{feePayer}},
		},
	}
}

func TestPollNewTransfers(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	client := &fakeSolanaClient{
		// Newest first, like the RPC
		signatures: []SignatureInfo{
			{Signature: "sig-new"},
			{Signature: "sig-old"},
		},
		txs: map[string]*TransactionResult{
			"sig-new": solTransfer(250_000_000, 1748700000),
			"sig-old": solTransfer(500_000_000, 1748600000),
		},
	}
	cursors := newMemCursorStore()

	a, err := NewAdapter(testConfig(), client, cursors, clock)
	require.NoError(t, err)

	transfers, err := a.PollNewTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	// Oldest first within the cycle
	assert.Equal(t, "sig-old", transfers[0].TxHash)
	assert.InDelta(t, 0.5, transfers[0].Amount, 1e-12)
	assert.Equal(t, domain.CurrencySOL, transfers[0].Currency)
	assert.Equal(t, domain.ChainSolana, transfers[0].Chain)
	assert.Equal(t, feePayer, transfers[0].Sender)
	assert.Equal(t, time.Unix(1748600000, 0).UTC(), transfers[0].Timestamp)
	assert.Equal(t, "sig-new", transfers[1].TxHash)
	assert.InDelta(t, 0.25, transfers[1].Amount, 1e-12)

	// The watermark stays staged until committed, so an uncommitted batch is
	// re-discovered in full
	transfers, err = a.PollNewTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	// Once committed, a cycle with the same data yields nothing
	require.NoError(t, a.CommitWatermark(context.Background()))
	transfers, err = a.PollNewTransfers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.Equal(t, "sig-new", cursors.cursors[string(domain.ChainSolana)+":"])
}

func TestPollResumesFromWatermark(t *testing.T) {
	clock := &fixedClock{now: time.Now().UTC()}
	cursors := newMemCursorStore()
	require.NoError(t, cursors.SetPollCursor(context.Background(), domain.ChainSolana, "", "sig-seen"))

	client := &fakeSolanaClient{
		signatures: []SignatureInfo{
			{Signature: "sig-fresh"},
			{Signature: "sig-seen"},
			{Signature: "sig-ancient"},
		},
		txs: map[string]*TransactionResult{
			"sig-fresh": solTransfer(100_000_000, 0),
		},
	}

	a, err := NewAdapter(testConfig(), client, cursors, clock)
	require.NoError(t, err)

	transfers, err := a.PollNewTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "sig-fresh", transfers[0].TxHash)
}

func TestPollSkipsFailedTransactions(t *testing.T) {
	clock := &fixedClock{now: time.Now().UTC()}
	client := &fakeSolanaClient{
		signatures: []SignatureInfo{
			{Signature: "sig-failed", Err: json.RawMessage(`{"InstructionError":[0,"Custom"]}`)},
		},
	}

	a, err := NewAdapter(testConfig(), client, newMemCursorStore(), clock)
	require.NoError(t, err)

	// Failed signatures never trigger a transaction fetch
	transfers, err := a.PollNewTransfers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestPollUSDCTransfer(t *testing.T) {
	clock := &fixedClock{now: time.Now().UTC()}
	client := &fakeSolanaClient{
		signatures: []SignatureInfo{{Signature: "sig-usdc"}},
		txs: map[string]*TransactionResult{
			// 12.5 USDC received
			"sig-usdc": usdcTransfer("1000000", "13500000", 1748600000),
		},
	}

	a, err := NewAdapter(testConfig(), client, newMemCursorStore(), clock)
	require.NoError(t, err)

	transfers, err := a.PollNewTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, domain.CurrencyUSDC, transfers[0].Currency)
	assert.InDelta(t, 12.5, transfers[0].Amount, 1e-12)
}

func TestPollIgnoresOutboundTransfers(t *testing.T) {
	clock := &fixedClock{now: time.Now().UTC()}
	outbound := &TransactionResult{
		Meta: &TransactionMeta{
			PreBalances:  []uint64{1_000_000_000, 2_000_000_000},
			PostBalances: []uint64{1_500_000_000, 1_500_000_000},
		},
		Transaction: TransactionEnvelope{
			Message: TransactionMessage{AccountKeys: []string{feePayer, domain.SOL_TREASURY_ADDRESS}},
		},
	}
	client := &fakeSolanaClient{
		signatures: []SignatureInfo{{Signature: "sig-out"}},
		txs:        map[string]*TransactionResult{"sig-out": outbound},
	}

	a, err := NewAdapter(testConfig(), client, newMemCursorStore(), clock)
	require.NoError(t, err)

	transfers, err := a.PollNewTransfers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestResolveTransaction(t *testing.T) {
	clock := &fixedClock{now: time.Now().UTC()}
	client := &fakeSolanaClient{
		txs: map[string]*TransactionResult{
			"sig-sol":  solTransfer(500_000_000, 1748600000),
			"sig-usdc": usdcTransfer("0", "10000000", 1748600000),
		},
	}

	a, err := NewAdapter(testConfig(), client, newMemCursorStore(), clock)
	require.NoError(t, err)

	candidate, err := a.ResolveTransaction(context.Background(), "sig-sol", domain.CurrencySOL)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, candidate.Amount, 1e-12)
	assert.Equal(t, feePayer, candidate.Sender)

	candidate, err = a.ResolveTransaction(context.Background(), "sig-usdc", domain.CurrencyUSDC)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, candidate.Amount, 1e-12)

	// The SOL transfer carries no USDC
	_, err = a.ResolveTransaction(context.Background(), "sig-sol", domain.CurrencyUSDC)
	assert.ErrorIs(t, err, domain.ErrWrongAsset)

	_, err = a.ResolveTransaction(context.Background(), "sig-missing", domain.CurrencySOL)
	assert.ErrorIs(t, err, domain.ErrTxNotFound)

	_, err = a.ResolveTransaction(context.Background(), "sig-sol", domain.CurrencyETH)
	assert.ErrorIs(t, err, domain.ErrWrongAsset)
}

func TestResolveFailedTransaction(t *testing.T) {
	clock := &fixedClock{now: time.Now().UTC()}
	failed := solTransfer(500_000_000, 0)
	failed.Meta.Err = json.RawMessage(`{"InstructionError":[0,"Custom"]}`)
	client := &fakeSolanaClient{
		txs: map[string]*TransactionResult{"sig-failed": failed},
	}

	a, err := NewAdapter(testConfig(), client, newMemCursorStore(), clock)
	require.NoError(t, err)

	_, err = a.ResolveTransaction(context.Background(), "sig-failed", domain.CurrencySOL)
	assert.ErrorIs(t, err, domain.ErrTxUnconfirmed)
}

func TestPollPropagatesClientErrors(t *testing.T) {
	clock := &fixedClock{now: time.Now().UTC()}
	client := &fakeSolanaClient{err: errors.New("rpc down")}

	a, err := NewAdapter(testConfig(), client, newMemCursorStore(), clock)
	require.NoError(t, err)

	_, err = a.PollNewTransfers(context.Background())
	assert.Error(t, err)
}
