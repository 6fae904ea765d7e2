package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/logger"
	"github.com/dehouse/donation-ledger/internal/store"
	"github.com/dehouse/donation-ledger/internal/store/schema"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type memStore struct {
	mu        sync.Mutex
	donations map[string]*schema.Donation
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{donations: make(map[string]*schema.Donation)}
}

func (s *memStore) DonationExists(_ context.Context, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.donations[txHash]
	return ok, nil
}

func (s *memStore) GetDonationByTxHash(_ context.Context, txHash string) (*schema.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.donations[txHash], nil
}

func (s *memStore) CommitDonation(_ context.Context, donation *schema.Donation) (*schema.Donation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return nil, false, s.commitErr
	}
	if existing, ok := s.donations[donation.TxHash]; ok {
		return existing, true, nil
	}
	s.donations[donation.TxHash] = donation
	return donation, false, nil
}

func (s *memStore) GetLeaderboard(_ context.Context, _ int) ([]schema.LeaderboardEntry, error) {
	return nil, nil
}

func (s *memStore) GetUserRank(_ context.Context, _ string) (int, error) { return 0, nil }

func (s *memStore) GetUserStats(_ context.Context, _ string) (*schema.LeaderboardEntry, error) {
	return nil, nil
}

func (s *memStore) GetDonationsByWallet(_ context.Context, _ string) ([]schema.Donation, error) {
	return nil, nil
}

func (s *memStore) GetAllDonations(_ context.Context) ([]schema.Donation, error) { return nil, nil }

func (s *memStore) GetTotalRaised(_ context.Context) (float64, error) { return 0, nil }

func (s *memStore) ClearAll(_ context.Context) error { return nil }

func (s *memStore) UpsertUser(_ context.Context, _ store.UserInput) (*schema.User, error) {
	return nil, nil
}

func (s *memStore) LoginUser(_ context.Context, _ string, _ bool) (*schema.User, error) {
	return nil, nil
}

func (s *memStore) GetUser(_ context.Context, _ string) (*schema.User, error) { return nil, nil }

func (s *memStore) GetAllUsers(_ context.Context) ([]schema.User, error) { return nil, nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.donations)
}

func (s *memStore) setCommitErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

type fakeOracle struct {
	price   float64
	err     error
	entered chan struct{}
	release chan struct{}
}

func (o *fakeOracle) GetPrice(_ context.Context, _ domain.Currency, _ time.Time) (float64, error) {
	if o.entered != nil {
		o.entered <- struct{}{}
	}
	if o.release != nil {
		<-o.release
	}
	return o.price, o.err
}

type fakeAdapter struct {
	chain    domain.Chain
	interval time.Duration

	mu        sync.Mutex
	transfers []domain.CandidateTransfer
	polls     int
	commits   int

	resolved   *domain.CandidateTransfer
	resolveErr error
}

func (a *fakeAdapter) Chain() domain.Chain         { return a.chain }
func (a *fakeAdapter) PollInterval() time.Duration { return a.interval }

// PollNewTransfers keeps the batch staged until CommitWatermark drops it,
// mirroring the chain adapters
func (a *fakeAdapter) PollNewTransfers(_ context.Context) ([]domain.CandidateTransfer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	return a.transfers, nil
}

func (a *fakeAdapter) ResolveTransaction(_ context.Context, _ string, _ domain.Currency) (*domain.CandidateTransfer, error) {
	if a.resolveErr != nil {
		return nil, a.resolveErr
	}
	return a.resolved, nil
}

func (a *fakeAdapter) CommitWatermark(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.transfers) == 0 {
		return nil
	}
	a.commits++
	a.transfers = nil
	return nil
}

func (a *fakeAdapter) pollCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls
}

func (a *fakeAdapter) commitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commits
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now().UTC() }
func (realClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (realClock) Unix(sec int64, nsec int64) time.Time   { return time.Unix(sec, nsec).UTC() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func btcTransfer(txHash string) domain.CandidateTransfer {
	return domain.CandidateTransfer{
		TxHash:    txHash,
		Sender:    "1Sender",
		Amount:    0.001666,
		Currency:  domain.CurrencyBTC,
		Chain:     domain.ChainBitcoin,
		Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestListeningRecordsPolledTransfers(t *testing.T) {
	st := newMemStore()
	oracle := &fakeOracle{price: 60000}
	transfer := btcTransfer("tx-poll-1")
	a := &fakeAdapter{chain: domain.ChainBitcoin, interval: 10 * time.Millisecond, transfers: []domain.CandidateTransfer{transfer}}

	svc := NewService(st, oracle, realClock{}, a)
	svc.StartListening(context.Background())
	defer svc.StopListening()

	require.Eventually(t, func() bool { return st.count() == 1 }, time.Second, 5*time.Millisecond)

	donation, err := st.GetDonationByTxHash(context.Background(), "tx-poll-1")
	require.NoError(t, err)
	require.NotNil(t, donation)
	assert.Equal(t, int64(9996), donation.Points)

	// Ticks keep coming after the initial cycle, and clean cycles commit the
	// watermark
	require.Eventually(t, func() bool { return a.pollCount() >= 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.commitCount() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestFailedBatchHoldsWatermark(t *testing.T) {
	st := newMemStore()
	st.setCommitErr(errors.New("database down"))
	transfer := btcTransfer("tx-retry-1")
	a := &fakeAdapter{chain: domain.ChainBitcoin, interval: 10 * time.Millisecond, transfers: []domain.CandidateTransfer{transfer}}

	svc := NewService(st, &fakeOracle{price: 60000}, realClock{}, a)
	svc.StartListening(context.Background())
	defer svc.StopListening()

	// The failing commit leaves the batch unrecorded and the watermark
	// uncommitted
	require.Eventually(t, func() bool { return a.pollCount() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, st.count())
	assert.Equal(t, 0, a.commitCount())

	// Once the store recovers, the still-staged batch is re-delivered,
	// recorded and the watermark commits
	st.setCommitErr(nil)

	require.Eventually(t, func() bool { return st.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.commitCount() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestStopListeningIsIdempotent(t *testing.T) {
	a := &fakeAdapter{chain: domain.ChainBitcoin, interval: 10 * time.Millisecond}
	svc := NewService(newMemStore(), &fakeOracle{price: 1}, realClock{}, a)

	svc.StartListening(context.Background())
	svc.StopListening()
	svc.StopListening()
}

func TestVerifyByHashSuccess(t *testing.T) {
	st := newMemStore()
	transfer := btcTransfer("tx-verify-1")
	a := &fakeAdapter{chain: domain.ChainBitcoin, resolved: &transfer}

	svc := NewService(st, &fakeOracle{price: 60000}, realClock{}, a)

	result := svc.VerifyByHash(context.Background(), "tx-verify-1", "BTC")
	require.True(t, result.Verified)
	assert.Equal(t, "donation verified", result.Message)
	require.NotNil(t, result.Donation)
	assert.Equal(t, int64(9996), result.Donation.Points)
	assert.Equal(t, 1, st.count())
}

func TestVerifyByHashAlreadyRecorded(t *testing.T) {
	st := newMemStore()
	st.donations["tx-known"] = &schema.Donation{ID: "tx-known-BTC", TxHash: "tx-known"}

	svc := NewService(st, &fakeOracle{price: 1}, realClock{}, &fakeAdapter{chain: domain.ChainBitcoin})

	result := svc.VerifyByHash(context.Background(), "tx-known", "BTC")
	assert.True(t, result.Verified)
	assert.Equal(t, "donation already recorded", result.Message)
	require.NotNil(t, result.Donation)
}

func TestVerifyByHashFailureMessages(t *testing.T) {
	tests := []struct {
		name       string
		resolveErr error
		assetHint  string
		message    string
	}{
		{
			name:       "not found",
			resolveErr: domain.ErrTxNotFound,
			assetHint:  "BTC",
			message:    "transaction not found on bitcoin:mainnet",
		},
		{
			name:       "unconfirmed",
			resolveErr: domain.ErrTxUnconfirmed,
			assetHint:  "BTC",
			message:    "transaction is not confirmed yet, please try again later",
		},
		{
			name:       "wrong asset",
			resolveErr: domain.ErrWrongAsset,
			assetHint:  "BTC",
			message:    "transaction does not transfer BTC to the treasury",
		},
		{
			name:      "unsupported asset",
			assetHint: "DOGE",
			message:   `unsupported asset "DOGE"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := &fakeAdapter{chain: domain.ChainBitcoin, resolveErr: tc.resolveErr}
			svc := NewService(newMemStore(), &fakeOracle{price: 1}, realClock{}, a)

			result := svc.VerifyByHash(context.Background(), "tx-x", tc.assetHint)
			assert.False(t, result.Verified)
			assert.Equal(t, tc.message, result.Message)
		})
	}
}

func TestVerifyByHashNoListenerForChain(t *testing.T) {
	svc := NewService(newMemStore(), &fakeOracle{price: 1}, realClock{}, &fakeAdapter{chain: domain.ChainBitcoin})

	result := svc.VerifyByHash(context.Background(), "0xabc", "ETH")
	assert.False(t, result.Verified)
	assert.Equal(t, "no listener configured for chain eip155:1", result.Message)
}

func TestVerifyByHashUnpriceableDonation(t *testing.T) {
	transfer := btcTransfer("tx-unpriced")
	a := &fakeAdapter{chain: domain.ChainBitcoin, resolved: &transfer}
	// A dead oracle yields a zero price, which the normalizer refuses
	svc := NewService(newMemStore(), &fakeOracle{price: 0}, realClock{}, a)

	result := svc.VerifyByHash(context.Background(), "tx-unpriced", "BTC")
	assert.False(t, result.Verified)
	assert.Equal(t, "could not determine the USD price for this donation, please try again later", result.Message)
}

func TestVerifyByHashRequiresHash(t *testing.T) {
	svc := NewService(newMemStore(), &fakeOracle{price: 1}, realClock{}, &fakeAdapter{chain: domain.ChainBitcoin})

	result := svc.VerifyByHash(context.Background(), "  ", "BTC")
	assert.False(t, result.Verified)
	assert.Equal(t, "transaction hash is required", result.Message)
}

func TestVerifyByHashWhileProcessing(t *testing.T) {
	st := newMemStore()
	transfer := btcTransfer("tx-busy")
	a := &fakeAdapter{chain: domain.ChainBitcoin, resolved: &transfer}
	oracle := &fakeOracle{price: 60000, entered: make(chan struct{}, 1), release: make(chan struct{})}

	svc := NewService(st, oracle, realClock{}, a)

	done := make(chan *VerificationResult, 1)
	go func() {
		done <- svc.VerifyByHash(context.Background(), "tx-busy", "BTC")
	}()

	// Wait until the first verification holds the in-flight slot
	<-oracle.entered

	result := svc.VerifyByHash(context.Background(), "tx-busy", "BTC")
	assert.False(t, result.Verified)
	assert.Equal(t, "transaction is currently being processed, please try again shortly", result.Message)

	close(oracle.release)
	first := <-done
	assert.True(t, first.Verified)
	assert.Equal(t, 1, st.count())
}
