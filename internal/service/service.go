package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/dehouse/donation-ledger/internal/adapter"
	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/logger"
	"github.com/dehouse/donation-ledger/internal/normalizer"
	"github.com/dehouse/donation-ledger/internal/pricing"
	"github.com/dehouse/donation-ledger/internal/store"
	"github.com/dehouse/donation-ledger/internal/store/schema"
)

// ChainAdapter is implemented by each chain listener
type ChainAdapter interface {
	// Chain returns the chain the adapter watches
	Chain() domain.Chain
	// PollInterval returns the cadence for poll cycles
	PollInterval() time.Duration
	// PollNewTransfers returns treasury-bound transfers seen since the previous
	// cycle, oldest first. The watermark it observes stays staged until
	// CommitWatermark persists it.
	PollNewTransfers(ctx context.Context) ([]domain.CandidateTransfer, error)
	// CommitWatermark persists the watermark staged by the last poll. Called
	// after the batch was recorded so transfers that failed to commit are
	// re-discovered on the next poll.
	CommitWatermark(ctx context.Context) error
	// ResolveTransaction verifies a single transaction by hash
	ResolveTransaction(ctx context.Context, txHash string, currency domain.Currency) (*domain.CandidateTransfer, error)
}

// VerificationResult is the outcome of a manual verification request. It is
// always returned with a human readable message; verification failures are
// not errors.
type VerificationResult struct {
	Verified bool             `json:"verified"`
	Message  string           `json:"message"`
	Donation *schema.Donation `json:"donation,omitempty"`
}

// Service orchestrates the chain adapters, the price oracle and the ledger
// store. Each adapter polls on its own cadence through a single worker pool
// so cycles for one chain never overlap.
type Service struct {
	store    store.Store
	oracle   pricing.Oracle
	clock    adapter.Clock
	adapters map[domain.Chain]ChainAdapter

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool

	cancel context.CancelFunc
	pools  []pond.Pool
	wg     sync.WaitGroup
	stop   sync.Once
}

// NewService creates the donation service
func NewService(st store.Store, oracle pricing.Oracle, clock adapter.Clock, adapters ...ChainAdapter) *Service {
	byChain := make(map[domain.Chain]ChainAdapter, len(adapters))
	for _, a := range adapters {
		byChain[a.Chain()] = a
	}

	return &Service{
		store:    st,
		oracle:   oracle,
		clock:    clock,
		adapters: byChain,
		inFlight: make(map[string]struct{}),
	}
}

// StartListening launches one poll loop per adapter. It returns immediately;
// call StopListening to shut the loops down.
func (s *Service) StartListening(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	for _, a := range s.adapters {
		// One worker and a queue of one: a slow cycle delays the next tick
		// instead of running concurrently with it, and extra ticks are dropped.
		pool := pond.NewPool(1, pond.WithContext(ctx), pond.WithQueueSize(1), pond.WithNonBlocking(true))
		s.pools = append(s.pools, pool)

		s.wg.Add(1)
		go s.pollLoop(ctx, a, pool)
	}
}

// StopListening stops the poll loops and waits for in-flight cycles to finish.
// Safe to call more than once.
func (s *Service) StopListening() {
	s.stop.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		pools := s.pools
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		for _, pool := range pools {
			pool.StopAndWait()
		}
	})
}

func (s *Service) pollLoop(ctx context.Context, a ChainAdapter, pool pond.Pool) {
	defer s.wg.Done()

	logger.Info("starting chain listener",
		zap.String("chain", string(a.Chain())),
		zap.Duration("interval", a.PollInterval()))

	ticker := time.NewTicker(a.PollInterval())
	defer ticker.Stop()

	pool.Go(func() { s.pollCycle(ctx, a) })

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pool.Go(func() { s.pollCycle(ctx, a) })
		}
	}
}

// pollCycle runs one poll and records every transfer it yields. A failure in
// one transfer does not abort the rest of the batch, but it does hold the
// watermark back so the transfer is re-discovered on the next poll; committed
// duplicates from the replay are no-ops.
func (s *Service) pollCycle(ctx context.Context, a ChainAdapter) {
	transfers, err := a.PollNewTransfers(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error(fmt.Errorf("poll cycle failed: %w", err), zap.String("chain", string(a.Chain())))
		}
		return
	}

	failed := 0
	for i := range transfers {
		if _, _, err := s.recordTransfer(ctx, &transfers[i]); err != nil {
			failed++
			logger.Error(fmt.Errorf("failed to record transfer: %w", err),
				zap.String("chain", string(a.Chain())),
				zap.String("txHash", transfers[i].TxHash))
		}
	}
	if failed > 0 {
		return
	}

	if err := a.CommitWatermark(ctx); err != nil {
		logger.Error(fmt.Errorf("failed to commit watermark: %w", err), zap.String("chain", string(a.Chain())))
	}
}

// errInFlight reports that another goroutine is already processing the hash
var errInFlight = errors.New("transaction is already being processed")

// recordTransfer prices, normalizes and commits a single transfer. The bool
// result reports whether the donation was already committed.
func (s *Service) recordTransfer(ctx context.Context, transfer *domain.CandidateTransfer) (*schema.Donation, bool, error) {
	if !s.markInFlight(transfer.TxHash) {
		return nil, false, errInFlight
	}
	defer s.clearInFlight(transfer.TxHash)

	exists, err := s.store.DonationExists(ctx, transfer.TxHash)
	if err != nil {
		return nil, false, err
	}
	if exists {
		existing, err := s.store.GetDonationByTxHash(ctx, transfer.TxHash)
		return existing, true, err
	}

	price, err := s.oracle.GetPrice(ctx, transfer.Currency, transfer.Timestamp)
	if err != nil {
		return nil, false, err
	}

	donation, err := normalizer.Normalize(transfer, price, s.clock.Now())
	if err != nil {
		return nil, false, err
	}

	committed, duplicate, err := s.store.CommitDonation(ctx, donation)
	if err != nil {
		return nil, false, err
	}
	if duplicate {
		return committed, true, nil
	}

	logger.Info("donation recorded",
		zap.String("txHash", donation.TxHash),
		zap.String("wallet", donation.WalletAddress),
		zap.String("currency", string(donation.Currency)),
		zap.Float64("amount", donation.Amount),
		zap.Float64("usdValue", donation.USDValue),
		zap.Int64("points", donation.Points))

	return committed, false, nil
}

// VerifyByHash checks a user supplied transaction hash against the chain the
// asset hint selects and commits the donation when it checks out. The result
// always carries a human readable message; the method itself never fails.
func (s *Service) VerifyByHash(ctx context.Context, txHash string, assetHint string) *VerificationResult {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return &VerificationResult{Message: "transaction hash is required"}
	}

	existing, err := s.store.GetDonationByTxHash(ctx, txHash)
	if err != nil {
		logger.Error(fmt.Errorf("verification lookup failed: %w", err), zap.String("txHash", txHash))
		return &VerificationResult{Message: "verification failed, please try again later"}
	}
	if existing != nil {
		return &VerificationResult{
			Verified: true,
			Message:  "donation already recorded",
			Donation: existing,
		}
	}

	if s.isInFlight(txHash) {
		return &VerificationResult{Message: "transaction is currently being processed, please try again shortly"}
	}

	currency, chain, err := domain.ParseAssetHint(assetHint)
	if err != nil {
		return &VerificationResult{Message: fmt.Sprintf("unsupported asset %q", assetHint)}
	}

	a, ok := s.adapters[chain]
	if !ok {
		return &VerificationResult{Message: fmt.Sprintf("no listener configured for chain %s", chain)}
	}

	candidate, err := a.ResolveTransaction(ctx, txHash, currency)
	if err != nil {
		return s.resolveFailure(txHash, chain, currency, err)
	}

	donation, duplicate, err := s.recordTransfer(ctx, candidate)
	if err != nil {
		return s.recordFailure(txHash, err)
	}
	if duplicate {
		return &VerificationResult{
			Verified: true,
			Message:  "donation already recorded",
			Donation: donation,
		}
	}

	return &VerificationResult{
		Verified: true,
		Message:  "donation verified",
		Donation: donation,
	}
}

func (s *Service) resolveFailure(txHash string, chain domain.Chain, currency domain.Currency, err error) *VerificationResult {
	switch {
	case errors.Is(err, domain.ErrTxNotFound):
		return &VerificationResult{Message: fmt.Sprintf("transaction not found on %s", chain)}
	case errors.Is(err, domain.ErrTxUnconfirmed):
		return &VerificationResult{Message: "transaction is not confirmed yet, please try again later"}
	case errors.Is(err, domain.ErrWrongAsset):
		return &VerificationResult{Message: fmt.Sprintf("transaction does not transfer %s to the treasury", currency)}
	default:
		logger.Error(fmt.Errorf("verification failed: %w", err), zap.String("txHash", txHash))
		return &VerificationResult{Message: "verification failed, please try again later"}
	}
}

func (s *Service) recordFailure(txHash string, err error) *VerificationResult {
	switch {
	case errors.Is(err, errInFlight):
		return &VerificationResult{Message: "transaction is currently being processed, please try again shortly"}
	case errors.Is(err, domain.ErrZeroAmount):
		return &VerificationResult{Message: "transaction carries no donation value"}
	case errors.Is(err, domain.ErrInvalidPrice):
		return &VerificationResult{Message: "could not determine the USD price for this donation, please try again later"}
	default:
		logger.Error(fmt.Errorf("failed to record verified donation: %w", err), zap.String("txHash", txHash))
		return &VerificationResult{Message: "verification failed, please try again later"}
	}
}

func (s *Service) markInFlight(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[txHash]; ok {
		return false
	}
	s.inFlight[txHash] = struct{}{}
	return true
}

func (s *Service) clearInFlight(txHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, txHash)
}

func (s *Service) isInFlight(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[txHash]
	return ok
}
