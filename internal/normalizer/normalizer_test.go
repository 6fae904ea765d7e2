package normalizer_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/normalizer"
)

func TestNormalizePointsFormula(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	transfer := &domain.CandidateTransfer{
		TxHash:    "btc-tx-1",
		Sender:    "1SenderAddress",
		Amount:    0.001666,
		Currency:  domain.CurrencyBTC,
		Chain:     domain.ChainBitcoin,
		Timestamp: now,
	}

	donation, err := normalizer.Normalize(transfer, 60000, now)
	require.NoError(t, err)

	assert.Equal(t, "btc-tx-1-BTC", donation.ID)
	assert.InDelta(t, 99.96, donation.USDValue, 1e-9)
	assert.Equal(t, int64(9996), donation.Points)
	assert.Equal(t, "1senderaddress", donation.WalletAddress)
	assert.Equal(t, "1SenderAddress", donation.WalletDisplay)
}

func TestNormalizeSolanaDonation(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	transfer := &domain.CandidateTransfer{
		TxHash:   "sol-sig-1",
		Sender:   "FeePayerPubkey",
		Amount:   0.5,
		Currency: domain.CurrencySOL,
		Chain:    domain.ChainSolana,
	}

	donation, err := normalizer.Normalize(transfer, 150, now)
	require.NoError(t, err)

	assert.InDelta(t, 75.0, donation.USDValue, 1e-9)
	assert.Equal(t, int64(7500), donation.Points)
	// Missing block time falls back to the wall clock
	assert.Equal(t, now, donation.Timestamp)
}

func TestNormalizeRejectsZeroAmount(t *testing.T) {
	for _, amount := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		transfer := &domain.CandidateTransfer{
			TxHash:   "tx",
			Sender:   "sender",
			Amount:   amount,
			Currency: domain.CurrencyETH,
			Chain:    domain.ChainEthereum,
		}
		_, err := normalizer.Normalize(transfer, 3000, time.Now())
		assert.ErrorIs(t, err, domain.ErrZeroAmount)
	}
}

func TestNormalizeRejectsInvalidPrice(t *testing.T) {
	transfer := &domain.CandidateTransfer{
		TxHash:   "tx",
		Sender:   "sender",
		Amount:   1,
		Currency: domain.CurrencyETH,
		Chain:    domain.ChainEthereum,
	}

	for _, price := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := normalizer.Normalize(transfer, price, time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	}
}

func TestNormalizeRequiresTxHash(t *testing.T) {
	_, err := normalizer.Normalize(&domain.CandidateTransfer{}, 100, time.Now())
	assert.Error(t, err)

	_, err = normalizer.Normalize(nil, 100, time.Now())
	assert.Error(t, err)
}

func TestNormalizeFractionalPointsRoundDown(t *testing.T) {
	transfer := &domain.CandidateTransfer{
		TxHash:   "tx",
		Sender:   "sender",
		Amount:   1,
		Currency: domain.CurrencyUSDC,
		Chain:    domain.ChainEthereum,
	}

	donation, err := normalizer.Normalize(transfer, 0.999, time.Now())
	require.NoError(t, err)
	// 0.999 USD is 99.9 raw points; fractions always truncate
	assert.Equal(t, int64(99), donation.Points)
}
