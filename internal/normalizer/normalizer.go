package normalizer

import (
	"errors"
	"math"
	"time"

	"gorm.io/datatypes"

	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/store/schema"
)

// Normalize converts a priced candidate transfer into a ledger donation row.
// It rejects transfers that carry no value or cannot be priced; a donation is
// never recorded with a zero or unknown USD value.
func Normalize(transfer *domain.CandidateTransfer, price float64, now time.Time) (*schema.Donation, error) {
	if transfer == nil || transfer.TxHash == "" {
		return nil, errors.New("candidate transfer missing tx hash")
	}

	if transfer.Amount <= 0 || math.IsNaN(transfer.Amount) || math.IsInf(transfer.Amount, 0) {
		return nil, domain.ErrZeroAmount
	}

	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, domain.ErrInvalidPrice
	}

	usdValue := transfer.Amount * price
	points := int64(math.Floor(usdValue * 100))

	timestamp := transfer.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	return &schema.Donation{
		ID:            transfer.DonationID(),
		TxHash:        transfer.TxHash,
		WalletAddress: domain.NormalizeAddress(transfer.Sender),
		WalletDisplay: transfer.Sender,
		Amount:        transfer.Amount,
		Currency:      transfer.Currency,
		USDValue:      usdValue,
		Points:        points,
		Chain:         transfer.Chain,
		Timestamp:     timestamp.UTC(),
		Raw:           datatypes.JSON(transfer.Raw),
	}, nil
}
