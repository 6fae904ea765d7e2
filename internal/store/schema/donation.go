package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/dehouse/donation-ledger/internal/domain"
)

// Donation is an immutable ledger row for a verified on-chain donation.
// ID is derived as "<tx_hash>-<CURRENCY>"; the unique tx_hash index is the
// idempotency backstop against concurrent listeners observing the same
// transaction.
type Donation struct {
	ID            string          `gorm:"primaryKey;type:text" json:"id"`
	TxHash        string          `gorm:"type:text;not null;uniqueIndex:idx_donations_tx_hash" json:"tx_hash"`
	WalletAddress string          `gorm:"type:text;not null;index:idx_donations_wallet" json:"wallet_address"`
	WalletDisplay string          `gorm:"type:text" json:"wallet_display"`
	Amount        float64         `gorm:"not null" json:"amount"`
	Currency      domain.Currency `gorm:"type:text;not null" json:"currency"`
	USDValue      float64         `gorm:"column:usd_value;not null" json:"usd_value"`
	Points        int64           `gorm:"not null" json:"points"`
	Chain         domain.Chain    `gorm:"type:text;not null" json:"chain"`
	Timestamp     time.Time       `gorm:"type:timestamptz;not null;index:idx_donations_timestamp" json:"timestamp"`
	Raw           datatypes.JSON  `gorm:"type:jsonb" json:"-"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Donation) TableName() string {
	return "donations"
}
