package schema

import "time"

// LeaderboardEntry is the mutable per-wallet aggregate over committed
// donations. WalletAddress is the lowercase lookup key; WalletDisplay keeps
// the original casing for case-sensitive chains.
type LeaderboardEntry struct {
	WalletAddress string    `gorm:"primaryKey;type:text" json:"wallet_address"`
	WalletDisplay string    `gorm:"type:text" json:"wallet_display"`
	Points        int64     `gorm:"not null;default:0" json:"points"`
	TotalDonated  float64   `gorm:"not null;default:0" json:"total_donated"`
	DonationCount int64     `gorm:"not null;default:0" json:"donation_count"`
	LastDonation  time.Time `gorm:"type:timestamptz" json:"last_donation"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LeaderboardEntry) TableName() string {
	return "leaderboard_entries"
}
