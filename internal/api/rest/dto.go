package rest

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/dehouse/donation-ledger/internal/store/schema"
)

// VerifyDonationRequest is the manual verification payload
type VerifyDonationRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
	Asset  string `json:"asset" binding:"required"`
}

// LoginRequest identifies the wallet logging in
type LoginRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// UpdateUserRequest carries the mutable profile fields. Omitted fields keep
// their stored values.
type UpdateUserRequest struct {
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	Bio          string          `json:"bio"`
	ProfileImage string          `json:"profile_image"`
	Settings     json.RawMessage `json:"settings"`
}

// DonationResponse is the wire representation of a committed donation
type DonationResponse struct {
	ID            string    `json:"id"`
	TxHash        string    `json:"tx_hash"`
	WalletAddress string    `json:"wallet_address"`
	WalletDisplay string    `json:"wallet_display"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	USDValue      float64   `json:"usd_value"`
	Points        int64     `json:"points"`
	Chain         string    `json:"chain"`
	Timestamp     time.Time `json:"timestamp"`
}

// VerificationResponse is the outcome of a manual verification request
type VerificationResponse struct {
	Verified bool              `json:"verified"`
	Message  string            `json:"message"`
	Donation *DonationResponse `json:"donation,omitempty"`
}

// LeaderboardEntryResponse is one ranked leaderboard row
type LeaderboardEntryResponse struct {
	Rank          int       `json:"rank"`
	WalletAddress string    `json:"wallet_address"`
	WalletDisplay string    `json:"wallet_display"`
	Points        int64     `json:"points"`
	TotalDonated  float64   `json:"total_donated"`
	DonationCount int64     `json:"donation_count"`
	LastDonation  time.Time `json:"last_donation"`
}

// LeaderboardResponse wraps the ranked entries
type LeaderboardResponse struct {
	Entries []LeaderboardEntryResponse `json:"entries"`
}

// WalletStatsResponse is the aggregate view of one wallet
type WalletStatsResponse struct {
	WalletAddress string    `json:"wallet_address"`
	WalletDisplay string    `json:"wallet_display"`
	Points        int64     `json:"points"`
	TotalDonated  float64   `json:"total_donated"`
	DonationCount int64     `json:"donation_count"`
	LastDonation  time.Time `json:"last_donation"`
}

// WalletRankResponse carries the 1-based leaderboard rank, 0 when the wallet
// has not donated
type WalletRankResponse struct {
	WalletAddress string `json:"wallet_address"`
	Rank          int    `json:"rank"`
}

// WalletDonationsResponse lists a wallet's donations, newest first
type WalletDonationsResponse struct {
	Donations []DonationResponse `json:"donations"`
}

// TotalRaisedResponse is the USD sum donated across all wallets
type TotalRaisedResponse struct {
	TotalRaised float64 `json:"total_raised"`
}

// UserResponse is the wire representation of a user profile
type UserResponse struct {
	WalletAddress string          `json:"wallet_address"`
	Username      string          `json:"username"`
	Email         string          `json:"email,omitempty"`
	Bio           string          `json:"bio,omitempty"`
	ProfileImage  string          `json:"profile_image,omitempty"`
	IsAdmin       bool            `json:"is_admin"`
	Settings      json.RawMessage `json:"settings,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastLogin     time.Time       `json:"last_login"`
}

// ManualDonationRequest records an off-chain donation on behalf of a wallet.
// The reference doubles as the idempotency key in place of a transaction hash.
type ManualDonationRequest struct {
	WalletAddress string  `json:"wallet_address" binding:"required"`
	Reference     string  `json:"reference" binding:"required"`
	USDValue      float64 `json:"usd_value" binding:"required,gt=0"`
}

// UsersResponse wraps the admin user listing
type UsersResponse struct {
	Users []UserResponse `json:"users"`
}

// ClearDataResponse reports the outcome of an admin wipe
type ClearDataResponse struct {
	Success bool `json:"success"`
}

func toDonationResponse(d *schema.Donation) *DonationResponse {
	if d == nil {
		return nil
	}
	return &DonationResponse{
		ID:            d.ID,
		TxHash:        d.TxHash,
		WalletAddress: d.WalletAddress,
		WalletDisplay: d.WalletDisplay,
		Amount:        d.Amount,
		Currency:      string(d.Currency),
		USDValue:      d.USDValue,
		Points:        d.Points,
		Chain:         string(d.Chain),
		Timestamp:     d.Timestamp,
	}
}

func toLeaderboardResponse(entries []schema.LeaderboardEntry) LeaderboardResponse {
	response := LeaderboardResponse{Entries: make([]LeaderboardEntryResponse, 0, len(entries))}
	for i, e := range entries {
		response.Entries = append(response.Entries, LeaderboardEntryResponse{
			Rank:          i + 1,
			WalletAddress: e.WalletAddress,
			WalletDisplay: e.WalletDisplay,
			Points:        e.Points,
			TotalDonated:  e.TotalDonated,
			DonationCount: e.DonationCount,
			LastDonation:  e.LastDonation,
		})
	}
	return response
}

func toUserResponse(u *schema.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		WalletAddress: u.WalletAddress,
		Username:      u.Username,
		Email:         u.Email,
		Bio:           u.Bio,
		ProfileImage:  u.ProfileImage,
		IsAdmin:       u.IsAdmin,
		Settings:      json.RawMessage(u.Settings),
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
	}
}

func toSettings(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}
