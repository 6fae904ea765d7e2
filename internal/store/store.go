package store

import (
	"context"

	"gorm.io/datatypes"

	"github.com/dehouse/donation-ledger/internal/store/schema"
)

// UserInput carries the mutable profile fields for registering or updating a
// user. Empty fields keep their stored values.
type UserInput struct {
	WalletAddress string
	Username      string
	Email         string
	Bio           string
	ProfileImage  string
	Settings      datatypes.JSON
	IsAdmin       bool
}

// Store defines the interface for ledger database operations
type Store interface {
	// DonationExists checks whether a donation with the given transaction hash is committed
	DonationExists(ctx context.Context, txHash string) (bool, error)
	// GetDonationByTxHash retrieves a committed donation by transaction hash, nil when absent
	GetDonationByTxHash(ctx context.Context, txHash string) (*schema.Donation, error)
	// CommitDonation atomically inserts a donation and folds it into the
	// wallet's leaderboard aggregate. The bool result reports whether the
	// donation was already committed (in which case nothing changed).
	CommitDonation(ctx context.Context, donation *schema.Donation) (*schema.Donation, bool, error)
	// GetLeaderboard returns valid entries ordered by points descending,
	// ties broken by the earlier last donation. limit <= 0 returns all.
	GetLeaderboard(ctx context.Context, limit int) ([]schema.LeaderboardEntry, error)
	// GetUserRank returns the 1-based leaderboard rank, 0 when the wallet has no entry
	GetUserRank(ctx context.Context, walletAddress string) (int, error)
	// GetUserStats returns the wallet's aggregate entry, nil when absent
	GetUserStats(ctx context.Context, walletAddress string) (*schema.LeaderboardEntry, error)
	// GetDonationsByWallet returns all donations for a wallet, newest first
	GetDonationsByWallet(ctx context.Context, walletAddress string) ([]schema.Donation, error)
	// GetAllDonations returns every committed donation, newest first
	GetAllDonations(ctx context.Context) ([]schema.Donation, error)
	// GetTotalRaised returns the USD sum donated across all wallets
	GetTotalRaised(ctx context.Context) (float64, error)
	// ClearAll wipes donations and leaderboard entries in one transaction
	ClearAll(ctx context.Context) error

	// UpsertUser registers or updates a user profile
	UpsertUser(ctx context.Context, input UserInput) (*schema.User, error)
	// LoginUser fetches the user for a wallet, auto-registering on first login
	LoginUser(ctx context.Context, walletAddress string, isAdmin bool) (*schema.User, error)
	// GetUser retrieves a user profile, nil when absent
	GetUser(ctx context.Context, walletAddress string) (*schema.User, error)
	// GetAllUsers returns every registered user, most recently active first
	GetAllUsers(ctx context.Context) ([]schema.User, error)
}
