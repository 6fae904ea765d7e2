package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// Open connects to the ledger database. A connection failure is wrapped in
// domain.ErrStorageUnavailable so callers treat it as a blocking condition
// rather than retrying silently.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return db, nil
}

// Migrate creates or updates the database schema
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Donation{},
		&schema.LeaderboardEntry{},
		&schema.KeyValueStore{},
		&schema.User{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return nil
}

// DonationExists checks whether a donation with the given transaction hash is committed
func (s *pgStore) DonationExists(ctx context.Context, txHash string) (bool, error) {
	if txHash == "" {
		return false, nil
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&schema.Donation{}).
		Where("tx_hash = ?", txHash).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check donation existence: %w", err)
	}

	return count > 0, nil
}

// GetDonationByTxHash retrieves a committed donation by transaction hash
func (s *pgStore) GetDonationByTxHash(ctx context.Context, txHash string) (*schema.Donation, error) {
	var donation schema.Donation
	err := s.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&donation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get donation: %w", err)
	}

	return &donation, nil
}

// CommitDonation inserts the donation and updates the wallet's leaderboard
// aggregate in a single transaction. A transaction hash that is already
// committed leaves the ledger untouched and reports duplicate=true.
func (s *pgStore) CommitDonation(ctx context.Context, donation *schema.Donation) (*schema.Donation, bool, error) {
	if donation == nil || donation.TxHash == "" || donation.WalletAddress == "" {
		return nil, false, errors.New("donation missing tx hash or wallet address")
	}
	if !validAmount(donation.Amount) || !validAmount(donation.USDValue) || donation.Points < 0 {
		return nil, false, fmt.Errorf("%w: donation %s carries invalid values", domain.ErrCorruptAggregate, donation.ID)
	}

	duplicate := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The unique tx_hash index is the idempotency backstop against
		// concurrent listeners racing on the same transaction.
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoNothing: true,
		}).Create(donation)
		if res.Error != nil {
			return fmt.Errorf("failed to create donation: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			duplicate = true
			if err := tx.Where("tx_hash = ?", donation.TxHash).First(donation).Error; err != nil {
				return fmt.Errorf("failed to load existing donation: %w", err)
			}
			return nil
		}

		var entry schema.LeaderboardEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wallet_address = ?", donation.WalletAddress).
			First(&entry).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to load leaderboard entry: %w", err)
			}
			entry = schema.LeaderboardEntry{WalletAddress: donation.WalletAddress}
		}

		if donation.WalletDisplay != "" {
			entry.WalletDisplay = donation.WalletDisplay
		}
		entry.Points += donation.Points
		entry.TotalDonated += donation.USDValue
		entry.DonationCount++
		entry.LastDonation = donation.Timestamp

		// A corrupt aggregate must abort the whole commit rather than
		// leave the ledger and leaderboard disagreeing.
		if entry.Points < 0 || !validAmount(entry.TotalDonated) || entry.DonationCount < 0 {
			return fmt.Errorf("%w: wallet %s", domain.ErrCorruptAggregate, donation.WalletAddress)
		}

		if err := tx.Save(&entry).Error; err != nil {
			return fmt.Errorf("failed to save leaderboard entry: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return donation, duplicate, nil
}

// GetLeaderboard returns leaderboard entries ordered by points descending with
// ties broken by the earlier last donation. Structurally invalid entries are
// dropped rather than returned.
func (s *pgStore) GetLeaderboard(ctx context.Context, limit int) ([]schema.LeaderboardEntry, error) {
	query := s.db.WithContext(ctx).
		Where("wallet_address <> ''").
		Order("points DESC, last_donation ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []schema.LeaderboardEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}

	valid := make([]schema.LeaderboardEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Points < 0 || !validAmount(entry.TotalDonated) {
			continue
		}
		valid = append(valid, entry)
	}

	return valid, nil
}

// GetUserRank returns the wallet's 1-based rank, 0 when the wallet has no entry
func (s *pgStore) GetUserRank(ctx context.Context, walletAddress string) (int, error) {
	entry, err := s.GetUserStats(ctx, walletAddress)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, nil
	}

	var ahead int64
	err = s.db.WithContext(ctx).
		Model(&schema.LeaderboardEntry{}).
		Where("points > ? OR (points = ? AND last_donation < ?)", entry.Points, entry.Points, entry.LastDonation).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}

	return int(ahead) + 1, nil
}

// GetUserStats returns the wallet's aggregate entry, nil when absent
func (s *pgStore) GetUserStats(ctx context.Context, walletAddress string) (*schema.LeaderboardEntry, error) {
	addr := domain.NormalizeAddress(walletAddress)
	if addr == "" {
		return nil, nil
	}

	var entry schema.LeaderboardEntry
	err := s.db.WithContext(ctx).Where("wallet_address = ?", addr).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}

	return &entry, nil
}

// GetDonationsByWallet returns all donations for a wallet, newest first
func (s *pgStore) GetDonationsByWallet(ctx context.Context, walletAddress string) ([]schema.Donation, error) {
	addr := domain.NormalizeAddress(walletAddress)
	if addr == "" {
		return nil, nil
	}

	var donations []schema.Donation
	err := s.db.WithContext(ctx).
		Where("wallet_address = ?", addr).
		Order("timestamp DESC").
		Find(&donations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get donations for wallet: %w", err)
	}

	return donations, nil
}

// GetAllDonations returns every committed donation, newest first
func (s *pgStore) GetAllDonations(ctx context.Context) ([]schema.Donation, error) {
	var donations []schema.Donation
	err := s.db.WithContext(ctx).Order("timestamp DESC").Find(&donations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get donations: %w", err)
	}

	return donations, nil
}

// GetTotalRaised returns the USD sum donated across all wallets
func (s *pgStore) GetTotalRaised(ctx context.Context) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).
		Model(&schema.LeaderboardEntry{}).
		Select("COALESCE(SUM(total_donated), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum total raised: %w", err)
	}

	return total, nil
}

// ClearAll wipes donations and leaderboard entries in one transaction
func (s *pgStore) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM donations").Error; err != nil {
			return fmt.Errorf("failed to clear donations: %w", err)
		}
		if err := tx.Exec("DELETE FROM leaderboard_entries").Error; err != nil {
			return fmt.Errorf("failed to clear leaderboard: %w", err)
		}
		return nil
	})
}

// UpsertUser registers or updates a user profile. Empty input fields keep the
// stored values; a first registration without a username gets a derived one.
func (s *pgStore) UpsertUser(ctx context.Context, input UserInput) (*schema.User, error) {
	addr := domain.NormalizeAddress(input.WalletAddress)
	if addr == "" {
		return nil, errors.New("wallet address required")
	}

	var user schema.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("wallet_address = ?", addr).First(&user).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to load user: %w", err)
			}
			user = schema.User{WalletAddress: addr}
		}

		username := input.Username
		if username == "" {
			username = user.Username
		}
		if username == "" {
			username = defaultUsername(addr)
		}

		if username != user.Username {
			var clash schema.User
			err := tx.Where("username = ? AND wallet_address <> ?", username, addr).First(&clash).Error
			if err == nil {
				return domain.ErrUsernameTaken
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to check username: %w", err)
			}
		}

		user.Username = username
		if input.Email != "" {
			user.Email = input.Email
		}
		if input.Bio != "" {
			user.Bio = input.Bio
		}
		if input.ProfileImage != "" {
			user.ProfileImage = input.ProfileImage
		}
		if input.Settings != nil {
			user.Settings = input.Settings
		}
		user.IsAdmin = input.IsAdmin
		user.LastLogin = time.Now().UTC()

		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// LoginUser fetches the user for a wallet, auto-registering on first login
func (s *pgStore) LoginUser(ctx context.Context, walletAddress string, isAdmin bool) (*schema.User, error) {
	return s.UpsertUser(ctx, UserInput{
		WalletAddress: walletAddress,
		IsAdmin:       isAdmin,
	})
}

// GetAllUsers returns every registered user, most recently active first
func (s *pgStore) GetAllUsers(ctx context.Context) ([]schema.User, error) {
	var users []schema.User
	err := s.db.WithContext(ctx).Order("last_login DESC").Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	return users, nil
}

// GetUser retrieves a user profile, nil when absent
func (s *pgStore) GetUser(ctx context.Context, walletAddress string) (*schema.User, error) {
	addr := domain.NormalizeAddress(walletAddress)
	if addr == "" {
		return nil, nil
	}

	var user schema.User
	err := s.db.WithContext(ctx).Where("wallet_address = ?", addr).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// defaultUsername derives a stable placeholder username from a wallet address
func defaultUsername(addr string) string {
	if len(addr) > 8 {
		addr = addr[:8]
	}
	return "user_" + addr
}

// validAmount reports whether a monetary value is finite and non-negative
func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
