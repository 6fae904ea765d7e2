package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dehouse/donation-ledger/internal/api/middleware"
	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/normalizer"
	"github.com/dehouse/donation-ledger/internal/service"
	"github.com/dehouse/donation-ledger/internal/store"
)

// Verifier verifies a user supplied transaction hash and commits the donation
// when it checks out
type Verifier interface {
	VerifyByHash(ctx context.Context, txHash string, assetHint string) *service.VerificationResult
}

// Handler defines the interface for REST API handlers
// This interface allows for easy mocking and testing
type Handler interface {
	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)

	// GetLeaderboard returns ranked leaderboard entries
	// GET /api/v1/leaderboard?limit=<limit>
	GetLeaderboard(c *gin.Context)

	// GetWalletStats returns the aggregate stats for one wallet
	// GET /api/v1/wallets/:address/stats
	GetWalletStats(c *gin.Context)

	// GetWalletRank returns the wallet's 1-based leaderboard rank
	// GET /api/v1/wallets/:address/rank
	GetWalletRank(c *gin.Context)

	// GetWalletDonations returns the wallet's donations, newest first
	// GET /api/v1/wallets/:address/donations
	GetWalletDonations(c *gin.Context)

	// GetTotalRaised returns the USD sum donated across all wallets
	// GET /api/v1/stats/total-raised
	GetTotalRaised(c *gin.Context)

	// VerifyDonation verifies a transaction hash and records the donation
	// POST /api/v1/donations/verify
	VerifyDonation(c *gin.Context)

	// Login fetches the user for a wallet, auto-registering on first login
	// POST /api/v1/users/login
	Login(c *gin.Context)

	// GetUser retrieves a user profile
	// GET /api/v1/users/:address
	GetUser(c *gin.Context)

	// UpdateUser updates the authenticated wallet's profile
	// PUT /api/v1/users/:address
	UpdateUser(c *gin.Context)

	// AddManualDonation records an off-chain donation (admin only)
	// POST /api/v1/admin/donations
	AddManualDonation(c *gin.Context)

	// ListUsers returns every registered user (admin only)
	// GET /api/v1/admin/users
	ListUsers(c *gin.Context)

	// ClearData wipes the donation ledger and leaderboard (admin only)
	// DELETE /api/v1/admin/data
	ClearData(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	store       store.Store
	verifier    Verifier
	adminWallet string
}

// NewHandler creates a new REST API handler
func NewHandler(st store.Store, verifier Verifier, adminWallet string) Handler {
	return &handler{
		store:       st,
		verifier:    verifier,
		adminWallet: domain.NormalizeAddress(adminWallet),
	}
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetLeaderboard returns ranked leaderboard entries
func (h *handler) GetLeaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondValidationError(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.store.GetLeaderboard(c.Request.Context(), limit)
	if err != nil {
		respondInternalError(c, err, "Failed to load leaderboard")
		return
	}

	c.JSON(http.StatusOK, toLeaderboardResponse(entries))
}

// GetWalletStats returns the aggregate stats for one wallet
func (h *handler) GetWalletStats(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	stats, err := h.store.GetUserStats(c.Request.Context(), address)
	if err != nil {
		respondInternalError(c, err, "Failed to load wallet stats", zap.String("address", address))
		return
	}
	if stats == nil {
		respondNotFound(c, "Wallet has no donations")
		return
	}

	c.JSON(http.StatusOK, WalletStatsResponse{
		WalletAddress: stats.WalletAddress,
		WalletDisplay: stats.WalletDisplay,
		Points:        stats.Points,
		TotalDonated:  stats.TotalDonated,
		DonationCount: stats.DonationCount,
		LastDonation:  stats.LastDonation,
	})
}

// GetWalletRank returns the wallet's 1-based leaderboard rank
func (h *handler) GetWalletRank(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	rank, err := h.store.GetUserRank(c.Request.Context(), address)
	if err != nil {
		respondInternalError(c, err, "Failed to load wallet rank", zap.String("address", address))
		return
	}

	c.JSON(http.StatusOK, WalletRankResponse{
		WalletAddress: domain.NormalizeAddress(address),
		Rank:          rank,
	})
}

// GetWalletDonations returns the wallet's donations, newest first
func (h *handler) GetWalletDonations(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	donations, err := h.store.GetDonationsByWallet(c.Request.Context(), address)
	if err != nil {
		respondInternalError(c, err, "Failed to load donations", zap.String("address", address))
		return
	}

	response := WalletDonationsResponse{Donations: make([]DonationResponse, 0, len(donations))}
	for i := range donations {
		response.Donations = append(response.Donations, *toDonationResponse(&donations[i]))
	}

	c.JSON(http.StatusOK, response)
}

// GetTotalRaised returns the USD sum donated across all wallets
func (h *handler) GetTotalRaised(c *gin.Context) {
	total, err := h.store.GetTotalRaised(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Failed to load total raised")
		return
	}

	c.JSON(http.StatusOK, TotalRaisedResponse{TotalRaised: total})
}

// VerifyDonation verifies a transaction hash and records the donation.
// Verification failures are part of the response body, not HTTP errors.
func (h *handler) VerifyDonation(c *gin.Context) {
	var req VerifyDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	result := h.verifier.VerifyByHash(c.Request.Context(), req.TxHash, req.Asset)

	c.JSON(http.StatusOK, VerificationResponse{
		Verified: result.Verified,
		Message:  result.Message,
		Donation: toDonationResponse(result.Donation),
	})
}

// Login fetches the user for a wallet, auto-registering on first login
func (h *handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	isAdmin := h.adminWallet != "" && domain.NormalizeAddress(req.WalletAddress) == h.adminWallet

	user, err := h.store.LoginUser(c.Request.Context(), req.WalletAddress, isAdmin)
	if err != nil {
		respondInternalError(c, err, "Login failed", zap.String("address", req.WalletAddress))
		return
	}

	c.JSON(http.StatusOK, toUserResponse(user))
}

// GetUser retrieves a user profile
func (h *handler) GetUser(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), address)
	if err != nil {
		respondInternalError(c, err, "Failed to load user", zap.String("address", address))
		return
	}
	if user == nil {
		respondNotFound(c, "User not found")
		return
	}

	c.JSON(http.StatusOK, toUserResponse(user))
}

// UpdateUser updates the authenticated wallet's profile. A JWT caller can
// only update its own profile; API key callers can update any.
func (h *handler) UpdateUser(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	if subject := middleware.AuthSubject(c); subject != "" &&
		domain.NormalizeAddress(subject) != domain.NormalizeAddress(address) {
		respondForbidden(c, "Cannot update another wallet's profile")
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	user, err := h.store.UpsertUser(c.Request.Context(), store.UserInput{
		WalletAddress: address,
		Username:      req.Username,
		Email:         req.Email,
		Bio:           req.Bio,
		ProfileImage:  req.ProfileImage,
		Settings:      toSettings(req.Settings),
	})
	if err != nil {
		if errors.Is(err, domain.ErrUsernameTaken) {
			respondConflict(c, "Username is already taken")
			return
		}
		respondInternalError(c, err, "Failed to update user", zap.String("address", address))
		return
	}

	c.JSON(http.StatusOK, toUserResponse(user))
}

// AddManualDonation records an off-chain donation, denominated directly in
// USD, under an admin supplied reference. The reference is the idempotency
// key, so replaying the same request never double-counts.
func (h *handler) AddManualDonation(c *gin.Context) {
	if subject := middleware.AuthSubject(c); subject != "" {
		if h.adminWallet == "" || domain.NormalizeAddress(subject) != h.adminWallet {
			respondForbidden(c, "Admin access required")
			return
		}
	}

	var req ManualDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	transfer := &domain.CandidateTransfer{
		TxHash:   req.Reference,
		Sender:   req.WalletAddress,
		Amount:   req.USDValue,
		Currency: domain.CurrencyManual,
		Chain:    domain.ChainManual,
	}
	donation, err := normalizer.Normalize(transfer, 1.0, time.Now())
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	committed, duplicate, err := h.store.CommitDonation(c.Request.Context(), donation)
	if err != nil {
		respondInternalError(c, err, "Failed to record manual donation", zap.String("reference", req.Reference))
		return
	}
	if duplicate {
		respondConflict(c, "Donation reference already recorded")
		return
	}

	c.JSON(http.StatusCreated, toDonationResponse(committed))
}

// ListUsers returns every registered user. Subject to the same admin check
// as ClearData.
func (h *handler) ListUsers(c *gin.Context) {
	if subject := middleware.AuthSubject(c); subject != "" {
		if h.adminWallet == "" || domain.NormalizeAddress(subject) != h.adminWallet {
			respondForbidden(c, "Admin access required")
			return
		}
	}

	users, err := h.store.GetAllUsers(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Failed to load users")
		return
	}

	response := UsersResponse{Users: make([]UserResponse, 0, len(users))}
	for i := range users {
		response.Users = append(response.Users, *toUserResponse(&users[i]))
	}

	c.JSON(http.StatusOK, response)
}

// ClearData wipes the donation ledger and leaderboard. JWT callers must be
// the configured admin wallet; API key callers are trusted backends.
func (h *handler) ClearData(c *gin.Context) {
	if subject := middleware.AuthSubject(c); subject != "" {
		if h.adminWallet == "" || domain.NormalizeAddress(subject) != h.adminWallet {
			respondForbidden(c, "Admin access required")
			return
		}
	}

	if err := h.store.ClearAll(c.Request.Context()); err != nil {
		respondInternalError(c, err, "Failed to clear data")
		return
	}

	c.JSON(http.StatusOK, ClearDataResponse{Success: true})
}
