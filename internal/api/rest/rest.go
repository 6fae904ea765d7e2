package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/dehouse/donation-ledger/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Leaderboard and stats (public read access)
		v1.GET("/leaderboard", handler.GetLeaderboard)
		v1.GET("/wallets/:address/stats", handler.GetWalletStats)
		v1.GET("/wallets/:address/rank", handler.GetWalletRank)
		v1.GET("/wallets/:address/donations", handler.GetWalletDonations)
		v1.GET("/stats/total-raised", handler.GetTotalRaised)

		// Manual donation verification (open, verification result carries the outcome)
		v1.POST("/donations/verify", handler.VerifyDonation)

		// User profiles
		v1.POST("/users/login", handler.Login)
		v1.GET("/users/:address", handler.GetUser)
		v1.PUT("/users/:address", middleware.Auth(authCfg), handler.UpdateUser)

		// Admin recovery operations (requires authentication)
		v1.POST("/admin/donations", middleware.Auth(authCfg), handler.AddManualDonation)
		v1.GET("/admin/users", middleware.Auth(authCfg), handler.ListUsers)
		v1.DELETE("/admin/data", middleware.Auth(authCfg), handler.ClearData)
	}
}
