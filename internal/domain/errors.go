package domain

import "errors"

var (
	// ErrTxNotFound is returned when a transaction cannot be found on chain
	ErrTxNotFound = errors.New("transaction not found")

	// ErrTxUnconfirmed is returned when a transaction is pending or failed on chain
	ErrTxUnconfirmed = errors.New("transaction unconfirmed or failed")

	// ErrWrongAsset is returned when a transaction does not pay the treasury in the expected asset
	ErrWrongAsset = errors.New("transaction does not pay the treasury in the expected asset")

	// ErrZeroAmount is returned when the transferred amount is zero or negative
	ErrZeroAmount = errors.New("zero or negative donation amount")

	// ErrInvalidPrice is returned when no valid USD price is available for a donation
	ErrInvalidPrice = errors.New("no valid USD price for donation")

	// ErrCorruptAggregate is returned when a leaderboard update would produce an invalid aggregate
	ErrCorruptAggregate = errors.New("leaderboard aggregate would become invalid")

	// ErrStorageUnavailable is returned when the ledger database cannot be opened
	ErrStorageUnavailable = errors.New("ledger storage unavailable")

	// ErrUnsupportedAsset is returned when an asset hint does not map to a known currency
	ErrUnsupportedAsset = errors.New("unsupported asset")

	// ErrUsernameTaken is returned when registering a user with a username that is already in use
	ErrUsernameTaken = errors.New("username already taken")

	// ErrUserNotFound is returned when a user profile does not exist
	ErrUserNotFound = errors.New("user not found")
)
