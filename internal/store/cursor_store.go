package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/store/schema"
)

// CursorStore defines the interface for storing and retrieving poll watermarks.
// Cursors are opaque strings: a block number for Ethereum, a txid for Bitcoin
// and a signature for Solana.
type CursorStore interface {
	// GetPollCursor retrieves the last processed cursor for a chain scope
	GetPollCursor(ctx context.Context, chain domain.Chain, scope string) (string, error)
	// SetPollCursor stores the last processed cursor for a chain scope
	SetPollCursor(ctx context.Context, chain domain.Chain, scope string, value string) error
}

type cursorStore struct {
	db *gorm.DB
}

// NewCursorStore creates a new cursor store
func NewCursorStore(db *gorm.DB) CursorStore {
	return &cursorStore{db: db}
}

// GetPollCursor retrieves the last processed cursor for a chain scope.
// Returns an empty string when no cursor exists yet.
func (s *cursorStore) GetPollCursor(ctx context.Context, chain domain.Chain, scope string) (string, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", cursorKey(chain, scope)).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get poll cursor: %w", err)
	}

	return kv.Value, nil
}

// SetPollCursor stores the last processed cursor for a chain scope
func (s *cursorStore) SetPollCursor(ctx context.Context, chain domain.Chain, scope string, value string) error {
	kv := schema.KeyValueStore{
		Key:   cursorKey(chain, scope),
		Value: value,
	}

	if err := s.db.WithContext(ctx).Save(&kv).Error; err != nil {
		return fmt.Errorf("failed to set poll cursor: %w", err)
	}

	return nil
}

func cursorKey(chain domain.Chain, scope string) string {
	if scope == "" {
		return fmt.Sprintf("poll_cursor:%s", chain)
	}
	return fmt.Sprintf("poll_cursor:%s:%s", chain, scope)
}
