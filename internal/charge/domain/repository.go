package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the engine's view of the persistent store. Every method
// operates on the handle it is given so callers control transaction scope.
type Repository interface {
	// FindEntryByKey looks an entry up by its idempotency identity.
	// Returns nil when absent.
	FindEntryByKey(ctx context.Context, db *gorm.DB, pluginID, idempotencyKey string) (*LedgerEntry, error)

	// FindEntryByID returns nil when absent.
	FindEntryByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*LedgerEntry, error)

	// InsertEntry inserts with conflict handling on the idempotency index.
	// It reports false when a concurrent run already created the row.
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)

	// UpdateEntry rewrites the mutable fields of an existing entry.
	UpdateEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error

	// DeleteEntry removes an entry by id.
	DeleteEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// ListEntries returns one page plus one row of lookahead, newest first.
	ListEntries(ctx context.Context, db *gorm.DB, req ListEntriesRequest, limit int, beforeID *snowflake.ID) ([]*LedgerEntry, error)

	// ListEntriesAfter pages the whole ledger by ascending id for sweeps.
	ListEntriesAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*LedgerEntry, error)

	// GetOrCreateEntityAccount resolves the unique (account, entity) link,
	// creating it when absent. Safe under concurrent callers when run
	// inside a transaction: a conflicting insert falls back to re-query.
	GetOrCreateEntityAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, entityType, entityID string) (*EntityAccount, error)

	// FindEntityAccountByID returns nil when absent.
	FindEntityAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*EntityAccount, error)

	// FindAccount returns nil when absent.
	FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)

	// ListAccounts returns every ledger account.
	ListAccounts(ctx context.Context, db *gorm.DB) ([]*Account, error)

	// EffectiveConfig returns the enabled configuration that applies:
	// the employer-scoped one when present and enabled, else the enabled
	// global one, else nil.
	EffectiveConfig(ctx context.Context, db *gorm.DB, pluginID, employerID string) (*ChargeConfig, error)

	// FindConfigByID returns nil when absent.
	FindConfigByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ChargeConfig, error)
}
