package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samknelson/sirius-sub007/internal/charge/domain"
	pkgdb "github.com/samknelson/sirius-sub007/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	genID *snowflake.Node
}

// Provide returns the gorm-backed charge repository.
func Provide(genID *snowflake.Node) domain.Repository {
	return &repo{genID: genID}
}

func (r *repo) FindEntryByKey(ctx context.Context, db *gorm.DB, pluginID, idempotencyKey string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("plugin_id = ? AND idempotency_key = ?", pluginID, idempotencyKey).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) FindEntryByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := db.WithContext(ctx).Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO charge_ledger_entries (
			id, plugin_id, idempotency_key, config_id, entity_account_id,
			amount, description, ref_type, ref_id, transaction_date, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plugin_id, idempotency_key) DO NOTHING`,
		entry.ID,
		entry.PluginID,
		entry.IdempotencyKey,
		entry.ConfigID,
		entry.EntityAccountID,
		entry.Amount,
		entry.Description,
		entry.RefType,
		entry.RefID,
		entry.TransactionDate,
		entry.Metadata,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if result.Error != nil {
		// Dialects without conflict-clause support surface the race as a
		// duplicate-key error instead.
		if pkgdb.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateEntry(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`UPDATE charge_ledger_entries
		 SET amount = ?, description = ?, ref_type = ?, ref_id = ?,
		     transaction_date = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		entry.Amount,
		entry.Description,
		entry.RefType,
		entry.RefID,
		entry.TransactionDate,
		entry.Metadata,
		time.Now().UTC(),
		entry.ID,
	).Error
}

func (r *repo) DeleteEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM charge_ledger_entries WHERE id = ?`, id,
	).Error
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, req domain.ListEntriesRequest, limit int, beforeID *snowflake.ID) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	stmt := db.WithContext(ctx).Model(&domain.LedgerEntry{})
	if req.PluginID != "" {
		stmt = stmt.Where("plugin_id = ?", req.PluginID)
	}
	if req.RefType != "" {
		stmt = stmt.Where("ref_type = ?", req.RefType)
	}
	if req.RefID != "" {
		stmt = stmt.Where("ref_id = ?", req.RefID)
	}
	if req.EntityType != "" && req.EntityID != "" {
		stmt = stmt.Where(
			`entity_account_id IN (
				SELECT id FROM charge_entity_accounts WHERE entity_type = ? AND entity_id = ?
			)`,
			req.EntityType, req.EntityID,
		)
	}
	if beforeID != nil {
		stmt = stmt.Where("id < ?", *beforeID)
	}
	err := stmt.
		Order("id desc").
		Limit(limit + 1).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListEntriesAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) GetOrCreateEntityAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, entityType, entityID string) (*domain.EntityAccount, error) {
	link, err := r.findEntityAccount(ctx, db, accountID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		return link, nil
	}

	result := db.WithContext(ctx).Exec(
		`INSERT INTO charge_entity_accounts (id, account_id, entity_type, entity_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, entity_type, entity_id) DO NOTHING`,
		r.genID.Generate(),
		accountID,
		entityType,
		entityID,
		time.Now().UTC(),
	)
	if result.Error != nil && !pkgdb.IsDuplicateKeyErr(result.Error) {
		return nil, result.Error
	}

	// Either our insert landed or a concurrent one did; the re-query must
	// find the row in both cases.
	link, err = r.findEntityAccount(ctx, db, accountID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrEntityAccountFailed
	}
	return link, nil
}

func (r *repo) findEntityAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, entityType, entityID string) (*domain.EntityAccount, error) {
	var link domain.EntityAccount
	err := db.WithContext(ctx).
		Where("account_id = ? AND entity_type = ? AND entity_id = ?", accountID, entityType, entityID).
		Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *repo) FindEntityAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.EntityAccount, error) {
	var link domain.EntityAccount
	err := db.WithContext(ctx).Where("id = ?", id).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repo) ListAccounts(ctx context.Context, db *gorm.DB) ([]*domain.Account, error) {
	var accounts []*domain.Account
	err := db.WithContext(ctx).
		Order("id asc").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) EffectiveConfig(ctx context.Context, db *gorm.DB, pluginID, employerID string) (*domain.ChargeConfig, error) {
	if employerID != "" {
		override, err := r.findConfigByScope(ctx, db, pluginID, domain.ScopeEmployer, employerID)
		if err != nil {
			return nil, err
		}
		if override != nil && override.Enabled {
			return override, nil
		}
		// A disabled employer override suppresses the global config.
		if override != nil {
			return nil, nil
		}
	}
	global, err := r.findConfigByScope(ctx, db, pluginID, domain.ScopeGlobal, "")
	if err != nil {
		return nil, err
	}
	if global == nil || !global.Enabled {
		return nil, nil
	}
	return global, nil
}

func (r *repo) findConfigByScope(ctx context.Context, db *gorm.DB, pluginID string, scope domain.ConfigScope, employerID string) (*domain.ChargeConfig, error) {
	var cfg domain.ChargeConfig
	err := db.WithContext(ctx).
		Where("plugin_id = ? AND scope = ? AND employer_id = ?", pluginID, scope, employerID).
		Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *repo) FindConfigByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ChargeConfig, error) {
	var cfg domain.ChargeConfig
	err := db.WithContext(ctx).Where("id = ?", id).Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
