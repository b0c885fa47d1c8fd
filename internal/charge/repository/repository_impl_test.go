package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/samknelson/sirius-sub007/internal/charge/domain"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// Serialize writes; the shared-cache in-memory driver does not tolerate
	// concurrent writers.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&domain.Account{},
		&domain.EntityAccount{},
		&domain.LedgerEntry{},
		&domain.ChargeConfig{},
	))
	return db
}

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return Provide(node)
}

func newEntry(node *snowflake.Node, pluginID, key, amount string) *domain.LedgerEntry {
	now := time.Now().UTC()
	return &domain.LedgerEntry{
		ID:              node.Generate(),
		PluginID:        pluginID,
		IdempotencyKey:  key,
		ConfigID:        node.Generate(),
		EntityAccountID: node.Generate(),
		Amount:          decimal.RequireFromString(amount),
		Description:     "test entry",
		TransactionDate: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestInsertEntryIdempotencyConflict(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)
	node, _ := snowflake.NewNode(2)
	ctx := context.Background()

	inserted, err := repo.InsertEntry(ctx, db, newEntry(node, "hours_dues", "worker-1:emp-1:2024-07-01", "50.00"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same key again must be swallowed by the conflict clause.
	inserted, err = repo.InsertEntry(ctx, db, newEntry(node, "hours_dues", "worker-1:emp-1:2024-07-01", "60.00"))
	require.NoError(t, err)
	assert.False(t, inserted)

	entry, err := repo.FindEntryByKey(ctx, db, "hours_dues", "worker-1:emp-1:2024-07-01")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("50.00")))

	// A different plugin may reuse the key.
	inserted, err = repo.InsertEntry(ctx, db, newEntry(node, "employer_contrib", "worker-1:emp-1:2024-07-01", "12.00"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestFindEntryByKeyAbsent(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)

	entry, err := repo.FindEntryByKey(context.Background(), db, "hours_dues", "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestUpdateAndDeleteEntry(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)
	node, _ := snowflake.NewNode(3)
	ctx := context.Background()

	entry := newEntry(node, "hours_dues", "k1", "50.00")
	_, err := repo.InsertEntry(ctx, db, entry)
	require.NoError(t, err)

	entry.Amount = decimal.RequireFromString("62.50")
	entry.Description = "revised"
	require.NoError(t, repo.UpdateEntry(ctx, db, entry))

	got, err := repo.FindEntryByID(ctx, db, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("62.50")))
	assert.Equal(t, "revised", got.Description)

	require.NoError(t, repo.DeleteEntry(ctx, db, entry.ID))
	got, err = repo.FindEntryByID(ctx, db, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetOrCreateEntityAccountReusesLink(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)
	node, _ := snowflake.NewNode(4)
	ctx := context.Background()
	accountID := node.Generate()

	first, err := repo.GetOrCreateEntityAccount(ctx, db, accountID, domain.EntityWorker, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := repo.GetOrCreateEntityAccount(ctx, db, accountID, domain.EntityWorker, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	other, err := repo.GetOrCreateEntityAccount(ctx, db, accountID, domain.EntityEmployer, "emp-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetOrCreateEntityAccountConcurrent(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)
	node, _ := snowflake.NewNode(5)
	ctx := context.Background()
	accountID := node.Generate()

	const workers = 8
	ids := make([]snowflake.ID, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			link, err := repo.GetOrCreateEntityAccount(ctx, db, accountID, domain.EntityWorker, "worker-42")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = link.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, db.Model(&domain.EntityAccount{}).
		Where("account_id = ?", accountID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func seedConfig(t *testing.T, db *gorm.DB, node *snowflake.Node, pluginID string, scope domain.ConfigScope, employerID string, enabled bool) *domain.ChargeConfig {
	t.Helper()
	cfg := &domain.ChargeConfig{
		ID:         node.Generate(),
		PluginID:   pluginID,
		Scope:      scope,
		EmployerID: employerID,
		Enabled:    enabled,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(cfg).Error)
	return cfg
}

func TestEffectiveConfigEmployerOverrideWins(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)
	node, _ := snowflake.NewNode(6)
	ctx := context.Background()

	seedConfig(t, db, node, "hours_dues", domain.ScopeGlobal, "", true)
	override := seedConfig(t, db, node, "hours_dues", domain.ScopeEmployer, "emp-1", true)

	got, err := repo.EffectiveConfig(ctx, db, "hours_dues", "emp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, override.ID, got.ID)

	// Another employer falls through to the global config.
	got, err = repo.EffectiveConfig(ctx, db, "hours_dues", "emp-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.ScopeGlobal, got.Scope)
}

func TestEffectiveConfigDisabledOverrideSuppressesGlobal(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)
	node, _ := snowflake.NewNode(7)
	ctx := context.Background()

	seedConfig(t, db, node, "hours_dues", domain.ScopeGlobal, "", true)
	seedConfig(t, db, node, "hours_dues", domain.ScopeEmployer, "emp-1", false)

	got, err := repo.EffectiveConfig(ctx, db, "hours_dues", "emp-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEffectiveConfigNoneConfigured(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)

	got, err := repo.EffectiveConfig(context.Background(), db, "hours_dues", "emp-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// A disabled global config is the same as none.
	node, _ := snowflake.NewNode(8)
	seedConfig(t, db, node, "stipends", domain.ScopeGlobal, "", false)
	got, err = repo.EffectiveConfig(context.Background(), db, "stipends", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListEntriesFiltersAndPages(t *testing.T) {
	db := setupDB(t)
	repo := newRepo(t)
	node, _ := snowflake.NewNode(9)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := newEntry(node, "hours_dues", fmt.Sprintf("k-%d", i), "10.00")
		entry.RefType = "hours"
		entry.RefID = fmt.Sprintf("h-%d", i)
		_, err := repo.InsertEntry(ctx, db, entry)
		require.NoError(t, err)
	}
	other := newEntry(node, "employer_contrib", "k-other", "5.00")
	_, err := repo.InsertEntry(ctx, db, other)
	require.NoError(t, err)

	entries, err := repo.ListEntries(ctx, db, domain.ListEntriesRequest{PluginID: "hours_dues"}, 3, nil)
	require.NoError(t, err)
	// Limit plus one row of lookahead.
	assert.Len(t, entries, 4)

	entries, err = repo.ListEntries(ctx, db, domain.ListEntriesRequest{RefID: "h-2"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k-2", entries[0].IdempotencyKey)
}
