package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auditdomain "github.com/samknelson/sirius-sub007/internal/audit/domain"
	auditrepository "github.com/samknelson/sirius-sub007/internal/audit/repository"
	auditservice "github.com/samknelson/sirius-sub007/internal/audit/service"
	chargedomain "github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"github.com/samknelson/sirius-sub007/internal/charge/plugins/hoursdues"
	"github.com/samknelson/sirius-sub007/internal/charge/plugins/paymentalloc"
	"github.com/samknelson/sirius-sub007/internal/charge/repository"
	"github.com/samknelson/sirius-sub007/internal/clock"
	"github.com/samknelson/sirius-sub007/internal/config"
	"github.com/samknelson/sirius-sub007/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type harness struct {
	db      *gorm.DB
	node    *snowflake.Node
	svc     chargedomain.Service
	repo    chargedomain.Repository
	reg     *plugin.Registry
	clock   *clock.FakeClock
	account *chargedomain.Account
}

func setup(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&chargedomain.Account{},
		&chargedomain.EntityAccount{},
		&chargedomain.LedgerEntry{},
		&chargedomain.ChargeConfig{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})

	clk := clock.NewFakeClock(time.Date(2024, time.July, 20, 12, 0, 0, 0, time.UTC))
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(hoursdues.New()))
	require.NoError(t, reg.Register(paymentalloc.New(clk)))

	repo := repository.Provide(node)
	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Repo:     repo,
		Registry: reg,
		Clock:    clk,
		Holder:   config.NewStaticChargeConfigHolder(config.DefaultChargeConfig()),
		AuditSvc: auditSvc,
	})

	account := &chargedomain.Account{
		ID:        node.Generate(),
		Name:      "Dues Receivable",
		Currency:  "USD",
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(account).Error)

	return &harness{db: db, node: node, svc: svc, repo: repo, reg: reg, clock: clk, account: account}
}

func (h *harness) seedConfig(t *testing.T, pluginID string, scope chargedomain.ConfigScope, employerID string, enabled bool, settings datatypes.JSONMap) *chargedomain.ChargeConfig {
	t.Helper()
	cfg := &chargedomain.ChargeConfig{
		ID:         h.node.Generate(),
		PluginID:   pluginID,
		Scope:      scope,
		EmployerID: employerID,
		Enabled:    enabled,
		Settings:   settings,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, h.db.Create(cfg).Error)
	return cfg
}

func (h *harness) duesSettings(rate string) datatypes.JSONMap {
	return datatypes.JSONMap{
		"account_id": h.account.ID.String(),
		"rates": []any{
			map[string]any{"date": "2024-01-01", "amount": rate},
		},
	}
}

func hoursTrigger(workerID, employerID string, hours string) chargedomain.TriggerContext {
	return chargedomain.TriggerContext{
		Kind: chargedomain.TriggerHoursRecorded,
		Hours: &chargedomain.HoursContext{
			WorkerID:   workerID,
			EmployerID: employerID,
			Year:       2024,
			Month:      7,
			Day:        15,
			Hours:      decimal.RequireFromString(hours),
			Home:       true,
		},
	}
}

func outcomeFor(t *testing.T, summary chargedomain.ExecutionSummary, pluginID string) chargedomain.PluginOutcome {
	t.Helper()
	for _, o := range summary.Outcomes {
		if o.PluginID == pluginID {
			return o
		}
	}
	t.Fatalf("no outcome for plugin %s", pluginID)
	return chargedomain.PluginOutcome{}
}

func TestHoursDuesLifecycle(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeGlobal, "", true, h.duesSettings("5.00"))

	// First run creates the entry: 10 hours at 5.00.
	summary, err := h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-1", "10"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mutations)
	require.Len(t, summary.Notifications, 1)
	assert.Equal(t, chargedomain.NotificationCreated, summary.Notifications[0].Kind)

	entry, err := h.repo.FindEntryByKey(ctx, h.db, hoursdues.ID, "worker-1:emp-1:2024-07-15")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("50.00")), entry.Amount.String())

	// Replaying the same trigger converges to a no-op.
	summary, err = h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-1", "10"))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Mutations)
	outcome := outcomeFor(t, summary, hoursdues.ID)
	assert.True(t, outcome.Success)
	assert.False(t, outcome.Skipped)

	// A rate change reconciles the existing entry to the new amount.
	require.NoError(t, h.db.Model(&chargedomain.ChargeConfig{}).
		Where("plugin_id = ?", hoursdues.ID).
		Update("settings", h.duesSettings("6.25")).Error)
	summary, err = h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-1", "10"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mutations)
	require.Len(t, summary.Notifications, 1)
	assert.Equal(t, chargedomain.NotificationUpdated, summary.Notifications[0].Kind)
	require.NotNil(t, summary.Notifications[0].OldAmount)
	assert.True(t, summary.Notifications[0].OldAmount.Equal(decimal.RequireFromString("50.00")))

	entry, err = h.repo.FindEntryByKey(ctx, h.db, hoursdues.ID, "worker-1:emp-1:2024-07-15")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("62.50")), entry.Amount.String())

	// Zeroing out the hours deletes the entry.
	summary, err = h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-1", "0"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mutations)
	require.Len(t, summary.Notifications, 1)
	assert.Equal(t, chargedomain.NotificationDeleted, summary.Notifications[0].Kind)

	entry, err = h.repo.FindEntryByKey(ctx, h.db, hoursdues.ID, "worker-1:emp-1:2024-07-15")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Audit trail covers the whole lifecycle.
	var actions []string
	require.NoError(t, h.db.Model(&auditdomain.AuditLog{}).
		Order("id asc").Pluck("action", &actions).Error)
	assert.Equal(t, []string{"charge.entry.created", "charge.entry.updated", "charge.entry.deleted"}, actions)
}

func TestPluginWithoutConfigIsSkipped(t *testing.T) {
	h := setup(t)

	summary, err := h.svc.ExecuteForTrigger(context.Background(), hoursTrigger("worker-1", "emp-1", "10"))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Mutations)

	outcome := outcomeFor(t, summary, hoursdues.ID)
	assert.True(t, outcome.Skipped)
	assert.True(t, outcome.Success)
}

func TestEmployerOverrideRate(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeGlobal, "", true, h.duesSettings("5.00"))
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeEmployer, "emp-2", true, h.duesSettings("4.00"))
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeEmployer, "emp-3", false, h.duesSettings("9.99"))

	// Override applies to its employer.
	_, err := h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-2", "10"))
	require.NoError(t, err)
	entry, err := h.repo.FindEntryByKey(ctx, h.db, hoursdues.ID, "worker-1:emp-2:2024-07-15")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("40.00")))

	// Other employers use the global rate.
	_, err = h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-1", "10"))
	require.NoError(t, err)
	entry, err = h.repo.FindEntryByKey(ctx, h.db, hoursdues.ID, "worker-1:emp-1:2024-07-15")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("50.00")))

	// A disabled override suppresses the plugin for that employer.
	summary, err := h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-3", "10"))
	require.NoError(t, err)
	assert.True(t, outcomeFor(t, summary, hoursdues.ID).Skipped)
}

func TestPaymentAllocationLifecycle(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedConfig(t, paymentalloc.ID, chargedomain.ScopeGlobal, "", true, datatypes.JSONMap{})

	cleared := time.Date(2024, time.July, 10, 0, 0, 0, 0, time.UTC)
	trigger := chargedomain.TriggerContext{
		Kind: chargedomain.TriggerPaymentSaved,
		Payment: &chargedomain.PaymentContext{
			PaymentID:   "pay-1",
			Amount:      "100.00",
			Status:      chargedomain.PaymentStatusCleared,
			AccountID:   h.account.ID,
			EntityType:  chargedomain.EntityWorker,
			EntityID:    "worker-1",
			ClearedDate: &cleared,
		},
	}

	summary, err := h.svc.ExecuteForTrigger(ctx, trigger)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mutations)

	entry, err := h.repo.FindEntryByKey(ctx, h.db, paymentalloc.ID, "payment:pay-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("-100.00")), entry.Amount.String())

	// The payment bouncing back out of cleared withdraws the credit.
	trigger.Payment.Status = "canceled"
	summary, err = h.svc.ExecuteForTrigger(ctx, trigger)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mutations)

	entry, err = h.repo.FindEntryByKey(ctx, h.db, paymentalloc.ID, "payment:pay-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

type panickyPlugin struct{}

func (panickyPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:       "panicky",
		Name:     "Panicky",
		Triggers: []chargedomain.TriggerKind{chargedomain.TriggerHoursRecorded},
	}
}

func (panickyPlugin) ValidateSettings(map[string]any) plugin.SettingsValidation {
	return plugin.Valid()
}

func (panickyPlugin) Expected(context.Context, chargedomain.TriggerContext, map[string]any) ([]plugin.ExpectedEntry, error) {
	panic("boom")
}

func (panickyPlugin) Recompute(context.Context, *chargedomain.LedgerEntry, map[string]any) (*plugin.ExpectedEntry, error) {
	return nil, nil
}

func TestPluginPanicIsIsolated(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	require.NoError(t, h.reg.Register(panickyPlugin{}))
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeGlobal, "", true, h.duesSettings("5.00"))
	h.seedConfig(t, "panicky", chargedomain.ScopeGlobal, "", true, datatypes.JSONMap{})

	summary, err := h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-1", "10"))
	require.NoError(t, err)

	panicked := outcomeFor(t, summary, "panicky")
	assert.False(t, panicked.Success)
	require.NotEmpty(t, panicked.Errors)
	assert.Contains(t, panicked.Errors[0], "panic")

	// The well-behaved plugin still committed its entry.
	assert.True(t, outcomeFor(t, summary, hoursdues.ID).Success)
	entry, err := h.repo.FindEntryByKey(ctx, h.db, hoursdues.ID, "worker-1:emp-1:2024-07-15")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestUnknownTriggerRejected(t *testing.T) {
	h := setup(t)

	_, err := h.svc.ExecuteForTrigger(context.Background(), chargedomain.TriggerContext{Kind: "bogus"})
	assert.ErrorIs(t, err, chargedomain.ErrUnknownTrigger)
}

func TestNotificationsSuppressedByConfig(t *testing.T) {
	h := setup(t)
	cfg := config.DefaultChargeConfig()
	cfg.NotificationsEnabled = false
	svc := NewService(Params{
		DB:       h.db,
		Log:      zap.NewNop(),
		GenID:    h.node,
		Repo:     h.repo,
		Registry: h.reg,
		Clock:    h.clock,
		Holder:   config.NewStaticChargeConfigHolder(cfg),
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB:    h.db,
			Log:   zap.NewNop(),
			GenID: h.node,
			Repo:  auditrepository.Provide(),
		}),
	})
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeGlobal, "", true, h.duesSettings("5.00"))

	summary, err := svc.ExecuteForTrigger(context.Background(), hoursTrigger("worker-1", "emp-1", "10"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Mutations)
	assert.Nil(t, summary.Notifications)
}

func TestVerifyEntryDetectsTampering(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeGlobal, "", true, h.duesSettings("5.00"))

	_, err := h.svc.ExecuteForTrigger(ctx, hoursTrigger("worker-1", "emp-1", "10"))
	require.NoError(t, err)
	entry, err := h.repo.FindEntryByKey(ctx, h.db, hoursdues.ID, "worker-1:emp-1:2024-07-15")
	require.NoError(t, err)
	require.NotNil(t, entry)

	// Untouched entry verifies clean.
	result, err := h.svc.VerifyEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, result.OK)

	// Tamper with the amount behind the engine's back.
	require.NoError(t, h.db.Model(&chargedomain.LedgerEntry{}).
		Where("id = ?", entry.ID).
		Update("amount", decimal.RequireFromString("99.00")).Error)

	result, err = h.svc.VerifyEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotEmpty(t, result.Discrepancies)
	assert.Contains(t, result.Discrepancies[0], "amount")

	var count int64
	require.NoError(t, h.db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", "charge.entry.verification_failed").
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestVerifyEntryNotFound(t *testing.T) {
	h := setup(t)

	_, err := h.svc.VerifyEntry(context.Background(), h.node.Generate())
	assert.ErrorIs(t, err, chargedomain.ErrEntryNotFound)
}

func TestVerifySweep(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeGlobal, "", true, h.duesSettings("5.00"))

	for i := 1; i <= 3; i++ {
		trigger := hoursTrigger(fmt.Sprintf("worker-%d", i), "emp-1", "8")
		_, err := h.svc.ExecuteForTrigger(ctx, trigger)
		require.NoError(t, err)
	}

	// Tamper with one of the three.
	entry, err := h.repo.FindEntryByKey(ctx, h.db, hoursdues.ID, "worker-2:emp-1:2024-07-15")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NoError(t, h.db.Model(&chargedomain.LedgerEntry{}).
		Where("id = ?", entry.ID).
		Update("description", "edited by hand").Error)

	report, err := h.svc.VerifySweep(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, entry.ID, report.Findings[0].EntryID)
}

func TestListEntriesPagination(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedConfig(t, hoursdues.ID, chargedomain.ScopeGlobal, "", true, h.duesSettings("5.00"))

	for i := 1; i <= 5; i++ {
		_, err := h.svc.ExecuteForTrigger(ctx, hoursTrigger(fmt.Sprintf("worker-%d", i), "emp-1", "8"))
		require.NoError(t, err)
	}

	resp, err := h.svc.ListEntries(ctx, chargedomain.ListEntriesRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		PluginID:   hoursdues.ID,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Entries, 2)
	assert.True(t, resp.HasMore)
	require.NotEmpty(t, resp.NextPageToken)

	resp2, err := h.svc.ListEntries(ctx, chargedomain.ListEntriesRequest{
		Pagination: pagination.Pagination{PageSize: 10, PageToken: resp.NextPageToken},
		PluginID:   hoursdues.ID,
	})
	require.NoError(t, err)
	assert.Len(t, resp2.Entries, 3)
	assert.False(t, resp2.HasMore)

	_, err = h.svc.ListEntries(ctx, chargedomain.ListEntriesRequest{
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, chargedomain.ErrInvalidPageToken)
}
