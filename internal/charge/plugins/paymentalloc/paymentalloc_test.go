package paymentalloc

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/clock"
	"gorm.io/datatypes"
)

func paymentTrigger(status string) domain.TriggerContext {
	cleared := time.Date(2024, time.July, 10, 0, 0, 0, 0, time.UTC)
	return domain.TriggerContext{
		Kind: domain.TriggerPaymentSaved,
		Payment: &domain.PaymentContext{
			PaymentID:     "pay-1",
			Amount:        "100.00",
			Status:        status,
			AccountID:     snowflake.ID(42),
			EntityType:    domain.EntityWorker,
			EntityID:      "worker-1",
			ClearedDate:   &cleared,
			PaymentTypeID: "check",
		},
	}
}

func TestExpectedClearedPaymentCredits(t *testing.T) {
	p := New(clock.NewFakeClock(time.Now()))

	exps, err := p.Expected(context.Background(), paymentTrigger(domain.PaymentStatusCleared), map[string]any{})
	require.NoError(t, err)
	require.Len(t, exps, 1)

	exp := exps[0]
	assert.Equal(t, "payment:pay-1", exp.IdempotencyKey)
	assert.False(t, exp.Void)
	assert.True(t, exp.Amount.Equal(decimal.RequireFromString("-100.00")), exp.Amount.String())
	assert.Equal(t, "payment", exp.RefType)
	assert.Equal(t, "pay-1", exp.RefID)
	assert.Equal(t, time.July, exp.TransactionDate.Month())
}

func TestExpectedNonClearedPaymentVoids(t *testing.T) {
	p := New(clock.NewFakeClock(time.Now()))

	for _, status := range []string{"pending", "canceled", "bounced"} {
		exps, err := p.Expected(context.Background(), paymentTrigger(status), map[string]any{})
		require.NoError(t, err)
		require.Len(t, exps, 1)
		assert.True(t, exps[0].Void, status)
	}
}

func TestExpectedPaymentTypeFilter(t *testing.T) {
	p := New(clock.NewFakeClock(time.Now()))
	settings := map[string]any{"payment_type_ids": []any{"ach"}}

	exps, err := p.Expected(context.Background(), paymentTrigger(domain.PaymentStatusCleared), settings)
	require.NoError(t, err)
	assert.Empty(t, exps)
}

func TestExpectedMalformedAmount(t *testing.T) {
	p := New(clock.NewFakeClock(time.Now()))
	trigger := paymentTrigger(domain.PaymentStatusCleared)
	trigger.Payment.Amount = "not-a-number"

	_, err := p.Expected(context.Background(), trigger, map[string]any{})
	require.Error(t, err)
}

func TestRecomputeMirrorsStatus(t *testing.T) {
	p := New(clock.NewFakeClock(time.Now()))
	entry := &domain.LedgerEntry{
		PluginID:        ID,
		IdempotencyKey:  "payment:pay-1",
		Amount:          decimal.RequireFromString("-100.00"),
		TransactionDate: time.Date(2024, time.July, 10, 0, 0, 0, 0, time.UTC),
		Metadata: datatypes.JSONMap{
			"payment_id": "pay-1",
			"amount":     "100",
			"status":     domain.PaymentStatusCleared,
		},
	}

	exp, err := p.Recompute(context.Background(), entry, map[string]any{})
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.True(t, exp.Amount.Equal(decimal.RequireFromString("-100.00")))

	entry.Metadata["status"] = "canceled"
	exp, err = p.Recompute(context.Background(), entry, map[string]any{})
	require.NoError(t, err)
	assert.True(t, exp.Void)
}
