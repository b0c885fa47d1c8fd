package employercontrib

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/samknelson/sirius-sub007/internal/charge/domain"
)

func settings() map[string]any {
	return map[string]any{
		"account_id": "987654321",
		"rates": []any{
			map[string]any{"date": "2024-01-01", "amount": "30.00"},
		},
	}
}

func trigger(day int, hours string) domain.TriggerContext {
	return domain.TriggerContext{
		Kind: domain.TriggerHoursRecorded,
		Hours: &domain.HoursContext{
			WorkerID:   "worker-1",
			EmployerID: "emp-1",
			Year:       2024,
			Month:      7,
			Day:        day,
			Hours:      decimal.RequireFromString(hours),
		},
	}
}

func TestExpectedSharesMonthlyKey(t *testing.T) {
	p := New()
	ctx := context.Background()

	first, err := p.Expected(ctx, trigger(3, "8"), settings())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := p.Expected(ctx, trigger(25, "6"), settings())
	require.NoError(t, err)
	require.Len(t, second, 1)

	// Any qualifying day of the month lands on the same key and amount, so
	// the second record reconciles to a no-op.
	assert.Equal(t, "emp-1:worker-1:2024-07", first[0].IdempotencyKey)
	assert.Equal(t, first[0].IdempotencyKey, second[0].IdempotencyKey)
	assert.True(t, first[0].Amount.Equal(decimal.RequireFromString("30.00")))
	assert.True(t, first[0].Amount.Equal(second[0].Amount))
	assert.Equal(t, domain.EntityEmployer, first[0].EntityType)
	assert.Equal(t, time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC), first[0].TransactionDate)
}

func TestExpectedZeroHoursIsInert(t *testing.T) {
	p := New()

	exps, err := p.Expected(context.Background(), trigger(3, "0"), settings())
	require.NoError(t, err)
	assert.Empty(t, exps)
}

func TestExpectedNoRateForMonth(t *testing.T) {
	p := New()
	s := settings()
	s["rates"] = []any{map[string]any{"date": "2025-01-01", "amount": "30.00"}}

	exps, err := p.Expected(context.Background(), trigger(3, "8"), s)
	require.NoError(t, err)
	assert.Empty(t, exps)
}
