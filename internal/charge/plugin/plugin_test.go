package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/samknelson/sirius-sub007/internal/charge/domain"
)

type stubPlugin struct {
	id       string
	triggers []domain.TriggerKind
}

func (s stubPlugin) Metadata() Metadata {
	return Metadata{ID: s.id, Name: s.id, Triggers: s.triggers}
}

func (s stubPlugin) ValidateSettings(map[string]any) SettingsValidation { return Valid() }

func (s stubPlugin) Expected(context.Context, domain.TriggerContext, map[string]any) ([]ExpectedEntry, error) {
	return nil, nil
}

func (s stubPlugin) Recompute(context.Context, *domain.LedgerEntry, map[string]any) (*ExpectedEntry, error) {
	return nil, nil
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubPlugin{id: "hours_dues"}))

	err := r.Register(stubPlugin{id: "hours_dues"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsEmptyID(t *testing.T) {
	require.Error(t, NewRegistry().Register(stubPlugin{}))
}

func TestRegistryForTriggerPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubPlugin{id: "b", triggers: []domain.TriggerKind{domain.TriggerHoursRecorded}}))
	require.NoError(t, r.Register(stubPlugin{id: "a", triggers: []domain.TriggerKind{domain.TriggerHoursRecorded, domain.TriggerScheduledJob}}))
	require.NoError(t, r.Register(stubPlugin{id: "c", triggers: []domain.TriggerKind{domain.TriggerPaymentSaved}}))

	got := r.ForTrigger(domain.TriggerHoursRecorded)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Metadata().ID)
	assert.Equal(t, "a", got[1].Metadata().ID)

	assert.Empty(t, r.ForTrigger(domain.TriggerParticipantSaved))
	assert.Nil(t, r.Get("missing"))
}

func expected(key, amount string) ExpectedEntry {
	return ExpectedEntry{
		IdempotencyKey:  key,
		Amount:          decimal.RequireFromString(amount),
		Description:     "Dues for 2024-07-01",
		TransactionDate: time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
	}
}

func persisted(amount string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		Amount:          decimal.RequireFromString(amount),
		Description:     "Dues for 2024-07-01",
		TransactionDate: time.Date(2024, time.July, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestReconcileCreateWhenAbsent(t *testing.T) {
	m := Reconcile(expected("k", "50.00"), nil)
	require.NotNil(t, m)
	assert.Equal(t, MutationCreate, m.Kind)
}

func TestReconcileNoopWhenMatching(t *testing.T) {
	assert.Nil(t, Reconcile(expected("k", "50.00"), persisted("50.00")))
}

func TestReconcileUpdateOnAmountChange(t *testing.T) {
	m := Reconcile(expected("k", "62.50"), persisted("50.00"))
	require.NotNil(t, m)
	assert.Equal(t, MutationUpdate, m.Kind)
	require.NotNil(t, m.Existing)
}

func TestReconcileDeleteWhenVoid(t *testing.T) {
	exp := expected("k", "0")
	exp.Void = true

	m := Reconcile(exp, persisted("50.00"))
	require.NotNil(t, m)
	assert.Equal(t, MutationDelete, m.Kind)

	assert.Nil(t, Reconcile(exp, nil))
}

func TestDiffNamesEveryChangedField(t *testing.T) {
	exp := expected("k", "62.50")
	exp.RefType = "hours"
	exp.RefID = "h-1"
	exp.TransactionDate = time.Date(2024, time.July, 2, 0, 0, 0, 0, time.UTC)

	diffs := Diff(persisted("50.00"), exp)
	require.Len(t, diffs, 4)
	assert.Contains(t, diffs[0], "amount")
}
