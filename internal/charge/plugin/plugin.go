// Package plugin defines the contract charge plugins implement and the
// reconciliation primitives the engine applies to their output.
package plugin

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/samknelson/sirius-sub007/internal/charge/domain"
)

// Metadata describes a plugin to the registry and to administrators.
// DefaultScope is the scope administrators get preselected when creating a
// configuration for the plugin.
type Metadata struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Triggers     []domain.TriggerKind `json:"triggers"`
	DefaultScope domain.ConfigScope   `json:"default_scope"`
}

// SettingsValidation is the outcome of validating a settings document.
type SettingsValidation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Invalid builds a failed validation from messages.
func Invalid(errs ...string) SettingsValidation {
	return SettingsValidation{Valid: false, Errors: errs}
}

// Valid is the passing validation.
func Valid() SettingsValidation { return SettingsValidation{Valid: true} }

// ExpectedEntry is a plugin's computed expectation for one idempotency key.
// When Void is set the key must have no persisted entry: an existing one is
// deleted and none is created.
type ExpectedEntry struct {
	IdempotencyKey  string
	Void            bool
	AccountID       snowflake.ID
	EntityType      string
	EntityID        string
	Amount          decimal.Decimal
	Description     string
	RefType         string
	RefID           string
	TransactionDate time.Time
	Metadata        map[string]any
}

// Plugin is one charge rule. Implementations must be stateless: every
// execution receives the trigger and the resolved settings explicitly.
type Plugin interface {
	// Metadata identifies the plugin and the triggers it handles.
	Metadata() Metadata

	// ValidateSettings checks an administrator-supplied settings document.
	ValidateSettings(settings map[string]any) SettingsValidation

	// Expected computes the entries this trigger should yield under the
	// given settings. An empty slice means the trigger is out of scope for
	// the plugin (wrong status, role, and so on).
	Expected(ctx context.Context, trigger domain.TriggerContext, settings map[string]any) ([]ExpectedEntry, error)

	// Recompute independently re-derives the expectation for a persisted
	// entry from its stored metadata and the current settings. It returns
	// nil when the entry should not exist. Used by verification only.
	Recompute(ctx context.Context, entry *domain.LedgerEntry, settings map[string]any) (*ExpectedEntry, error)
}

// MutationKind labels a reconciliation decision that touches the ledger.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is one ledger write the engine must apply. Existing is set for
// update and delete.
type Mutation struct {
	Kind     MutationKind
	Expected ExpectedEntry
	Existing *domain.LedgerEntry
}

// Reconcile diffs one expectation against the persisted entry under the same
// idempotency key and returns the mutation to apply, or nil for a no-op.
func Reconcile(expected ExpectedEntry, existing *domain.LedgerEntry) *Mutation {
	if existing == nil {
		if expected.Void {
			return nil
		}
		return &Mutation{Kind: MutationCreate, Expected: expected}
	}
	if expected.Void {
		return &Mutation{Kind: MutationDelete, Expected: expected, Existing: existing}
	}
	if EntryMatches(existing, expected) {
		return nil
	}
	return &Mutation{Kind: MutationUpdate, Expected: expected, Existing: existing}
}

// EntryMatches reports whether a persisted entry already satisfies the
// expectation. Transaction dates compare at day granularity.
func EntryMatches(entry *domain.LedgerEntry, expected ExpectedEntry) bool {
	if !entry.Amount.Equal(expected.Amount) {
		return false
	}
	if entry.Description != expected.Description {
		return false
	}
	if entry.RefType != expected.RefType || entry.RefID != expected.RefID {
		return false
	}
	return sameDay(entry.TransactionDate, expected.TransactionDate)
}

// Diff lists the fields on which a persisted entry departs from the
// expectation. Used by verification to name discrepancies.
func Diff(entry *domain.LedgerEntry, expected ExpectedEntry) []string {
	var out []string
	if !entry.Amount.Equal(expected.Amount) {
		out = append(out, "amount: have "+entry.Amount.StringFixed(2)+", want "+expected.Amount.StringFixed(2))
	}
	if entry.Description != expected.Description {
		out = append(out, "description: have "+entry.Description+", want "+expected.Description)
	}
	if entry.RefType != expected.RefType {
		out = append(out, "ref_type: have "+entry.RefType+", want "+expected.RefType)
	}
	if entry.RefID != expected.RefID {
		out = append(out, "ref_id: have "+entry.RefID+", want "+expected.RefID)
	}
	if !sameDay(entry.TransactionDate, expected.TransactionDate) {
		out = append(out, "transaction_date: have "+entry.TransactionDate.Format("2006-01-02")+
			", want "+expected.TransactionDate.Format("2006-01-02"))
	}
	return out
}

func sameDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.Month() == bu.Month() && au.Day() == bu.Day()
}
