package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/samknelson/sirius-sub007/pkg/db/pagination"
)

// NotificationKind labels the ledger mutation surfaced to administrators.
type NotificationKind string

const (
	NotificationCreated NotificationKind = "created"
	NotificationUpdated NotificationKind = "updated"
	NotificationDeleted NotificationKind = "deleted"
)

// Notification summarizes one applied ledger mutation.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	PluginID  string           `json:"plugin_id"`
	EntryID   snowflake.ID     `json:"entry_id"`
	Amount    decimal.Decimal  `json:"amount"`
	OldAmount *decimal.Decimal `json:"old_amount,omitempty"`
}

// PluginOutcome is the per-plugin result collected into the summary. A
// skipped plugin (no enabled configuration) is a success with zero mutations.
type PluginOutcome struct {
	PluginID  string   `json:"plugin_id"`
	Success   bool     `json:"success"`
	Skipped   bool     `json:"skipped"`
	Mutations int      `json:"mutations"`
	Message   string   `json:"message,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// ExecutionSummary reports one engine run across all applicable plugins.
type ExecutionSummary struct {
	TriggerKind   TriggerKind     `json:"trigger_kind"`
	Outcomes      []PluginOutcome `json:"outcomes"`
	Mutations     int             `json:"mutations"`
	Notifications []Notification  `json:"notifications,omitempty"`
}

// VerificationResult is the structured report of one entry audit. It is a
// value, not an error: discrepancies are findings for auditors.
type VerificationResult struct {
	EntryID       snowflake.ID `json:"entry_id"`
	PluginID      string       `json:"plugin_id"`
	OK            bool         `json:"ok"`
	Discrepancies []string     `json:"discrepancies,omitempty"`
}

// SweepReport aggregates a batch verification pass over the ledger.
type SweepReport struct {
	Checked  int                  `json:"checked"`
	Failed   int                  `json:"failed"`
	Findings []VerificationResult `json:"findings,omitempty"`
}

// ListEntriesRequest filters the read-only ledger listing.
type ListEntriesRequest struct {
	pagination.Pagination
	PluginID   string
	EntityType string
	EntityID   string
	RefType    string
	RefID      string
}

// ListEntriesResponse is a page of ledger entries.
type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

// Service is the charge engine surface exposed to triggering domains and
// audit tooling.
type Service interface {
	// ExecuteForTrigger reconciles the ledger against the expectation every
	// applicable plugin computes for the trigger. Ledger writes are
	// best-effort side effects: per-plugin failures are reported in the
	// summary, never propagated to the triggering domain operation.
	ExecuteForTrigger(ctx context.Context, trigger TriggerContext) (ExecutionSummary, error)

	// VerifyEntry independently recomputes the expected entry and reports
	// discrepancies without mutating anything.
	VerifyEntry(ctx context.Context, entryID snowflake.ID) (VerificationResult, error)

	// VerifySweep audits up to batchSize persisted entries.
	VerifySweep(ctx context.Context, batchSize int) (SweepReport, error)

	// ListEntries exposes the ledger read-only for reporting.
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)

	// ListAccounts returns the ledger accounts charge entries post against.
	ListAccounts(ctx context.Context) ([]Account, error)
}

var (
	ErrUnknownTrigger      = errors.New("unknown_trigger")
	ErrUnknownPlugin       = errors.New("unknown_plugin")
	ErrEntryNotFound       = errors.New("entry_not_found")
	ErrConfigNotFound      = errors.New("config_not_found")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrEntityAccountFailed = errors.New("entity_account_resolution_failed")
)
