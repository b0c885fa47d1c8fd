// Package employercontrib charges employers a flat monthly contribution for
// each worker with recorded hours in the month. The first qualifying hours
// record of a month creates the entry; later records in the same month
// reconcile to a no-op under the shared monthly key.
package employercontrib

import (
	"context"
	"fmt"
	"time"

	"github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"github.com/samknelson/sirius-sub007/internal/charge/rate"
)

const ID = "employer_contrib"

const monthLayout = "2006-01"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:           ID,
		Name:         "Employer Contribution",
		Description:  "Charges employers a flat monthly amount per worker with recorded hours.",
		Triggers:     []domain.TriggerKind{domain.TriggerHoursRecorded},
		DefaultScope: domain.ScopeEmployer,
	}
}

func (p *Plugin) ValidateSettings(settings map[string]any) plugin.SettingsValidation {
	var errs []string
	if _, ok := plugin.SettingAccountID(settings, "account_id"); !ok {
		errs = append(errs, "account_id is required")
	}
	if rate.ParseTable(settings["rates"]).Len() == 0 {
		errs = append(errs, "rates must contain at least one valid dated rate")
	}
	if len(errs) > 0 {
		return plugin.Invalid(errs...)
	}
	return plugin.Valid()
}

func (p *Plugin) Expected(_ context.Context, trigger domain.TriggerContext, settings map[string]any) ([]plugin.ExpectedEntry, error) {
	h := trigger.Hours
	if h == nil {
		return nil, nil
	}
	// A zero-hours record says nothing about the rest of the month, so it
	// neither creates nor voids the monthly entry.
	if h.Hours.Sign() <= 0 {
		return nil, nil
	}
	exp, err := compute(h.EmployerID, h.WorkerID, monthStart(h.Date()), settings)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, nil
	}
	return []plugin.ExpectedEntry{*exp}, nil
}

func (p *Plugin) Recompute(_ context.Context, entry *domain.LedgerEntry, settings map[string]any) (*plugin.ExpectedEntry, error) {
	employerID, _ := entry.Metadata["employer_id"].(string)
	workerID, _ := entry.Metadata["worker_id"].(string)
	monthStr, _ := entry.Metadata["month"].(string)
	if employerID == "" || workerID == "" || monthStr == "" {
		return nil, fmt.Errorf("entry %s is missing contribution metadata", entry.ID)
	}
	month, err := time.ParseInLocation(monthLayout, monthStr, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("entry %s has malformed month metadata: %w", entry.ID, err)
	}
	return compute(employerID, workerID, month, settings)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func compute(employerID, workerID string, month time.Time, settings map[string]any) (*plugin.ExpectedEntry, error) {
	monthlyRate := rate.ParseTable(settings["rates"]).Resolve(month)
	if monthlyRate == nil {
		return nil, nil
	}
	accountID, ok := plugin.SettingAccountID(settings, "account_id")
	if !ok {
		return nil, fmt.Errorf("account_id setting is missing")
	}
	return &plugin.ExpectedEntry{
		IdempotencyKey:  fmt.Sprintf("%s:%s:%s", employerID, workerID, month.Format(monthLayout)),
		AccountID:       accountID,
		EntityType:      domain.EntityEmployer,
		EntityID:        employerID,
		Amount:          monthlyRate.Round(2),
		Description:     fmt.Sprintf("Monthly contribution for %s", month.Format(monthLayout)),
		TransactionDate: month,
		Metadata: map[string]any{
			"employer_id": employerID,
			"worker_id":   workerID,
			"month":       month.Format(monthLayout),
		},
	}, nil
}
