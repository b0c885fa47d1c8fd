// Package hoursdues charges worker dues for each recorded day of hours. The
// charge is the recorded hours multiplied by the dues rate effective on the
// day the hours were worked.
package hoursdues

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"github.com/samknelson/sirius-sub007/internal/charge/rate"
)

const ID = "hours_dues"

const dateLayout = "2006-01-02"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:           ID,
		Name:         "Hours Dues",
		Description:  "Charges worker dues per recorded day of hours, at the rate effective on the worked day.",
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
	if _, present := settings["home_only"]; present {
		if _, ok := plugin.SettingBool(settings, "home_only"); !ok {
			errs = append(errs, "home_only must be a boolean")
		}
	}
	if _, present := settings["exclude_statuses"]; present {
		if _, ok := plugin.SettingStringSlice(settings, "exclude_statuses"); !ok {
			errs = append(errs, "exclude_statuses must be a list of strings")
		}
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
	exp, err := compute(h.WorkerID, h.EmployerID, h.Date(), h.Hours, qualifies(h, settings), settings)
	if err != nil {
		return nil, err
	}
	return []plugin.ExpectedEntry{*exp}, nil
}

func (p *Plugin) Recompute(_ context.Context, entry *domain.LedgerEntry, settings map[string]any) (*plugin.ExpectedEntry, error) {
	workerID, _ := entry.Metadata["worker_id"].(string)
	employerID, _ := entry.Metadata["employer_id"].(string)
	dateStr, _ := entry.Metadata["date"].(string)
	hoursStr, _ := entry.Metadata["hours"].(string)
	if workerID == "" || dateStr == "" || hoursStr == "" {
		return nil, fmt.Errorf("entry %s is missing hours metadata", entry.ID)
	}
	date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("entry %s has malformed date metadata: %w", entry.ID, err)
	}
	hours, err := decimal.NewFromString(hoursStr)
	if err != nil {
		return nil, fmt.Errorf("entry %s has malformed hours metadata: %w", entry.ID, err)
	}
	return compute(workerID, employerID, date, hours, true, settings)
}

// qualifies applies the configured record filters. A non-qualifying record
// voids its key so a previously created entry gets cleaned up.
func qualifies(h *domain.HoursContext, settings map[string]any) bool {
	if homeOnly, _ := plugin.SettingBool(settings, "home_only"); homeOnly && !h.Home {
		return false
	}
	if excluded, ok := plugin.SettingStringSlice(settings, "exclude_statuses"); ok {
		for _, status := range excluded {
			if status == h.EmploymentStatusID {
				return false
			}
		}
	}
	return true
}

func compute(workerID, employerID string, date time.Time, hours decimal.Decimal, qualified bool, settings map[string]any) (*plugin.ExpectedEntry, error) {
	key := fmt.Sprintf("%s:%s:%s", workerID, employerID, date.Format(dateLayout))
	exp := &plugin.ExpectedEntry{IdempotencyKey: key}

	dailyRate := rate.ParseTable(settings["rates"]).Resolve(date)
	if !qualified || hours.Sign() <= 0 || dailyRate == nil {
		exp.Void = true
		return exp, nil
	}

	accountID, ok := plugin.SettingAccountID(settings, "account_id")
	if !ok {
		return nil, fmt.Errorf("account_id setting is missing")
	}

	exp.AccountID = accountID
	exp.EntityType = domain.EntityWorker
	exp.EntityID = workerID
	exp.Amount = hours.Mul(*dailyRate).Round(2)
	exp.Description = fmt.Sprintf("Dues for %s", date.Format(dateLayout))
	exp.TransactionDate = date
	exp.Metadata = map[string]any{
		"worker_id":   workerID,
		"employer_id": employerID,
		"date":        date.Format(dateLayout),
		"hours":       hours.String(),
	}
	return exp, nil
}
