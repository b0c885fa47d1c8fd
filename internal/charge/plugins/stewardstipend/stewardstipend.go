// Package stewardstipend credits a stipend to stewards who attend qualifying
// events. A participant record that loses its qualifying role or status voids
// the stipend on the next reconciliation.
package stewardstipend

import (
	"context"
	"fmt"

	"github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"github.com/samknelson/sirius-sub007/internal/clock"
)

const ID = "steward_stipend"

const statusCanceled = "canceled"

type Plugin struct {
	clock clock.Clock
}

func New(clk clock.Clock) *Plugin {
	return &Plugin{clock: clk}
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:           ID,
		Name:         "Steward Stipend",
		Description:  "Credits a stipend to stewards attending qualifying events.",
		Triggers:     []domain.TriggerKind{domain.TriggerParticipantSaved},
		DefaultScope: domain.ScopeGlobal,
	}
}

func (p *Plugin) ValidateSettings(settings map[string]any) plugin.SettingsValidation {
	var errs []string
	if _, ok := plugin.SettingAccountID(settings, "account_id"); !ok {
		errs = append(errs, "account_id is required")
	}
	if _, ok := plugin.SettingDecimal(settings, "amount"); !ok {
		errs = append(errs, "amount is required and must be a decimal")
	}
	if _, present := settings["event_type_ids"]; present {
		if _, ok := plugin.SettingStringSlice(settings, "event_type_ids"); !ok {
			errs = append(errs, "event_type_ids must be a list of strings")
		}
	}
	if len(errs) > 0 {
		return plugin.Invalid(errs...)
	}
	return plugin.Valid()
}

func (p *Plugin) Expected(_ context.Context, trigger domain.TriggerContext, settings map[string]any) ([]plugin.ExpectedEntry, error) {
	part := trigger.Participant
	if part == nil {
		return nil, nil
	}

	key := "participant:" + part.ParticipantID
	if !qualifies(part, settings) {
		return []plugin.ExpectedEntry{{IdempotencyKey: key, Void: true}}, nil
	}

	accountID, _ := plugin.SettingAccountID(settings, "account_id")
	amount, ok := plugin.SettingDecimal(settings, "amount")
	if !ok {
		return nil, fmt.Errorf("amount setting is missing")
	}

	return []plugin.ExpectedEntry{{
		IdempotencyKey:  key,
		AccountID:       accountID,
		EntityType:      domain.EntityContact,
		EntityID:        part.ContactID,
		Amount:          amount.Neg().Round(2),
		Description:     fmt.Sprintf("Steward stipend for event %s", part.EventID),
		RefType:         "participant",
		RefID:           part.ParticipantID,
		TransactionDate: p.clock.Now(),
		Metadata: map[string]any{
			"participant_id": part.ParticipantID,
			"event_id":       part.EventID,
			"contact_id":     part.ContactID,
		},
	}}, nil
}

func (p *Plugin) Recompute(_ context.Context, entry *domain.LedgerEntry, settings map[string]any) (*plugin.ExpectedEntry, error) {
	participantID, _ := entry.Metadata["participant_id"].(string)
	eventID, _ := entry.Metadata["event_id"].(string)
	if participantID == "" {
		return nil, fmt.Errorf("entry %s is missing participant metadata", entry.ID)
	}
	amount, ok := plugin.SettingDecimal(settings, "amount")
	if !ok {
		return nil, fmt.Errorf("amount setting is missing")
	}
	return &plugin.ExpectedEntry{
		IdempotencyKey:  "participant:" + participantID,
		Amount:          amount.Neg().Round(2),
		Description:     fmt.Sprintf("Steward stipend for event %s", eventID),
		RefType:         "participant",
		RefID:           participantID,
		TransactionDate: entry.TransactionDate,
	}, nil
}

func qualifies(part *domain.ParticipantContext, settings map[string]any) bool {
	if !part.IsSteward {
		return false
	}
	if part.Status != nil && *part.Status == statusCanceled {
		return false
	}
	if types, ok := plugin.SettingStringSlice(settings, "event_type_ids"); ok && len(types) > 0 {
		found := false
		for _, t := range types {
			if t == part.EventTypeID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
