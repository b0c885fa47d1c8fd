// Package paymentalloc credits a cleared payment against the payer's ledger
// account. A payment that later leaves the cleared status voids its key, so
// the credit is withdrawn on the next reconciliation.
package paymentalloc

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"github.com/samknelson/sirius-sub007/internal/clock"
)

const ID = "payment_alloc"

type Plugin struct {
	clock clock.Clock
}

func New(clk clock.Clock) *Plugin {
	return &Plugin{clock: clk}
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:           ID,
		Name:         "Payment Allocation",
		Description:  "Posts a negative (credit) entry for each cleared payment.",
		Triggers:     []domain.TriggerKind{domain.TriggerPaymentSaved},
		DefaultScope: domain.ScopeGlobal,
	}
}

func (p *Plugin) ValidateSettings(settings map[string]any) plugin.SettingsValidation {
	if _, present := settings["payment_type_ids"]; present {
		if _, ok := plugin.SettingStringSlice(settings, "payment_type_ids"); !ok {
			return plugin.Invalid("payment_type_ids must be a list of strings")
		}
	}
	return plugin.Valid()
}

func (p *Plugin) Expected(_ context.Context, trigger domain.TriggerContext, settings map[string]any) ([]plugin.ExpectedEntry, error) {
	pay := trigger.Payment
	if pay == nil {
		return nil, nil
	}
	if types, ok := plugin.SettingStringSlice(settings, "payment_type_ids"); ok && len(types) > 0 {
		if !contains(types, pay.PaymentTypeID) {
			return nil, nil
		}
	}

	key := "payment:" + pay.PaymentID
	if pay.Status != domain.PaymentStatusCleared {
		return []plugin.ExpectedEntry{{IdempotencyKey: key, Void: true}}, nil
	}

	amount, err := decimal.NewFromString(pay.Amount)
	if err != nil {
		return nil, fmt.Errorf("payment %s has malformed amount %q: %w", pay.PaymentID, pay.Amount, err)
	}
	transactionDate := p.clock.Now()
	if pay.ClearedDate != nil {
		transactionDate = *pay.ClearedDate
	}

	return []plugin.ExpectedEntry{{
		IdempotencyKey:  key,
		AccountID:       pay.AccountID,
		EntityType:      pay.EntityType,
		EntityID:        pay.EntityID,
		Amount:          amount.Neg().Round(2),
		Description:     fmt.Sprintf("Payment %s", pay.PaymentID),
		RefType:         "payment",
		RefID:           pay.PaymentID,
		TransactionDate: transactionDate,
		Metadata: map[string]any{
			"payment_id": pay.PaymentID,
			"amount":     amount.String(),
			"status":     pay.Status,
		},
	}}, nil
}

func (p *Plugin) Recompute(_ context.Context, entry *domain.LedgerEntry, _ map[string]any) (*plugin.ExpectedEntry, error) {
	paymentID, _ := entry.Metadata["payment_id"].(string)
	amountStr, _ := entry.Metadata["amount"].(string)
	status, _ := entry.Metadata["status"].(string)
	if paymentID == "" || amountStr == "" {
		return nil, fmt.Errorf("entry %s is missing payment metadata", entry.ID)
	}
	if status != domain.PaymentStatusCleared {
		return &plugin.ExpectedEntry{IdempotencyKey: "payment:" + paymentID, Void: true}, nil
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("entry %s has malformed amount metadata: %w", entry.ID, err)
	}
	return &plugin.ExpectedEntry{
		IdempotencyKey:  "payment:" + paymentID,
		Amount:          amount.Neg().Round(2),
		Description:     fmt.Sprintf("Payment %s", paymentID),
		RefType:         "payment",
		RefID:           paymentID,
		TransactionDate: entry.TransactionDate,
	}, nil
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
