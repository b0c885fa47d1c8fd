// Package rate resolves dated rate tables from plugin settings. A rate table
// is an ordered-by-nothing list of rows, each carrying an effective date and a
// decimal amount; the effective rate for a reference date is the row with the
// latest effective date that is on or before that date, compared at day
// granularity.
package rate

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Row is one dated rate in a table.
type Row struct {
	EffectiveDate time.Time
	Amount        decimal.Decimal
}

// Table is a parsed rate table. The zero value resolves nothing.
type Table struct {
	rows []Row
}

// NewTable builds a table from rows. Rows need not be sorted.
func NewTable(rows []Row) Table {
	return Table{rows: rows}
}

// ParseTable decodes a rate table from a settings value, the JSON shape being
// a list of objects with "date" (YYYY-MM-DD) and "amount" (decimal string or
// number). Rows with malformed dates or amounts are excluded rather than
// failing the whole table.
func ParseTable(raw any) Table {
	items, ok := raw.([]any)
	if !ok {
		return Table{}
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		dateStr, ok := m["date"].(string)
		if !ok {
			continue
		}
		effective, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
		if err != nil {
			continue
		}
		amount, ok := parseAmount(m["amount"])
		if !ok {
			continue
		}
		rows = append(rows, Row{EffectiveDate: effective, Amount: amount})
	}
	return Table{rows: rows}
}

func parseAmount(v any) (decimal.Decimal, bool) {
	switch amt := v.(type) {
	case string:
		d, err := decimal.NewFromString(amt)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(amt), true
	case int:
		return decimal.NewFromInt(int64(amt)), true
	case int64:
		return decimal.NewFromInt(amt), true
	default:
		return decimal.Zero, false
	}
}

// Len reports the number of usable rows.
func (t Table) Len() int { return len(t.rows) }

// Resolve returns the rate effective on the reference date, or nil when no
// row's effective date is on or before it. Ties on the same day resolve to
// the last row in table order.
func (t Table) Resolve(reference time.Time) *decimal.Decimal {
	ref := truncateToDay(reference)
	var best *Row
	for i := range t.rows {
		row := &t.rows[i]
		effective := truncateToDay(row.EffectiveDate)
		if effective.After(ref) {
			continue
		}
		if best == nil || !effective.Before(truncateToDay(best.EffectiveDate)) {
			best = row
		}
	}
	if best == nil {
		return nil
	}
	amount := best.Amount
	return &amount
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
