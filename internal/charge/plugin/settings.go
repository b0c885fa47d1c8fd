package plugin

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Settings accessors tolerate the loose typing of JSON-decoded documents.
// Absent or mistyped values yield the zero value plus ok=false; plugins that
// require a value validate it in ValidateSettings first.

// SettingString reads a string setting.
func SettingString(settings map[string]any, key string) (string, bool) {
	v, ok := settings[key].(string)
	return v, ok
}

// SettingBool reads a boolean setting.
func SettingBool(settings map[string]any, key string) (bool, bool) {
	v, ok := settings[key].(bool)
	return v, ok
}

// SettingDecimal reads a decimal setting given as a string or JSON number.
func SettingDecimal(settings map[string]any, key string) (decimal.Decimal, bool) {
	switch v := settings[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	default:
		return decimal.Zero, false
	}
}

// SettingStringSlice reads a list-of-strings setting. Non-string elements
// are dropped.
func SettingStringSlice(settings map[string]any, key string) ([]string, bool) {
	items, ok := settings[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// SettingAccountID reads a snowflake account id given as a string or number.
func SettingAccountID(settings map[string]any, key string) (snowflake.ID, bool) {
	switch v := settings[key].(type) {
	case string:
		id, err := snowflake.ParseString(v)
		if err != nil {
			return 0, false
		}
		return id, true
	case float64:
		return snowflake.ID(int64(v)), true
	case int64:
		return snowflake.ID(v), true
	default:
		return 0, false
	}
}
