package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ConfigScope determines whether a charge configuration applies to every
// employer or overrides the global one for a single employer.
type ConfigScope string

const (
	ScopeGlobal   ConfigScope = "global"
	ScopeEmployer ConfigScope = "employer"
)

// Account is a financial ledger account administered outside the engine.
// It is never deleted while entity-account links reference it.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Currency  string       `gorm:"type:text;not null;default:'USD'" json:"currency"`
	Active    bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "charge_accounts" }

// EntityAccount links one Account to one business entity (worker, employer,
// contact). At most one link exists per (account, entity) pair; the unique
// index backs the get-or-create race resolution.
type EntityAccount struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID  snowflake.ID      `gorm:"not null;uniqueIndex:ux_entity_accounts_link,priority:1" json:"account_id"`
	EntityType string            `gorm:"type:text;not null;uniqueIndex:ux_entity_accounts_link,priority:2" json:"entity_type"`
	EntityID   string            `gorm:"type:text;not null;uniqueIndex:ux_entity_accounts_link,priority:3" json:"entity_id"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (EntityAccount) TableName() string { return "charge_entity_accounts" }

// LedgerEntry is a signed monetary amount produced by exactly one plugin
// execution. Positive amounts are owed by the entity, negative amounts are
// credited to it; each plugin documents its own convention. The unique index
// on (plugin_id, idempotency_key) is the backstop against duplicate creation
// under concurrent triggering.
type LedgerEntry struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	PluginID        string            `gorm:"type:text;not null;uniqueIndex:ux_charge_ledger_idempotency,priority:1" json:"plugin_id"`
	IdempotencyKey  string            `gorm:"type:text;not null;uniqueIndex:ux_charge_ledger_idempotency,priority:2" json:"idempotency_key"`
	ConfigID        snowflake.ID      `gorm:"not null;index" json:"config_id"`
	EntityAccountID snowflake.ID      `gorm:"not null;index" json:"entity_account_id"`
	Amount          decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"`
	Description     string            `gorm:"type:text;not null" json:"description"`
	RefType         string            `gorm:"type:text" json:"ref_type,omitempty"`
	RefID           string            `gorm:"type:text;index" json:"ref_id,omitempty"`
	TransactionDate time.Time         `gorm:"not null" json:"transaction_date"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "charge_ledger_entries" }

// ChargeConfig is an administrator-managed plugin configuration, scoped
// globally or to a single employer. The engine reads it, never writes it.
type ChargeConfig struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	PluginID   string            `gorm:"type:text;not null;uniqueIndex:ux_charge_configs_scope,priority:1" json:"plugin_id"`
	Scope      ConfigScope       `gorm:"type:text;not null;uniqueIndex:ux_charge_configs_scope,priority:2" json:"scope"`
	EmployerID string            `gorm:"type:text;not null;default:'';uniqueIndex:ux_charge_configs_scope,priority:3" json:"employer_id,omitempty"`
	Enabled    bool              `gorm:"not null;default:false" json:"enabled"`
	Settings   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"settings"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ChargeConfig) TableName() string { return "charge_configs" }
