package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// TriggerKind discriminates the business event that invoked the engine.
type TriggerKind string

const (
	TriggerHoursRecorded    TriggerKind = "hours_recorded"
	TriggerPaymentSaved     TriggerKind = "payment_saved"
	TriggerParticipantSaved TriggerKind = "participant_saved"
	TriggerScheduledJob     TriggerKind = "scheduled_job"
)

// Entity type tags used in entity-account links and trigger payloads.
const (
	EntityWorker   = "worker"
	EntityEmployer = "employer"
	EntityContact  = "contact"
)

// HoursContext describes a saved hours record.
type HoursContext struct {
	WorkerID           string          `json:"worker_id"`
	EmployerID         string          `json:"employer_id"`
	Year               int             `json:"year"`
	Month              int             `json:"month"`
	Day                int             `json:"day"`
	Hours              decimal.Decimal `json:"hours"`
	EmploymentStatusID string          `json:"employment_status_id"`
	Home               bool            `json:"home"`
}

// Date returns the hours record's day at UTC midnight.
func (h HoursContext) Date() time.Time {
	return time.Date(h.Year, time.Month(h.Month), h.Day, 0, 0, 0, 0, time.UTC)
}

// PaymentContext describes a saved payment. Amount is a decimal string as
// received from the payments domain; only the "cleared" status yields a charge.
type PaymentContext struct {
	PaymentID     string       `json:"payment_id"`
	Amount        string       `json:"amount"`
	Status        string       `json:"status"`
	AccountID     snowflake.ID `json:"account_id"`
	EntityType    string       `json:"entity_type"`
	EntityID      string       `json:"entity_id"`
	ClearedDate   *time.Time   `json:"cleared_date,omitempty"`
	PaymentTypeID string       `json:"payment_type_id"`
}

const PaymentStatusCleared = "cleared"

// ParticipantContext describes a saved event-attendance record.
type ParticipantContext struct {
	ParticipantID string  `json:"participant_id"`
	EventID       string  `json:"event_id"`
	EventTypeID   string  `json:"event_type_id"`
	ContactID     string  `json:"contact_id"`
	Role          string  `json:"role"`
	Status        *string `json:"status,omitempty"`
	WorkerID      *string `json:"worker_id,omitempty"`
	IsSteward     bool    `json:"is_steward"`
}

// Scheduled-job run modes.
const (
	JobModeLive = "live"
	JobModeTest = "test"
)

// ScheduledJobContext describes a scheduled-job run.
type ScheduledJobContext struct {
	JobID string `json:"job_id"`
	Mode  string `json:"mode"`
}

// TriggerContext is the transient event payload handed to the engine. Exactly
// one of the variant fields matching Kind is populated.
type TriggerContext struct {
	Kind        TriggerKind
	Hours       *HoursContext
	Payment     *PaymentContext
	Participant *ParticipantContext
	Job         *ScheduledJobContext
}

// EmployerID returns the employer the trigger is scoped to, or "" when the
// trigger carries no employer (config resolution then uses the global scope).
func (t TriggerContext) EmployerID() string {
	switch t.Kind {
	case TriggerHoursRecorded:
		if t.Hours != nil {
			return t.Hours.EmployerID
		}
	case TriggerPaymentSaved:
		if t.Payment != nil && t.Payment.EntityType == EntityEmployer {
			return t.Payment.EntityID
		}
	}
	return ""
}
