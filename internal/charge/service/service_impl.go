package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/samknelson/sirius-sub007/internal/audit/domain"
	chargedomain "github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"github.com/samknelson/sirius-sub007/internal/clock"
	"github.com/samknelson/sirius-sub007/internal/config"
	obsmetrics "github.com/samknelson/sirius-sub007/internal/observability/metrics"
	"github.com/samknelson/sirius-sub007/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       chargedomain.Repository
	Registry   *plugin.Registry
	Clock      clock.Clock
	Holder     *config.ChargeConfigHolder
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       chargedomain.Repository
	registry   *plugin.Registry
	clock      clock.Clock
	holder     *config.ChargeConfigHolder
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) chargedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("charge.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		registry:   p.Registry,
		clock:      p.Clock,
		holder:     p.Holder,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// ExecuteForTrigger runs every plugin registered for the trigger kind and
// reconciles the ledger against their expectations. Plugin failures are
// isolated into the per-plugin outcome; the returned error covers only
// malformed triggers.
func (s *Service) ExecuteForTrigger(ctx context.Context, trigger chargedomain.TriggerContext) (chargedomain.ExecutionSummary, error) {
	if !knownTrigger(trigger.Kind) {
		return chargedomain.ExecutionSummary{}, chargedomain.ErrUnknownTrigger
	}

	started := s.clock.Now()
	summary := chargedomain.ExecutionSummary{TriggerKind: trigger.Kind}
	for _, p := range s.registry.ForTrigger(trigger.Kind) {
		outcome, notes := s.runPlugin(ctx, p, trigger)
		summary.Outcomes = append(summary.Outcomes, outcome)
		summary.Mutations += outcome.Mutations
		summary.Notifications = append(summary.Notifications, notes...)
	}
	if !s.holder.Get().NotificationsEnabled {
		summary.Notifications = nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordExecution(ctx, string(trigger.Kind), s.clock.Now().Sub(started))
	}
	s.log.Debug("charge execution finished",
		zap.String("trigger_kind", string(trigger.Kind)),
		zap.Int("plugins", len(summary.Outcomes)),
		zap.Int("mutations", summary.Mutations),
	)
	return summary, nil
}

func knownTrigger(kind chargedomain.TriggerKind) bool {
	switch kind {
	case chargedomain.TriggerHoursRecorded,
		chargedomain.TriggerPaymentSaved,
		chargedomain.TriggerParticipantSaved,
		chargedomain.TriggerScheduledJob:
		return true
	}
	return false
}

// runPlugin executes one plugin against the trigger. The recover guard keeps
// a panicking plugin from taking the whole execution down.
func (s *Service) runPlugin(ctx context.Context, p plugin.Plugin, trigger chargedomain.TriggerContext) (outcome chargedomain.PluginOutcome, notes []chargedomain.Notification) {
	pluginID := p.Metadata().ID
	outcome = chargedomain.PluginOutcome{PluginID: pluginID}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("charge plugin panicked",
				zap.String("plugin_id", pluginID),
				zap.Any("panic", r),
			)
			outcome.Success = false
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("panic: %v", r))
			s.recordFailure(ctx, pluginID, "panic")
		}
	}()

	cfg, err := s.repo.EffectiveConfig(ctx, s.db, pluginID, trigger.EmployerID())
	if err != nil {
		s.log.Error("charge config lookup failed", zap.String("plugin_id", pluginID), zap.Error(err))
		outcome.Errors = append(outcome.Errors, err.Error())
		s.recordFailure(ctx, pluginID, "config_lookup")
		return outcome, nil
	}
	if cfg == nil {
		outcome.Success = true
		outcome.Skipped = true
		outcome.Message = "no enabled configuration"
		return outcome, nil
	}

	if v := p.ValidateSettings(cfg.Settings); !v.Valid {
		s.log.Warn("charge config has invalid settings",
			zap.String("plugin_id", pluginID),
			zap.Strings("errors", v.Errors),
		)
		outcome.Errors = append(outcome.Errors, v.Errors...)
		s.recordFailure(ctx, pluginID, "invalid_settings")
		return outcome, nil
	}

	expected, err := p.Expected(ctx, trigger, cfg.Settings)
	if err != nil {
		s.log.Error("charge expectation failed", zap.String("plugin_id", pluginID), zap.Error(err))
		outcome.Errors = append(outcome.Errors, err.Error())
		s.recordFailure(ctx, pluginID, "expected_computation")
		return outcome, nil
	}

	for _, exp := range expected {
		note, mutated, err := s.applyExpected(ctx, pluginID, cfg, exp)
		if err != nil {
			s.log.Error("charge reconciliation failed",
				zap.String("plugin_id", pluginID),
				zap.String("idempotency_key", exp.IdempotencyKey),
				zap.Error(err),
			)
			outcome.Errors = append(outcome.Errors, err.Error())
			s.recordFailure(ctx, pluginID, "reconcile")
			continue
		}
		if mutated {
			outcome.Mutations++
			if note != nil {
				notes = append(notes, *note)
			}
		}
	}

	outcome.Success = len(outcome.Errors) == 0
	return outcome, notes
}

// applyExpected reconciles one expectation inside its own transaction so a
// failing key does not roll back the others.
func (s *Service) applyExpected(ctx context.Context, pluginID string, cfg *chargedomain.ChargeConfig, exp plugin.ExpectedEntry) (*chargedomain.Notification, bool, error) {
	var (
		note    *chargedomain.Notification
		mutated bool
		action  string
		target  snowflake.ID
		meta    map[string]any
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindEntryByKey(ctx, tx, pluginID, exp.IdempotencyKey)
		if err != nil {
			return err
		}
		m := plugin.Reconcile(exp, existing)
		if m == nil {
			return nil
		}

		switch m.Kind {
		case plugin.MutationCreate:
			link, err := s.repo.GetOrCreateEntityAccount(ctx, tx, exp.AccountID, exp.EntityType, exp.EntityID)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			entry := &chargedomain.LedgerEntry{
				ID:              s.genID.Generate(),
				PluginID:        pluginID,
				IdempotencyKey:  exp.IdempotencyKey,
				ConfigID:        cfg.ID,
				EntityAccountID: link.ID,
				Amount:          exp.Amount,
				Description:     exp.Description,
				RefType:         exp.RefType,
				RefID:           exp.RefID,
				TransactionDate: exp.TransactionDate,
				Metadata:        datatypes.JSONMap(exp.Metadata),
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			inserted, err := s.repo.InsertEntry(ctx, tx, entry)
			if err != nil {
				return err
			}
			if !inserted {
				// A concurrent run won the insert; the ledger already
				// holds the entry and this run has nothing to add.
				s.log.Info("charge entry already created by concurrent run",
					zap.String("plugin_id", pluginID),
					zap.String("idempotency_key", exp.IdempotencyKey),
				)
				return nil
			}
			mutated = true
			action = "charge.entry.created"
			target = entry.ID
			meta = mutationMetadata(pluginID, exp.IdempotencyKey, entry.Amount.StringFixed(2))
			note = &chargedomain.Notification{
				Kind:     chargedomain.NotificationCreated,
				PluginID: pluginID,
				EntryID:  entry.ID,
				Amount:   entry.Amount,
			}

		case plugin.MutationUpdate:
			oldAmount := existing.Amount
			existing.Amount = exp.Amount
			existing.Description = exp.Description
			existing.RefType = exp.RefType
			existing.RefID = exp.RefID
			existing.TransactionDate = exp.TransactionDate
			existing.Metadata = datatypes.JSONMap(exp.Metadata)
			if err := s.repo.UpdateEntry(ctx, tx, existing); err != nil {
				return err
			}
			mutated = true
			action = "charge.entry.updated"
			target = existing.ID
			meta = mutationMetadata(pluginID, exp.IdempotencyKey, exp.Amount.StringFixed(2))
			meta["old_amount"] = oldAmount.StringFixed(2)
			note = &chargedomain.Notification{
				Kind:      chargedomain.NotificationUpdated,
				PluginID:  pluginID,
				EntryID:   existing.ID,
				Amount:    exp.Amount,
				OldAmount: &oldAmount,
			}

		case plugin.MutationDelete:
			if err := s.repo.DeleteEntry(ctx, tx, existing.ID); err != nil {
				return err
			}
			mutated = true
			action = "charge.entry.deleted"
			target = existing.ID
			meta = mutationMetadata(pluginID, exp.IdempotencyKey, existing.Amount.StringFixed(2))
			note = &chargedomain.Notification{
				Kind:     chargedomain.NotificationDeleted,
				PluginID: pluginID,
				EntryID:  existing.ID,
				Amount:   existing.Amount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if mutated {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordMutation(ctx, pluginID, string(note.Kind))
		}
		if err := s.auditSvc.AuditLog(ctx, action, "charge_ledger_entry", target.String(), meta); err != nil {
			s.log.Warn("audit write failed for ledger mutation",
				zap.String("plugin_id", pluginID),
				zap.Error(err),
			)
		}
	}
	return note, mutated, nil
}

func mutationMetadata(pluginID, idempotencyKey, amount string) map[string]any {
	return map[string]any{
		"plugin_id":       pluginID,
		"idempotency_key": idempotencyKey,
		"amount":          amount,
	}
}

func (s *Service) recordFailure(ctx context.Context, pluginID, reason string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPluginFailure(ctx, pluginID, reason)
	}
}

// ListEntries exposes the ledger read-only with cursor pagination.
func (s *Service) ListEntries(ctx context.Context, req chargedomain.ListEntriesRequest) (chargedomain.ListEntriesResponse, error) {
	var beforeID *snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return chargedomain.ListEntriesResponse{}, chargedomain.ErrInvalidPageToken
		}
		if cursor.ID != "" {
			id, err := snowflake.ParseString(cursor.ID)
			if err != nil {
				return chargedomain.ListEntriesResponse{}, chargedomain.ErrInvalidPageToken
			}
			beforeID = &id
		}
	}

	limit := req.Limit()
	entries, err := s.repo.ListEntries(ctx, s.db, req, limit, beforeID)
	if err != nil {
		return chargedomain.ListEntriesResponse{}, err
	}

	pageInfo, entries := pagination.BuildCursorPageInfo(entries, limit, func(e *chargedomain.LedgerEntry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: e.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	out := make([]chargedomain.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	return chargedomain.ListEntriesResponse{
		PageInfo: *pageInfo,
		Entries:  out,
	}, nil
}

// ListAccounts returns every ledger account.
func (s *Service) ListAccounts(ctx context.Context) ([]chargedomain.Account, error) {
	accounts, err := s.repo.ListAccounts(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := make([]chargedomain.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, *a)
	}
	return out, nil
}
