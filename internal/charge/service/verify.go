package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/charge/plugin"
	"go.uber.org/zap"
)

// VerifyEntry re-derives the expectation for a persisted entry and reports
// every field on which the ledger departs from it. Nothing is mutated;
// discrepancies are findings, not errors.
func (s *Service) VerifyEntry(ctx context.Context, entryID snowflake.ID) (chargedomain.VerificationResult, error) {
	entry, err := s.repo.FindEntryByID(ctx, s.db, entryID)
	if err != nil {
		return chargedomain.VerificationResult{}, err
	}
	if entry == nil {
		return chargedomain.VerificationResult{}, chargedomain.ErrEntryNotFound
	}
	result := s.verify(ctx, entry)
	if !result.OK {
		s.reportFinding(ctx, result)
	}
	return result, nil
}

// VerifySweep audits up to batchSize entries in ascending id order. Findings
// are reported individually; the sweep itself never mutates the ledger.
func (s *Service) VerifySweep(ctx context.Context, batchSize int) (chargedomain.SweepReport, error) {
	if batchSize < 1 {
		batchSize = s.holder.Get().VerificationBatchSize
	}

	report := chargedomain.SweepReport{}
	var afterID snowflake.ID
	const pageSize = 100
	for report.Checked < batchSize {
		limit := batchSize - report.Checked
		if limit > pageSize {
			limit = pageSize
		}
		entries, err := s.repo.ListEntriesAfter(ctx, s.db, afterID, limit)
		if err != nil {
			return report, err
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			result := s.verify(ctx, entry)
			report.Checked++
			if !result.OK {
				report.Failed++
				report.Findings = append(report.Findings, result)
				s.reportFinding(ctx, result)
			}
			afterID = entry.ID
		}
	}

	s.log.Info("verification sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Service) verify(ctx context.Context, entry *chargedomain.LedgerEntry) (result chargedomain.VerificationResult) {
	result = chargedomain.VerificationResult{
		EntryID:  entry.ID,
		PluginID: entry.PluginID,
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("charge plugin panicked during verification",
				zap.String("plugin_id", entry.PluginID),
				zap.Any("panic", r),
			)
			result.OK = false
			result.Discrepancies = append(result.Discrepancies, fmt.Sprintf("panic: %v", r))
		}
	}()

	p := s.registry.Get(entry.PluginID)
	if p == nil {
		result.Discrepancies = []string{"plugin not registered: " + entry.PluginID}
		return result
	}

	cfg, err := s.repo.FindConfigByID(ctx, s.db, entry.ConfigID)
	if err != nil {
		result.Discrepancies = []string{"config lookup failed: " + err.Error()}
		return result
	}
	if cfg == nil {
		result.Discrepancies = []string{"originating config no longer exists"}
		return result
	}

	expected, err := p.Recompute(ctx, entry, cfg.Settings)
	if err != nil {
		result.Discrepancies = []string{"recompute failed: " + err.Error()}
		return result
	}
	if expected == nil || expected.Void {
		result.Discrepancies = []string{"entry should not exist under current settings"}
		return result
	}

	result.Discrepancies = plugin.Diff(entry, *expected)
	result.OK = len(result.Discrepancies) == 0
	return result
}

func (s *Service) reportFinding(ctx context.Context, result chargedomain.VerificationResult) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordVerificationFinding(ctx, result.PluginID)
	}
	meta := map[string]any{
		"plugin_id":     result.PluginID,
		"discrepancies": result.Discrepancies,
	}
	if err := s.auditSvc.AuditLog(ctx, "charge.entry.verification_failed", "charge_ledger_entry", result.EntryID.String(), meta); err != nil {
		s.log.Warn("audit write failed for verification finding",
			zap.String("plugin_id", result.PluginID),
			zap.Error(err),
		)
	}
}
