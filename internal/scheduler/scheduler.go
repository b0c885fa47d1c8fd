// Package scheduler drives the charge engine's background work: the periodic
// scheduled-job trigger and the ledger verification sweep.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/samknelson/sirius-sub007/internal/charge/domain"
	"github.com/samknelson/sirius-sub007/internal/clock"
	"github.com/samknelson/sirius-sub007/internal/config"
	obscontext "github.com/samknelson/sirius-sub007/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKey = "sirius:scheduler:run"

var ErrInvalidConfig = errors.New("scheduler requires charge service, clock, logger and id generator")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	ChargeSvc chargedomain.Service
	Holder    *config.ChargeConfigHolder
	Locker    *Locker `optional:"true"`
	Config    Config  `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	chargeSvc chargedomain.Service
	holder    *config.ChargeConfigHolder
	locker    *Locker

	lastSweep time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.ChargeSvc == nil || p.Holder == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		chargeSvc: p.ChargeSvc,
		holder:    p.Holder,
		locker:    p.Locker,
	}, nil
}

// RunForever ticks until the context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("scheduler run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes a single scheduler cycle: fire the scheduled-job trigger
// and, when due, the verification sweep. Only one replica runs a cycle at a
// time when a locker is configured.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	token, acquired, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		s.log.Debug("scheduler cycle already held by another replica")
		return nil
	}
	defer func() {
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.Error(err))
		}
	}()

	runID := s.genID.Generate().String()
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	log := s.log.With(zap.String("run_id", runID))

	summary, err := s.chargeSvc.ExecuteForTrigger(ctx, chargedomain.TriggerContext{
		Kind: chargedomain.TriggerScheduledJob,
		Job: &chargedomain.ScheduledJobContext{
			JobID: runID,
			Mode:  chargedomain.JobModeLive,
		},
	})
	if err != nil {
		return err
	}
	log.Debug("scheduled-job trigger finished",
		zap.Int("plugins", len(summary.Outcomes)),
		zap.Int("mutations", summary.Mutations),
	)

	return s.maybeSweep(ctx, log)
}

func (s *Scheduler) maybeSweep(ctx context.Context, log *zap.Logger) error {
	charge := s.holder.Get()
	if !charge.VerificationSweepEnabled {
		return nil
	}
	now := s.clock.Now()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < charge.VerificationSweepInterval {
		return nil
	}

	report, err := s.chargeSvc.VerifySweep(ctx, charge.VerificationBatchSize)
	if err != nil {
		return err
	}
	s.lastSweep = now
	log.Info("verification sweep completed",
		zap.Int("checked", report.Checked),
		zap.Int("failed", report.Failed),
	)
	return nil
}
