package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/service/deps"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

const (
	serviceName = "update"
)

type UnitStorage interface {
	Load(name string) (*entity.Unit, error)
}

type ManifestProcessor interface {
	Process(ctx context.Context, unit *entity.Unit) (*entity.UnitResult, error)
}

type AuxiliarySync interface {
	ResolveDependencies(ctx context.Context, set entity.DependencySet) []entity.FetchOutcome
	ResolveRegionMaps(ctx context.Context) (entity.ProtocolTable, []entity.FetchOutcome, error)
}

type UpdateService struct {
	running     atomic.Bool
	storage     UnitStorage
	processor   ManifestProcessor
	aux         AuxiliarySync
	self        *entity.Unit
	maxRestarts int
	supportURL  string
	log         *slog.Logger
}

func NewUpdateService(storage UnitStorage, processor ManifestProcessor, aux AuxiliarySync, cfg *config.SyncConfig, log *slog.Logger) *UpdateService {
	return &UpdateService{
		storage:     storage,
		processor:   processor,
		aux:         aux,
		maxRestarts: cfg.MaxManifestRestarts,
		supportURL:  cfg.SupportURL,
		log:         log.With(slog.String("service", serviceName)),
	}
}

// WithSelf sets the unit holding the host application's own files. It is
// synchronized before any other unit.
func (s *UpdateService) WithSelf(unit *entity.Unit) *UpdateService {
	s.self = unit

	return s
}

// Run synchronizes the named units in order, then the auxiliary files all of
// them depend on. The report is returned even when err is set; err is only set
// for a malformed region mapping document or a concurrent run.
func (s *UpdateService) Run(ctx context.Context, names []string) (*entity.RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, common.ErrSyncInProgress
	}
	defer s.running.Store(false)

	report := &entity.RunReport{
		ID:            uuid.NewString(),
		StartedAt:     time.Now(),
		ProtocolTable: entity.ProtocolTable{},
	}
	log := s.log.With(slog.String("run_id", report.ID))
	log.Info("Auto-update started", slog.Int("units", len(names)))

	set := deps.NewSet()

	if s.self != nil {
		self := s.self
		o := s.syncUnit(ctx, log, self.Name, func() (*entity.Unit, error) { return self, nil }, set)
		report.Self = &o
	}

	for _, name := range names {
		report.Add(s.syncUnit(ctx, log, name, func() (*entity.Unit, error) { return s.storage.Load(name) }, set))
	}

	depOutcomes := s.aux.ResolveDependencies(ctx, set)
	table, mapOutcomes, mapErr := s.aux.ResolveRegionMaps(ctx)
	if table != nil {
		report.ProtocolTable = table
	}

	report.DependencyFailures = lo.Filter(append(depOutcomes, mapOutcomes...), func(o entity.FetchOutcome, _ int) bool {
		return !o.OK
	})
	report.DependenciesOK = len(report.DependencyFailures) == 0 && mapErr == nil
	report.FinishedAt = time.Now()

	if len(report.DependencyFailures) > 0 {
		log.Error("Cannot update the following def/map files",
			slog.Any("files", lo.Map(report.DependencyFailures, func(o entity.FetchOutcome, _ int) string { return o.ID })),
			slog.String("support_url", s.supportURL))
	}

	log.Info("Auto-update complete",
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("legacy", len(report.Legacy)),
		slog.Int("failed", len(report.Failed)),
		slog.Bool("dependencies_ok", report.DependenciesOK),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	if mapErr != nil {
		return report, fmt.Errorf("cannot resolve region maps: %w", mapErr)
	}

	return report, nil
}

func (s *UpdateService) syncUnit(ctx context.Context, log *slog.Logger, name string, load func() (*entity.Unit, error), set entity.DependencySet) entity.UnitOutcome {
	log = log.With(slog.String("unit", name))
	outcome := entity.UnitOutcome{Name: name}

	for restarts := 0; ; restarts++ {
		unit, err := load()
		if err != nil {
			if errors.Is(err, common.ErrPlainFileUnit) || errors.Is(err, common.ErrDescriptorNotFound) {
				log.Debug("Legacy unit without auto-update")
				outcome.Status = entity.UnitStatusLegacy

				return outcome
			}

			log.Error("Cannot load auto-update configuration", slog.Any("error", err))

			return s.fail(log, outcome, err)
		}

		outcome.SupportURL = unit.Descriptor.SupportURL
		outcome.Options = unit.Descriptor.Options
		outcome.Attempts++

		res, err := s.processor.Process(ctx, unit)
		if err != nil {
			log.Error("Cannot auto-update unit", slog.Any("error", err))

			return s.fail(log, outcome, err)
		}

		if res.ManifestChanged {
			if restarts < s.maxRestarts {
				log.Info("Descriptor changed, restarting", slog.Int("attempt", outcome.Attempts))

				continue
			}

			return s.fail(log, outcome, fmt.Errorf("%w: %d restarts", common.ErrManifestRestartLimit, restarts))
		}

		deps.Merge(set, res.Defs)

		failed := res.Failed()
		outcome.Fetched = len(res.Outcomes) - len(failed)

		if len(failed) > 0 {
			outcome.FailedFiles = failed
			err := multierr.Combine(lo.Map(failed, func(o entity.FetchOutcome, _ int) error { return o.Err })...)
			log.Error("Cannot update unit files",
				slog.Any("files", lo.Map(failed, func(o entity.FetchOutcome, _ int) string { return o.ID })))

			return s.fail(log, outcome, fmt.Errorf("cannot update %d files: %w", len(failed), err))
		}

		log.Info("Unit is up to date", slog.Int("fetched", outcome.Fetched))
		outcome.Status = entity.UnitStatusSucceeded

		return outcome
	}
}

func (s *UpdateService) fail(log *slog.Logger, outcome entity.UnitOutcome, err error) entity.UnitOutcome {
	outcome.Status = entity.UnitStatusFailed
	outcome.Err = err

	switch {
	case outcome.SupportURL != "" && outcome.SupportURL != s.supportURL:
		log.Error("Please follow the unit's support instructions or ask the community for help",
			slog.String("support_url", outcome.SupportURL), slog.String("community_url", s.supportURL))
	case outcome.SupportURL != "":
		log.Error("Please follow the unit's support instructions", slog.String("support_url", outcome.SupportURL))
	default:
		log.Error("Please contact the unit author or ask the community for help", slog.String("community_url", s.supportURL))
	}

	return outcome
}
