package report

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	KeyLastRun      = "lr" // STRING. Id of the last saved run.
	KeyRunStatus    = "rs" // HASH. rs:run_id unit: status
	KeyRunError     = "re" // HASH. re:run_id unit: error text
	KeyRunPage      = "rp" // STRING. rp:run_id rendered HTML report
	KeyRunDepsOK    = "rd" // STRING. rd:run_id "1" or "0"
	KeySelf         = "_self"
	KeyDependencies = "_deps"

	KeySeparator = ":"

	ScanCount = 1000
)

type reportRepository struct {
	cl  *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewReportRepository(cl *redis.Client, ttl time.Duration, log *slog.Logger) *reportRepository {
	return &reportRepository{
		cl:  cl,
		ttl: ttl,
		log: log.With(slog.String("item", "ReportRepository")),
	}
}

// Save stores the run's unit statuses and the rendered page. Every run key
// expires after the repository ttl, the last run pointer does not.
func (r *reportRepository) Save(ctx context.Context, report *entity.RunReport, page string) error {
	log := r.log.With(slog.String("op", "Save"), slog.String("run_id", report.ID))

	keyStatus := getKey(KeyRunStatus, report.ID)
	keyError := getKey(KeyRunError, report.ID)

	statuses := map[string]any{}
	errs := map[string]any{}
	add := func(key string, o entity.UnitOutcome) {
		statuses[key] = string(o.Status)
		if o.Err != nil {
			errs[key] = o.Err.Error()
		}
	}

	if report.Self != nil {
		add(KeySelf, *report.Self)
	}
	for _, o := range report.Units() {
		add(o.Name, o)
	}

	for _, o := range report.DependencyFailures {
		if o.Err != nil {
			errs[getKey(KeyDependencies, o.ID)] = o.Err.Error()
		}
	}

	pipe := r.cl.TxPipeline()
	if len(statuses) > 0 {
		pipe.HSet(ctx, keyStatus, statuses)
		pipe.Expire(ctx, keyStatus, r.ttl)
	}
	if len(errs) > 0 {
		pipe.HSet(ctx, keyError, errs)
		pipe.Expire(ctx, keyError, r.ttl)
	}
	pipe.Set(ctx, getKey(KeyRunPage, report.ID), page, r.ttl)
	pipe.Set(ctx, getKey(KeyRunDepsOK, report.ID), formatBool(report.DependenciesOK), r.ttl)
	pipe.Set(ctx, KeyLastRun, report.ID, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("Cannot save report", slog.Any("error", err))

		return fmt.Errorf("cannot save report %s: %w", report.ID, err)
	}

	log.Info("Report saved", slog.Int("units", len(statuses)), slog.Int("errors", len(errs)))

	return nil
}

func (r *reportRepository) LastRunID(ctx context.Context) (string, error) {
	id, err := r.cl.Get(ctx, KeyLastRun).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", common.ErrReportNotFound
		}

		return "", fmt.Errorf("cannot get last run id: %w", err)
	}

	return id, nil
}

func (r *reportRepository) GetStatuses(ctx context.Context, id string) (map[string]entity.UnitStatus, error) {
	res, err := r.cl.HGetAll(ctx, getKey(KeyRunStatus, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get run %s statuses: %w", id, err)
	}

	if len(res) < 1 {
		return nil, common.ErrReportNotFound
	}

	statuses := make(map[string]entity.UnitStatus, len(res))
	for name, status := range res {
		statuses[name] = entity.UnitStatus(status)
	}

	return statuses, nil
}

func (r *reportRepository) GetErrors(ctx context.Context, id string) (map[string]string, error) {
	res, err := r.cl.HGetAll(ctx, getKey(KeyRunError, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get run %s errors: %w", id, err)
	}

	return res, nil
}

func (r *reportRepository) GetDependenciesOK(ctx context.Context, id string) (bool, error) {
	val, err := r.cl.Get(ctx, getKey(KeyRunDepsOK, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, common.ErrReportNotFound
		}

		return false, fmt.Errorf("cannot get run %s dependency state: %w", id, err)
	}

	ok, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("cannot parse run %s dependency state: %w", id, err)
	}

	return ok, nil
}

func (r *reportRepository) GetPage(ctx context.Context, id string) (string, error) {
	str, err := r.cl.Get(ctx, getKey(KeyRunPage, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", common.ErrReportNotFound
		}

		return "", err
	}

	return str, nil
}

// RunIterator yields the ids of every run still stored, in no particular order.
func (r *reportRepository) RunIterator(ctx context.Context) iter.Seq2[string, error] {
	pattern := getKey(KeyRunStatus, "*")
	prefix := getKey(KeyRunStatus, "")

	return func(yield func(string, error) bool) {
		var cursor uint64

		for {
			keys, nextCursor, err := r.cl.Scan(ctx, cursor, pattern, ScanCount).Result()
			if err != nil {
				yield("", fmt.Errorf("error scanning keys: %w", err))

				return
			}

			for _, key := range keys {
				if !yield(strings.TrimPrefix(key, prefix), nil) {
					return
				}
			}

			cursor = nextCursor
			if cursor == 0 {
				return
			}
		}
	}
}

func formatBool(v bool) string {
	if v {
		return "1"
	}

	return "0"
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
