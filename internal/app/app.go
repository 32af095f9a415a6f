package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jgivc/modsync/internal/adapter/fetcher"
	"github.com/jgivc/modsync/internal/adapter/mdadapter"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	httphandler "github.com/jgivc/modsync/internal/handler/http"
	"github.com/jgivc/modsync/internal/repository/report"
	"github.com/jgivc/modsync/internal/service/auxsync"
	"github.com/jgivc/modsync/internal/service/manifest"
	"github.com/jgivc/modsync/internal/service/publish"
	"github.com/jgivc/modsync/internal/service/update"
	"github.com/jgivc/modsync/internal/storage/unit"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

const (
	selfUnitName    = "self"
	shutdownTimeout = 5 * time.Second
	redisTimeout    = 5 * time.Second
	filePerm        = 0644
)

type App struct {
	cfg *config.Config
	fs  afero.Fs
	rdb *redis.Client
	log *slog.Logger
}

func New(cfgPath string) *App {
	return NewWithFs(afero.NewOsFs(), config.MustLoad(cfgPath))
}

func NewWithFs(fs afero.Fs, cfg *config.Config) *App {
	lo := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}

	return &App{
		cfg: cfg,
		fs:  fs,
		log: slog.New(slog.NewTextHandler(os.Stderr, lo)),
	}
}

// Sync runs one update over the named units, or over every unit found under
// the module base when names is empty. The report is returned whenever the
// run itself took place.
func (a *App) Sync(ctx context.Context, names []string) (*entity.RunReport, error) {
	cfg := &a.cfg.Sync
	storage := unit.NewUnitStorage(a.fs, cfg, a.log)

	if len(names) == 0 {
		var err error
		if names, err = storage.List(); err != nil {
			return nil, fmt.Errorf("cannot list units: %w", err)
		}
	}

	f := fetcher.New(a.fs, &http.Client{Timeout: cfg.HTTPTimeout}, a.log)
	svc := update.NewUpdateService(
		storage,
		manifest.NewManifestService(a.fs, f, cfg.RateLimit, a.log),
		auxsync.NewAuxService(a.fs, f, cfg.DataDir, cfg.DataServers, cfg.RateLimit, a.log),
		cfg,
		a.log,
	)

	if a.cfg.Self.Root != "" {
		svc.WithSelf(&entity.Unit{
			Name: selfUnitName,
			Root: a.cfg.Self.Root,
			Descriptor: &entity.Descriptor{
				Servers: a.cfg.Self.Servers,
				DRMKey:  a.cfg.Self.DRMKey,
			},
		})
	}

	rep, runErr := svc.Run(ctx, names)
	if rep == nil {
		return nil, runErr
	}

	if err := a.publishReport(ctx, rep); err != nil {
		a.log.Error("Cannot publish report", slog.String("run_id", rep.ID), slog.Any("error", err))
	}

	return rep, runErr
}

func (a *App) publishReport(ctx context.Context, rep *entity.RunReport) error {
	if a.cfg.Report.HTMLFileName == "" && a.cfg.Report.RedisURL == "" {
		return nil
	}

	renderer, err := mdadapter.NewReportRenderer()
	if err != nil {
		return err
	}

	page, err := renderer.HTML(rep)
	if err != nil {
		return err
	}

	var errs error

	if a.cfg.Report.HTMLFileName != "" {
		if err := afero.WriteFile(a.fs, a.cfg.Report.HTMLFileName, []byte(page), filePerm); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cannot write report: %w", err))
		} else {
			a.log.Info("Report written", slog.String("path", a.cfg.Report.HTMLFileName))
		}
	}

	if a.cfg.Report.RedisURL != "" {
		rdb, err := a.redis(ctx)
		if err != nil {
			return multierr.Append(errs, err)
		}

		ctx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()

		if err := report.NewReportRepository(rdb, a.cfg.Report.TTL, a.log).Save(ctx, rep, page); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// Manifest writes manifest.json for the unit tree under root.
func (a *App) Manifest(root string, opts publish.Options) (*entity.Manifest, error) {
	svc := publish.NewPublishService(a.fs, a.log)

	m, err := svc.Generate(root, opts)
	if err != nil {
		return nil, err
	}

	if err := svc.Save(root, m); err != nil {
		return nil, err
	}

	return m, nil
}

// Serve publishes root as a mirror on addr until ctx is done. Stored reports
// are served under /report/, /status/ and /runs/ when redis is configured.
func (a *App) Serve(ctx context.Context, addr, root, drmKey string) error {
	mux := http.NewServeMux()
	mux.Handle("/", httphandler.NewMirrorHandler(a.fs, root, drmKey, a.log))

	if a.cfg.Report.RedisURL != "" {
		rdb, err := a.redis(ctx)
		if err != nil {
			return err
		}

		repo := report.NewReportRepository(rdb, a.cfg.Report.TTL, a.log)
		mux.Handle("GET /report/{id}/{$}", httphandler.NewReportPageHandler(repo, a.log))
		mux.Handle("GET /status/{id}/{$}", httphandler.NewReportStatusHandler(repo, a.log))
		mux.Handle("GET /runs/{$}", httphandler.NewRunListHandler(repo, a.log))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Start listen", slog.String("addr", addr), slog.String("root", root))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("could not serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func (a *App) Stop() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("Cannot close redis client", slog.Any("error", err))
		}
	}
}

func (a *App) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}

	opt, err := redis.ParseURL(a.cfg.Report.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("cannot connect to redis: %w", err)
	}

	a.rdb = rdb

	return rdb, nil
}
