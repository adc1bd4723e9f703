package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"estate_hunter/api"
	"estate_hunter/config"
	"estate_hunter/httputil"
	"estate_hunter/logging"
	"estate_hunter/metrics"
	"estate_hunter/models"
	"estate_hunter/scheduler"
	"estate_hunter/scraper"
	"estate_hunter/services"
	"estate_hunter/storage"
)

const usage = `usage: estate_hunter <command> [flags]

commands:
  run-all [--dry-run] [--max-pages N]   run every enabled source once
  run <source> [--dry-run] [--max-pages N]
  schedule                              run on the configured schedule
  serve                                 HTTP server (webhook, run control) plus the schedule
  migrate                               apply the database schema
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "estate_hunter: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	// run takes its source before the flags.
	var source string
	if cmd == "run" && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		source, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "scrape and normalize without writing")
	maxPages := fs.Int("max-pages", 0, "override the per-source page limit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := scraper.StartOptions{MaxPages: *maxPages, DryRun: *dryRun}

	switch cmd {
	case "run-all":
		return runAll(ctx, cfg, log, opts)
	case "run":
		if source == "" && fs.NArg() == 1 {
			source = fs.Arg(0)
		}
		if source == "" {
			return errors.New("run: expected a source")
		}
		src, err := models.ParseSource(source)
		if err != nil {
			return err
		}
		return runOne(ctx, cfg, log, src, opts)
	case "schedule":
		return daemon(ctx, cfg, log, false)
	case "serve", "webhook":
		return daemon(ctx, cfg, log, true)
	case "migrate":
		return migrate(ctx, cfg, log)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   storage.Store
	dedup   storage.Deduper
	metrics *metrics.Metrics
	orch    *scraper.Orchestrator
}

func (a *app) Close() {
	if a.dedup != nil {
		if err := a.dedup.Close(); err != nil {
			a.log.Warn("close dedup", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", zap.Error(err))
		}
	}
}

// newApp wires the pipeline. A dry run opens no store.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, dryRun bool) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	clients := httputil.NewClients(cfg.FetchTimeout())

	if !dryRun {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		store, err := openStore(ctx, cfg, clients, log)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	var snapshots services.Snapshotter
	if cfg.Snapshots.Bucket != "" && !dryRun {
		archiver, err := storage.NewSnapshotArchiver(ctx, cfg.Snapshots)
		if err != nil {
			a.Close()
			return nil, err
		}
		snapshots = archiver
		log.Info("raw snapshots enabled", zap.String("bucket", cfg.Snapshots.Bucket))
	}

	if cfg.Redis.Addr != "" {
		a.dedup = storage.NewRedisDeduper(cfg.Redis.Addr)
	} else {
		a.dedup = storage.NewMemoryDeduper()
	}

	listings := services.NewListingService(a.store, snapshots, cfg.Scraping.ErrorPagePhrases, a.metrics, log)
	archive := services.NewArchiveService(a.store, cfg.Scraping.ArchiveAfterRuns, a.metrics, log)
	a.orch = scraper.NewOrchestrator(cfg, a.store, listings, archive, scraper.Deps{
		Clients: clients,
		Log:     log,
		Metrics: a.metrics,
		Retries: cfg.Scraping.MaxRetries,
		Apify:   scraper.NewApifyClient(cfg.Apify, clients.API),
	})
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, clients *httputil.Clients, log *zap.Logger) (storage.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverSupabase:
		log.Info("using supabase store", zap.String("url", cfg.Supabase.URL))
		return storage.NewSupabaseStore(&cfg.Supabase, clients.API, log), nil
	case config.DriverPostgres:
		store, err := storage.NewPostgresStore(ctx, cfg.Database.URL, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info("connected to postgres", zap.String("url", maskConnectionString(cfg.Database.URL)))
		return store, nil
	case config.DriverSQLite:
		store, err := storage.NewSQLiteStore(cfg.Database.SQLitePath, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("using sqlite store", zap.String("path", cfg.Database.SQLitePath))
		return store, nil
	}
	return nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
}

func runAll(ctx context.Context, cfg *config.Config, log *zap.Logger, opts scraper.StartOptions) error {
	a, err := newApp(ctx, cfg, log, opts.DryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.orch.RunAll(ctx, opts)
	if err != nil {
		return err
	}
	for _, r := range state.Results {
		fields := []zap.Field{
			zap.String("source", string(r.Source)),
			zap.Int("found", r.ListingsFound),
			zap.Int("upserted", r.ListingsUpserted),
		}
		if r.ErrorMessage != "" {
			fields = append(fields, zap.String("error", r.ErrorMessage))
		}
		log.Info("source result", fields...)
	}
	if state.Phase == models.RunPhaseError {
		return errors.New(state.Error)
	}
	return nil
}

func runOne(ctx context.Context, cfg *config.Config, log *zap.Logger, src models.Source, opts scraper.StartOptions) error {
	a, err := newApp(ctx, cfg, log, opts.DryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.orch.RunSource(ctx, src, opts)
	if err != nil {
		return err
	}
	log.Info("source result",
		zap.String("source", string(src)),
		zap.Int("found", result.ListingsFound),
		zap.Int("upserted", result.ListingsUpserted),
		zap.Int64("archived", result.Archived),
	)
	return nil
}

// daemon runs the schedule and, when serve is set, the HTTP server until a signal arrives.
func daemon(ctx context.Context, cfg *config.Config, log *zap.Logger, serve bool) error {
	a, err := newApp(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(cfg.Scheduler, a.orch, log)
	if err != nil {
		return err
	}
	if cfg.SchedulerEnabled() {
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	var srv *api.Server
	errCh := make(chan error, 1)
	if serve {
		srv = api.NewServer(cfg, a.orch, a.store, a.dedup, a.metrics, log)
		go func() { errCh <- srv.Start() }()
	}

	log.Info("daemon running; press Ctrl+C to stop")
	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			log.Error("http server stopped", zap.Error(err))
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if srv != nil {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			log.Warn("http shutdown", zap.Error(serr))
		}
	}
	sched.Stop()
	a.orch.Wait()
	return err
}

func migrate(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := storage.NewPostgresStore(ctx, cfg.Database.URL, log)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	case config.DriverSQLite:
		store, err := storage.NewSQLiteStore(cfg.Database.SQLitePath, log)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer store.Close()
	default:
		return fmt.Errorf("migrate: driver %s manages its own schema", cfg.Database.Driver)
	}
	log.Info("schema up to date", zap.String("driver", cfg.Database.Driver))
	return nil
}

// maskConnectionString masks the password in a connection string for logging.
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
