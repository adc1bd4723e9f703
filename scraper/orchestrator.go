package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"estate_hunter/config"
	"estate_hunter/filter"
	"estate_hunter/metrics"
	"estate_hunter/models"
	"estate_hunter/services"
	"estate_hunter/storage"
)

var (
	ErrRunInProgress    = errors.New("run already in progress")
	ErrNoSources        = errors.New("no sources enabled")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// finishTimeout bounds the run-row write that closes a pass whose context is gone.
const finishTimeout = 30 * time.Second

// StartOptions are the only per-invocation knobs; everything else comes from config.
type StartOptions struct {
	MaxPages int  `json:"max_pages,omitempty"`
	DryRun   bool `json:"-"`
}

// HandlerFactory builds the adapter for one source pass.
type HandlerFactory func(src models.Source, opts SourceOptions) (Handler, error)

type Orchestrator struct {
	cfg        *config.Config
	store      storage.Store
	listings   *services.ListingService
	archive    *services.ArchiveService
	metrics    *metrics.Metrics
	log        *zap.Logger
	newHandler HandlerFactory
	now        func() time.Time

	state *runState
	wg    sync.WaitGroup
}

func NewOrchestrator(cfg *config.Config, store storage.Store, listings *services.ListingService, archive *services.ArchiveService, deps Deps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		listings: listings,
		archive:  archive,
		metrics:  deps.Metrics,
		log:      deps.Log,
		newHandler: func(src models.Source, opts SourceOptions) (Handler, error) {
			return NewHandler(src, opts, deps)
		},
		now:   time.Now,
		state: newRunState(),
	}
}

// SetHandlerFactory replaces how adapters are built.
func (o *Orchestrator) SetHandlerFactory(f HandlerFactory) {
	o.newHandler = f
}

func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Start launches a full pass in the background and returns the freshly started state.
// While a run is in flight it returns that run's state with ErrRunInProgress.
func (o *Orchestrator) Start(opts StartOptions) (models.RunState, error) {
	sources := o.cfg.EnabledSources()
	if len(sources) == 0 {
		return o.state.snapshot(), ErrNoSources
	}
	state, ok := o.state.begin(uuid.NewString(), o.now().UTC())
	if !ok {
		return state, ErrRunInProgress
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("run panicked", zap.Any("panic", r), zap.Stack("stack"))
				o.state.fail(fmt.Sprintf("panic: %v", r), o.now().UTC())
			}
		}()
		o.execute(context.Background(), sources, opts)
	}()
	return state, nil
}

// RunAll is the blocking form of Start.
func (o *Orchestrator) RunAll(ctx context.Context, opts StartOptions) (models.RunState, error) {
	sources := o.cfg.EnabledSources()
	if len(sources) == 0 {
		return o.state.snapshot(), ErrNoSources
	}
	state, ok := o.state.begin(uuid.NewString(), o.now().UTC())
	if !ok {
		return state, ErrRunInProgress
	}
	return o.execute(ctx, sources, opts)
}

// Status returns a copy of the current or last run.
func (o *Orchestrator) Status() models.RunState {
	return o.state.snapshot()
}

// Wait blocks until background runs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, sources []models.Source, opts StartOptions) (models.RunState, error) {
	if o.metrics != nil {
		o.metrics.RunInProgress.Set(1)
		defer o.metrics.RunInProgress.Set(0)
	}
	o.log.Info("run started", zap.Int("sources", len(sources)), zap.Int("max_pages", opts.MaxPages), zap.Bool("dry_run", opts.DryRun))

	if !opts.DryRun {
		if err := o.store.Ping(ctx); err != nil {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			o.log.Error("run aborted before any source", zap.Error(err))
			return o.state.fail(err.Error(), o.now().UTC()), err
		}
	}

	for _, src := range sources {
		result, _ := o.runSource(ctx, src, o.sourceOptions(src, opts, ""), opts.DryRun, true)
		o.state.record(result)
	}

	state := o.state.complete(o.now().UTC())
	o.log.Info("run completed", zap.Int("sources", len(state.Results)))
	return state, nil
}

// RunSource runs one source synchronously, outside the run slot.
func (o *Orchestrator) RunSource(ctx context.Context, src models.Source, opts StartOptions) (models.SourceResult, error) {
	if _, err := models.ParseSource(string(src)); err != nil {
		return models.SourceResult{}, fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}
	return o.runSource(ctx, src, o.sourceOptions(src, opts, ""), opts.DryRun, true)
}

// ProcessDataset ingests one remote dataset for a dataset-fed source. It records a run row
// but never archives, since a dataset holds only what the actor happened to collect.
func (o *Orchestrator) ProcessDataset(ctx context.Context, src models.Source, datasetID string) (models.SourceResult, error) {
	if datasetID == "" {
		return models.SourceResult{}, ErrDatasetNotSpecified
	}
	return o.runSource(ctx, src, o.sourceOptions(src, StartOptions{}, datasetID), false, false)
}

func (o *Orchestrator) sourceOptions(src models.Source, opts StartOptions, datasetID string) SourceOptions {
	s := o.cfg.Source(src)
	so := SourceOptions{
		BaseURL:          s.BaseURL,
		MaxPages:         s.MaxPages,
		Delay:            s.Delay,
		RegionFilter:     s.RegionFilter,
		DateWindowDays:   s.DateWindowDays,
		ErrorPagePhrases: o.cfg.Scraping.ErrorPagePhrases,
		DatasetID:        datasetID,
	}
	if opts.MaxPages > 0 {
		so.MaxPages = opts.MaxPages
	}
	return so
}

// runSource is the per-source isolation boundary: whatever happens inside, the source gets
// exactly one finished run row (outside dry runs) and the caller gets a result.
func (o *Orchestrator) runSource(ctx context.Context, src models.Source, so SourceOptions, dryRun, sweep bool) (result models.SourceResult, err error) {
	log := o.log.With(zap.String("source", string(src)))
	started := o.now().UTC()
	result = models.SourceResult{Source: src, Status: models.RunStatusSuccess, DryRun: dryRun}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			result.Status = models.RunStatusError
			result.ErrorMessage = err.Error()
			log.Error("source panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	log.Info("running source", zap.String("name", o.cfg.SiteName(src)), zap.Int("max_pages", so.MaxPages), zap.Bool("dry_run", dryRun))

	var runID int64
	if !dryRun {
		id, err := o.store.RecordRunStart(ctx, src, started)
		if err != nil {
			err = fmt.Errorf("record run start: %w", err)
			result.Status = models.RunStatusError
			result.ErrorMessage = err.Error()
			log.Error("source failed", zap.Error(err))
			o.observe(result, started)
			return result, err
		}
		runID = id
	}

	passErr := o.pass(ctx, src, so, dryRun, &result)
	if passErr != nil {
		result.Status = models.RunStatusError
		result.ErrorMessage = passErr.Error()
		log.Error("source failed", zap.Error(passErr))
	}

	if !dryRun {
		finish := storage.RunFinish{
			FinishedAt:   o.now().UTC(),
			Found:        result.ListingsFound,
			Upserted:     result.ListingsUpserted,
			Status:       result.Status,
			ErrorMessage: result.ErrorMessage,
		}
		// The row is closed even when the caller's context was cancelled mid-pass.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		err := o.store.RecordRunFinish(finishCtx, runID, finish)
		cancel()
		if err != nil {
			log.Error("record run finish failed", zap.Int64("run_id", runID), zap.Error(err))
		}
		if sweep && passErr == nil && o.archive != nil {
			result.Archived = o.sweep(ctx, src, log)
		}
	}

	o.observe(result, started)
	log.Info("source finished",
		zap.Int("found", result.ListingsFound),
		zap.Int("upserted", result.ListingsUpserted),
		zap.String("status", string(result.Status)))
	return result, passErr
}

// sweep never fails the source: errors and panics are logged.
func (o *Orchestrator) sweep(ctx context.Context, src models.Source, log *zap.Logger) (n int64) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("archival sweep panicked", zap.Any("panic", r))
			n = 0
		}
	}()
	n, err := o.archive.Sweep(ctx, src)
	if err != nil {
		log.Warn("archival sweep failed", zap.Error(err))
	}
	return n
}

func (o *Orchestrator) pass(ctx context.Context, src models.Source, so SourceOptions, dryRun bool, result *models.SourceResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			o.log.Error("source panicked", zap.String("source", string(src)), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	h, err := o.newHandler(src, so)
	if err != nil {
		return err
	}

	var records []models.RawRecord
	for rec, err := range h.Records(ctx) {
		if err != nil {
			result.ListingsFound = len(records)
			return err
		}
		records = append(records, rec)
	}
	result.ListingsFound = len(records)

	res, err := o.listings.Process(ctx, src, records, filter.Options{
		Region:         so.RegionFilter,
		DateWindowDays: so.DateWindowDays,
	}, dryRun)
	result.ListingsUpserted = res.Upserted
	return err
}

func (o *Orchestrator) observe(result models.SourceResult, started time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.SourceRuns.WithLabelValues(string(result.Source), string(result.Status)).Inc()
	o.metrics.SourceDuration.WithLabelValues(string(result.Source)).Observe(o.now().Sub(started).Seconds())
}
