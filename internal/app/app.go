package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"BillScanner/internal/analysis"
	"BillScanner/internal/api"
	"BillScanner/internal/config"
	"BillScanner/internal/domain"
	"BillScanner/internal/httpclient"
	"BillScanner/internal/infrastructure/docx"
	"BillScanner/internal/infrastructure/fetcher"
	"BillScanner/internal/infrastructure/llm"
	"BillScanner/internal/infrastructure/parser"
	"BillScanner/internal/infrastructure/pdfservices"
	"BillScanner/internal/infrastructure/scheduler"
	"BillScanner/internal/infrastructure/storage"
	"BillScanner/internal/infrastructure/telegram"
	"BillScanner/internal/logging"
	"BillScanner/internal/metrics"
	"BillScanner/internal/ports"
	"BillScanner/internal/report"
	"BillScanner/internal/usecase"
)

// ErrUnknownStage is returned by Stage for names it does not know.
var ErrUnknownStage = errors.New("unknown stage")

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg         config.Config
	logger      *slog.Logger
	run         domain.Run
	executionID string
	pipeline    *usecase.Pipeline
	recorder    *metrics.Recorder
	db          *sql.DB
}

// New builds every adapter from configuration. Optional outputs (database,
// object store, Telegram) are wired only when configured.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	run := domain.Run(cfg.Data.Run)
	if run == "" {
		run = domain.DatedRun(time.Now().In(cfg.Scheduler.Location()))
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	logger := logging.ForExecution(baseLogger, run.String(), executionID)

	a := &Application{
		cfg:         cfg,
		logger:      logger,
		run:         run,
		executionID: executionID,
		recorder:    metrics.NewRecorder(),
	}

	deps, err := a.buildDeps(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.pipeline = usecase.NewPipeline(deps, usecase.PipelineOptions{
		Force:          cfg.Data.Force,
		Model:          cfg.Analysis.Model,
		ReconcileModel: cfg.Analysis.ReconcileModel,
	})
	return a, nil
}

func (a *Application) buildDeps(ctx context.Context) (usecase.PipelineDeps, error) {
	cfg := a.cfg
	log := a.logger

	// one limiter per upstream service, shared by every stage that calls it
	legislature := a.httpClient(cfg.HTTP.Timeout, cfg.HTTP.RateLimit, cfg.HTTP.Retry, log.With("component", "http.legislature"))
	listing := httpclient.New(httpclient.Options{
		HTTP:      &http.Client{Timeout: cfg.HTTP.Timeout},
		Retry:     retryPolicy(cfg.HTTP.Retry),
		UserAgent: cfg.HTTP.UserAgent,
		Logger:    log.With("component", "http.listing"),
	})
	pdfHTTP := a.httpClient(cfg.PDFServices.JobTimeout, cfg.PDFServices.RateLimit, cfg.PDFServices.Retry, log.With("component", "http.pdfservices"))
	openAIHTTP := a.httpClient(cfg.Analysis.Timeout, cfg.Analysis.RateLimit, cfg.Analysis.Retry, log.With("component", "http.openai"))

	chat := llm.NewOpenAIClient(llm.Options{APIKey: cfg.Analysis.APIKey, BaseURL: cfg.Analysis.Endpoint}, openAIHTTP)

	deps := usecase.PipelineDeps{
		OpenRun: func(run domain.Run) (ports.RunStore, error) {
			return storage.NewRunStore(cfg.Data.Root, cfg.Legislature.Name, run)
		},
		Listing: parser.NewListingScraper(listing, parser.ListingOptions{
			ListingURL:          cfg.Legislature.ListingURL,
			Session:             cfg.Legislature.Session,
			DocumentURLTemplate: cfg.Legislature.DocumentURLTemplate,
			HeaderTables:        cfg.Legislature.HeaderTables,
		}, log.With("component", "parser.listing")),
		Sponsors: parser.NewDetailEnricher(legislature, cfg.Legislature.BaseURL),
		Fetcher:  fetcher.NewDocumentFetcher(legislature, log.With("component", "fetcher")),
		Converter: pdfservices.NewClient(pdfHTTP, pdfservices.Options{
			Endpoint:     cfg.PDFServices.Endpoint,
			ClientID:     cfg.PDFServices.ClientID,
			ClientSecret: cfg.PDFServices.ClientSecret,
			PollInterval: cfg.PDFServices.PollInterval,
			JobTimeout:   cfg.PDFServices.JobTimeout,
			JobAttempts:  cfg.PDFServices.JobAttempts,
			JobRetryWait: cfg.PDFServices.JobRetryWait,
		}, log.With("component", "pdfservices")),
		Renderer: docx.Renderer{},
		Analyzer: analysis.NewAnalyzer(chat, log.With("component", "analysis")),
		Recorder: a.recorder,
		Logger:   log,
	}

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return deps, fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return deps, fmt.Errorf("ping database: %w", err)
		}
		a.db = db
		deps.Repository = storage.NewPostgresRepository(db)
	}

	if cfg.ObjectStore.Enabled() {
		mirror, err := storage.NewObjectMirror(ctx, storage.ObjectStoreOptions{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			Region:    cfg.ObjectStore.Region,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return deps, err
		}
		deps.Mirror = mirror
	}

	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		deps.Notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID, nil)
	}

	return deps, nil
}

func (a *Application) httpClient(timeout time.Duration, rl config.RateLimitConfig, rc config.RetryConfig, log *slog.Logger) *httpclient.Client {
	return httpclient.New(httpclient.Options{
		HTTP:      &http.Client{Timeout: timeout},
		Limiter:   httpclient.NewLimiter(rl.Calls, rl.Period, nil),
		Retry:     retryPolicy(rc),
		UserAgent: a.cfg.HTTP.UserAgent,
		Logger:    log,
	})
}

func retryPolicy(rc config.RetryConfig) httpclient.RetryPolicy {
	return httpclient.RetryPolicy{
		MaxAttempts:     rc.MaxAttempts,
		InitialInterval: rc.InitialDelay,
		MaxInterval:     rc.MaxDelay,
		Multiplier:      rc.Multiplier,
	}
}

// Run is the run identifier every command of this invocation works on.
func (a *Application) Run() domain.Run { return a.run }

// Logger is tagged with the run and execution id.
func (a *Application) Logger() *slog.Logger { return a.logger }

// Stage executes one named pipeline stage on the current run.
func (a *Application) Stage(ctx context.Context, name string) (usecase.StageReport, error) {
	var (
		rep usecase.StageReport
		err error
	)
	switch name {
	case usecase.StageScrape:
		rep, err = a.pipeline.Scrape(ctx, a.run)
	case usecase.StageConvert:
		rep, err = a.pipeline.Convert(ctx, a.run)
	case usecase.StageAnalyze:
		rep, err = a.pipeline.Analyze(ctx, a.run)
	case usecase.StageReconcile:
		rep, err = a.pipeline.Reconcile(ctx, a.run)
	case usecase.StageMerge:
		rep, err = a.pipeline.Merge(ctx, a.run)
	case usecase.StagePublish:
		rep, err = a.pipeline.Publish(ctx, a.run, a.executionID)
	default:
		return rep, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	a.exportMetrics()
	return rep, err
}

// RunAll executes every stage on the current run.
func (a *Application) RunAll(ctx context.Context) ([]usecase.StageReport, error) {
	reports, err := a.pipeline.RunAll(ctx, a.run, a.executionID)
	a.exportMetrics()
	return reports, err
}

// Watch repeats the whole pipeline on the configured interval until ctx ends.
// Each trigger works on the run dated by the trigger time.
func (a *Application) Watch(ctx context.Context) error {
	driver := scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, a.cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))
	sched.AfterRun = func(domain.Run, []usecase.StageReport, error) { a.exportMetrics() }

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("watching", "interval", a.cfg.Scheduler.Interval)

	var metricsSrv *http.Server
	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.recorder.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", "addr", addr, "error", err)
			}
		}()
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(stopCtx)
	}
	return sched.Stop(stopCtx)
}

// Report prints the enriched dataset of the current run as a table.
func (a *Application) Report(w io.Writer) error {
	store, err := storage.NewRunStore(a.cfg.Data.Root, a.cfg.Legislature.Name, a.run)
	if err != nil {
		return err
	}
	records, err := store.LoadEnriched()
	if err != nil {
		return err
	}
	if err := report.WriteTable(w, records); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, "\n"+report.Summary(records))
	return err
}

// Serve exposes the enriched dataset of the current run over HTTP until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	store, err := storage.NewRunStore(a.cfg.Data.Root, a.cfg.Legislature.Name, a.run)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.NewRouter(store, a.cfg.Server.AllowedOrigins, a.logger.With("component", "api")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving dataset", "addr", srv.Addr, "file", store.EnrichedPath())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (a *Application) exportMetrics() {
	if err := a.recorder.WriteToTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.Warn("metrics export failed", "error", err)
	}
}

// Close releases the database connection, if any.
func (a *Application) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
