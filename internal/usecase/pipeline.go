package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"BillScanner/internal/domain"
	"BillScanner/internal/ports"
)

// Stage names used in logs, metrics and the LastError column.
const (
	StageScrape    = "scrape"
	StageSponsor   = "sponsor"
	StageFetch     = "fetch"
	StageConvert   = "convert"
	StageAnalyze   = "analyze"
	StageReconcile = "reconcile"
	StageMerge     = "merge"
	StagePublish   = "publish"

	// the base table is rewritten after this many records so a crash loses little work
	checkpointEvery = 25
)

var errNoDocument = errors.New("source document missing")

// StoreOpener returns the artifact store of one run.
type StoreOpener func(run domain.Run) (ports.RunStore, error)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
// Repository, Mirror, Notifier and Recorder are optional.
type PipelineDeps struct {
	OpenRun    StoreOpener
	Listing    ports.ListingSource
	Sponsors   ports.SponsorSource
	Fetcher    ports.DocumentFetcher
	Converter  ports.PDFConverter
	Renderer   ports.HTMLRenderer
	Analyzer   ports.IssueAnalyzer
	Repository ports.BillRepository
	Mirror     ports.ArtifactMirror
	Notifier   ports.Notifier
	Recorder   ports.Recorder
	Logger     *slog.Logger
}

// PipelineOptions holds the per-invocation knobs.
type PipelineOptions struct {
	// Force reprocesses records whose outputs already exist.
	Force          bool
	Model          string
	ReconcileModel string
}

// StageReport summarizes one stage over one run.
type StageReport struct {
	Stage     string
	Total     int
	Processed int
	Skipped   int
	Failed    int
}

func (r *StageReport) add(outcome string) {
	switch outcome {
	case ports.OutcomeSucceeded:
		r.Processed++
	case ports.OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Pipeline implements the bill-ingestion workflow. Records are processed one
// at a time; every stage persists its output before returning.
type Pipeline struct {
	deps PipelineDeps
	opts PipelineOptions
	log  *slog.Logger
	now  func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{deps: deps, opts: opts, log: log.With("component", "pipeline"), now: time.Now}
}

// WithLogger returns a copy of the pipeline logging to log, e.g. tagged with an execution id.
func (p *Pipeline) WithLogger(log *slog.Logger) *Pipeline {
	cp := *p
	cp.log = log.With("component", "pipeline")
	return &cp
}

// Scrape fetches the listing, resolves sponsors and downloads documents. An
// existing base table is merged by identifier so earlier work is kept.
func (p *Pipeline) Scrape(ctx context.Context, run domain.Run) (StageReport, error) {
	report := StageReport{Stage: StageScrape}

	store, err := p.deps.OpenRun(run)
	if err != nil {
		return report, err
	}

	listed, err := p.deps.Listing.Scrape(ctx)
	if err != nil {
		return report, fmt.Errorf("scrape listing: %w", err)
	}

	existing, err := store.LoadBills()
	if err != nil && !errors.Is(err, domain.ErrNoBaseTable) {
		return report, err
	}

	bills := mergeBills(listed, existing)
	report.Total = len(bills)
	p.log.Info("listing scraped", "run", run, "listed", len(listed), "known", len(existing), "total", len(bills))

	for i := range bills {
		if err := ctx.Err(); err != nil {
			return report, p.checkpoint(store, bills, err)
		}

		outcome := p.scrapeBill(ctx, store, &bills[i])
		report.add(outcome)
		p.observe(StageScrape, outcome)

		if (i+1)%checkpointEvery == 0 {
			if err := store.SaveBills(bills); err != nil {
				return report, err
			}
		}
	}

	if err := store.SaveBills(bills); err != nil {
		return report, err
	}
	return p.finish(report), nil
}

func (p *Pipeline) scrapeBill(ctx context.Context, store ports.RunStore, bill *domain.BillRecord) string {
	bill.ClearError()
	outcome := ports.OutcomeSkipped

	// a failed sponsor lookup leaves the sponsor empty and the record in the table
	if bill.Sponsor == "" || p.opts.Force {
		sponsor, err := p.deps.Sponsors.Sponsor(ctx, bill.DetailLink)
		if err != nil {
			bill.RecordError(StageSponsor, err)
			p.warn(StageSponsor, bill.ID, err)
			outcome = ports.OutcomeFailed
		} else {
			bill.Sponsor = sponsor
			outcome = ports.OutcomeSucceeded
		}
	}

	if bill.HasDocument() && store.Exists(bill.DocumentPath) && !p.opts.Force {
		return outcome
	}

	if bill.DocumentURL == "" {
		bill.RecordError(StageFetch, errNoDocument)
		return ports.OutcomeFailed
	}

	path, err := p.deps.Fetcher.Fetch(ctx, bill.DocumentURL, store.Dir())
	if err != nil {
		bill.DocumentPath = ""
		bill.RecordError(StageFetch, err)
		p.warn(StageFetch, bill.ID, err)
		return ports.OutcomeFailed
	}
	bill.DocumentPath = path

	if outcome == ports.OutcomeFailed {
		return ports.OutcomeFailed
	}
	return ports.OutcomeSucceeded
}

// mergeBills keeps the listing's order and its view of title, status and links,
// while carrying over fields later stages already filled in.
func mergeBills(listed, existing []domain.BillRecord) []domain.BillRecord {
	known := make(map[string]domain.BillRecord, len(existing))
	for _, b := range existing {
		known[b.ID] = b
	}

	merged := make([]domain.BillRecord, 0, len(listed)+len(existing))
	seen := make(map[string]struct{}, len(listed))
	for _, b := range listed {
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}

		if old, ok := known[b.ID]; ok {
			if b.Sponsor == "" {
				b.Sponsor = old.Sponsor
			}
			if b.DocumentURL == old.DocumentURL {
				b.DocumentPath = old.DocumentPath
				b.HTMLPath = old.HTMLPath
			}
			b.LastError = old.LastError
		}
		merged = append(merged, b)
	}

	// bills that dropped off the listing stay in the table
	for _, b := range existing {
		if _, ok := seen[b.ID]; !ok {
			seen[b.ID] = struct{}{}
			merged = append(merged, b)
		}
	}
	return merged
}

// Convert turns each downloaded PDF into DOCX through the conversion service
// and then into HTML that keeps amendment markup.
func (p *Pipeline) Convert(ctx context.Context, run domain.Run) (StageReport, error) {
	report := StageReport{Stage: StageConvert}

	store, bills, err := p.loadRun(run)
	if err != nil {
		return report, err
	}
	report.Total = len(bills)

	for i := range bills {
		if err := ctx.Err(); err != nil {
			return report, p.checkpoint(store, bills, err)
		}

		outcome := p.convertBill(ctx, store, &bills[i])
		report.add(outcome)
		p.observe(StageConvert, outcome)

		if (i+1)%checkpointEvery == 0 {
			if err := store.SaveBills(bills); err != nil {
				return report, err
			}
		}
	}

	if err := store.SaveBills(bills); err != nil {
		return report, err
	}
	return p.finish(report), nil
}

func (p *Pipeline) convertBill(ctx context.Context, store ports.RunStore, bill *domain.BillRecord) string {
	bill.ClearStageError(StageConvert)

	if !bill.HasDocument() || !store.Exists(bill.DocumentPath) {
		bill.HTMLPath = ""
		bill.RecordError(StageConvert, errNoDocument)
		return ports.OutcomeFailed
	}

	stem := strings.TrimSuffix(bill.DocumentPath, filepath.Ext(bill.DocumentPath))
	docxPath, htmlPath := stem+".docx", stem+".html"

	if store.Exists(htmlPath) && !p.opts.Force {
		bill.HTMLPath = htmlPath
		return ports.OutcomeSkipped
	}

	if !store.Exists(docxPath) || p.opts.Force {
		if err := p.deps.Converter.ConvertToDOCX(ctx, bill.DocumentPath, docxPath); err != nil {
			bill.HTMLPath = ""
			bill.RecordError(StageConvert, err)
			p.warn(StageConvert, bill.ID, err)
			return ports.OutcomeFailed
		}
	}

	if err := p.deps.Renderer.RenderFile(docxPath, htmlPath); err != nil {
		bill.HTMLPath = ""
		bill.RecordError(StageConvert, err)
		p.warn(StageConvert, bill.ID, err)
		return ports.OutcomeFailed
	}

	bill.HTMLPath = htmlPath
	return ports.OutcomeSucceeded
}

// Analyze submits every converted bill that has no successful result yet.
// Earlier failed results are submitted again.
func (p *Pipeline) Analyze(ctx context.Context, run domain.Run) (StageReport, error) {
	report := StageReport{Stage: StageAnalyze}

	store, bills, err := p.loadRun(run)
	if err != nil {
		return report, err
	}
	report.Total = len(bills)

	for _, bill := range bills {
		if !bill.HasHTML() || !store.Exists(bill.HTMLPath) {
			report.add(ports.OutcomeSkipped)
			p.observe(StageAnalyze, ports.OutcomeSkipped)
			continue
		}

		if !p.opts.Force {
			existing, err := store.LoadResult(bill)
			if err != nil {
				return report, err
			}
			if existing != nil && existing.OK() {
				report.add(ports.OutcomeSkipped)
				p.observe(StageAnalyze, ports.OutcomeSkipped)
				continue
			}
		}

		outcome, err := p.analyzeBill(ctx, store, bill, p.opts.Model)
		if err != nil {
			return report, err
		}
		report.add(outcome)
		p.observe(StageAnalyze, outcome)
	}

	return p.finish(report), nil
}

// Reconcile resubmits only the bills whose stored result is failed, using the
// reconcile model. Succeeded results and bills never analyzed are left alone.
func (p *Pipeline) Reconcile(ctx context.Context, run domain.Run) (StageReport, error) {
	report := StageReport{Stage: StageReconcile}

	store, bills, err := p.loadRun(run)
	if err != nil {
		return report, err
	}

	failedPaths, err := store.FailedResults()
	if err != nil {
		return report, err
	}
	report.Total = len(failedPaths)
	if len(failedPaths) == 0 {
		return p.finish(report), nil
	}

	byResult := make(map[string]domain.BillRecord, len(bills))
	for _, bill := range bills {
		byResult[filepath.Clean(store.ResultPath(bill))] = bill
	}

	model := p.opts.ReconcileModel
	if model == "" {
		model = p.opts.Model
	}

	for _, path := range failedPaths {
		bill, ok := byResult[filepath.Clean(path)]
		if !ok || !bill.HasHTML() || !store.Exists(bill.HTMLPath) {
			p.log.Warn("failed result has no convertible bill", "stage", StageReconcile, "file", path)
			report.add(ports.OutcomeSkipped)
			p.observe(StageReconcile, ports.OutcomeSkipped)
			continue
		}

		outcome, err := p.analyzeBill(ctx, store, bill, model)
		if err != nil {
			return report, err
		}
		report.add(outcome)
		p.observe(StageReconcile, outcome)
	}

	return p.finish(report), nil
}

// analyzeBill persists whatever the analyzer returns. The error is reserved for
// cancellation and storage failures, which stop the stage.
func (p *Pipeline) analyzeBill(ctx context.Context, store ports.RunStore, bill domain.BillRecord, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	html, err := store.ReadDocument(bill.HTMLPath)
	if err != nil {
		p.warn(StageAnalyze, bill.ID, err)
		return ports.OutcomeFailed, nil
	}

	result, err := p.deps.Analyzer.Analyze(ctx, html, model)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		p.warn(StageAnalyze, bill.ID, err)
	}

	if err := store.SaveResult(bill, result); err != nil {
		return "", err
	}

	if !result.OK() {
		p.log.Warn("analysis unusable", "stage", StageAnalyze, "bill", bill.ID, "model", model, "reason", result.Reason)
		return ports.OutcomeFailed, nil
	}
	p.log.Debug("analysis stored", "bill", bill.ID, "model", model, "findings", len(result.Findings))
	return ports.OutcomeSucceeded, nil
}

// Merge joins the base table with the stored results and writes the enriched
// dataset ordered by issue count.
func (p *Pipeline) Merge(ctx context.Context, run domain.Run) (StageReport, error) {
	report := StageReport{Stage: StageMerge}

	store, bills, err := p.loadRun(run)
	if err != nil {
		return report, err
	}
	report.Total = len(bills)

	records := make([]domain.EnrichedRecord, 0, len(bills))
	for _, bill := range bills {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := store.LoadResult(bill)
		if err != nil {
			p.warn(StageMerge, bill.ID, err)
			unreadable := domain.Failed(err.Error(), "", p.now())
			result = &unreadable
		}

		rec := domain.Enrich(bill, result)
		switch rec.State() {
		case domain.AnalysisComplete:
			report.add(ports.OutcomeSucceeded)
		case domain.AnalysisUnusable:
			report.add(ports.OutcomeFailed)
		default:
			report.add(ports.OutcomeSkipped)
		}
		records = append(records, rec)
	}

	domain.SortEnriched(records)

	path, err := store.SaveEnriched(records)
	if err != nil {
		return report, err
	}
	p.log.Info("enriched dataset written", "run", run, "file", path, "records", len(records))
	return p.finish(report), nil
}

// Publish hands the enriched dataset to the optional outputs: the database
// ledger, the object store mirror and the notifier. Each output is attempted
// even when an earlier one fails.
func (p *Pipeline) Publish(ctx context.Context, run domain.Run, executionID string) (StageReport, error) {
	report := StageReport{Stage: StagePublish}

	store, err := p.deps.OpenRun(run)
	if err != nil {
		return report, err
	}
	records, err := store.LoadEnriched()
	if err != nil {
		return report, err
	}
	report.Total = len(records)

	var errs []error
	fresh := -1

	if p.deps.Repository != nil {
		ids := make([]string, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		if known, err := p.deps.Repository.AnalyzedBills(ctx, run, ids); err != nil {
			errs = append(errs, err)
		} else {
			fresh = 0
			for _, rec := range records {
				if rec.State() == domain.AnalysisComplete && !known[rec.ID] {
					fresh++
				}
			}
		}

		if err := p.deps.Repository.SaveEnriched(ctx, run, executionID, records); err != nil {
			errs = append(errs, err)
		} else {
			report.Processed += len(records)
		}
	}

	if p.deps.Mirror != nil {
		n, err := p.deps.Mirror.MirrorRun(ctx, run, store.Dir())
		if err != nil {
			errs = append(errs, err)
		}
		p.log.Info("run mirrored", "run", run, "files", n)
	}

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.PublishDigest(ctx, BuildDigest(run, records, fresh)); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		report.Failed = len(errs)
		return report, fmt.Errorf("publish run %s: %w", run, err)
	}
	return p.finish(report), nil
}

// RunAll executes every stage in order and stops at the first stage error.
func (p *Pipeline) RunAll(ctx context.Context, run domain.Run, executionID string) ([]StageReport, error) {
	stages := []func(context.Context, domain.Run) (StageReport, error){
		p.Scrape,
		p.Convert,
		p.Analyze,
		p.Reconcile,
		p.Merge,
		func(ctx context.Context, run domain.Run) (StageReport, error) {
			return p.Publish(ctx, run, executionID)
		},
	}

	reports := make([]StageReport, 0, len(stages))
	for _, stage := range stages {
		report, err := stage(ctx, run)
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("%s: %w", report.Stage, err)
		}
	}
	return reports, nil
}

func (p *Pipeline) loadRun(run domain.Run) (ports.RunStore, []domain.BillRecord, error) {
	store, err := p.deps.OpenRun(run)
	if err != nil {
		return nil, nil, err
	}
	bills, err := store.LoadBills()
	if err != nil {
		return nil, nil, err
	}
	return store, bills, nil
}

// checkpoint saves progress before returning cause.
func (p *Pipeline) checkpoint(store ports.RunStore, bills []domain.BillRecord, cause error) error {
	if err := store.SaveBills(bills); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (p *Pipeline) finish(report StageReport) StageReport {
	p.log.Info("stage finished",
		"stage", report.Stage,
		"total", report.Total,
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	if p.deps.Recorder != nil {
		p.deps.Recorder.StageSucceeded(report.Stage, p.now())
	}
	return report
}

func (p *Pipeline) observe(stage, outcome string) {
	if p.deps.Recorder != nil {
		p.deps.Recorder.Observe(stage, outcome)
	}
}

func (p *Pipeline) warn(stage, bill string, err error) {
	p.log.Warn("record failed", "stage", stage, "bill", bill, "error", err)
}
