package ports

import (
	"context"
	"time"

	"BillScanner/internal/domain"
)

// ListingSource pulls the bill index of one legislative session.
type ListingSource interface {
	Scrape(ctx context.Context) ([]domain.BillRecord, error)
}

// SponsorSource resolves a bill's sponsor from its detail page.
type SponsorSource interface {
	Sponsor(ctx context.Context, detailLink string) (string, error)
}

// DocumentFetcher downloads a bill's source document into dir and returns its path.
type DocumentFetcher interface {
	Fetch(ctx context.Context, documentURL, dir string) (string, error)
}

// PDFConverter turns a PDF into an editable word-processor document.
type PDFConverter interface {
	ConvertToDOCX(ctx context.Context, pdfPath, docxPath string) error
}

// HTMLRenderer turns a word-processor document into normalized HTML.
type HTMLRenderer interface {
	RenderFile(docxPath, htmlPath string) error
}

// ChatClient sends one system+user exchange to a chat-completion API.
type ChatClient interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// IssueAnalyzer asks the analysis service for constitutional issues in an HTML bill.
// The returned result is always persistable; the error reports transport failures.
type IssueAnalyzer interface {
	Analyze(ctx context.Context, html, model string) (domain.AnalysisResult, error)
}

// RunStore owns the on-disk layout of one run.
type RunStore interface {
	Run() domain.Run
	Dir() string
	Exists(path string) bool
	LoadBills() ([]domain.BillRecord, error)
	SaveBills(bills []domain.BillRecord) error
	ReadDocument(path string) (string, error)
	ResultPath(bill domain.BillRecord) string
	LoadResult(bill domain.BillRecord) (*domain.AnalysisResult, error)
	SaveResult(bill domain.BillRecord, result domain.AnalysisResult) error
	FailedResults() ([]string, error)
	SaveEnriched(records []domain.EnrichedRecord) (string, error)
	LoadEnriched() ([]domain.EnrichedRecord, error)
}

// BillRepository mirrors the enriched dataset into a database for querying.
type BillRepository interface {
	AnalyzedBills(ctx context.Context, run domain.Run, ids []string) (map[string]bool, error)
	SaveEnriched(ctx context.Context, run domain.Run, executionID string, records []domain.EnrichedRecord) error
}

// ArtifactMirror copies a finished run's directory to object storage.
type ArtifactMirror interface {
	MirrorRun(ctx context.Context, run domain.Run, dir string) (int, error)
}

// Notifier streams run summaries to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Outcome labels passed to Recorder.Observe.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Recorder counts per-record stage outcomes.
type Recorder interface {
	Observe(stage, outcome string)
	StageSucceeded(stage string, at time.Time)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
