package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunDateLayout is the date stamp used when no run identifier is supplied.
const RunDateLayout = "01_02_2006"

var (
	// ErrInvalidRun is returned for run identifiers that cannot namespace a directory.
	ErrInvalidRun = errors.New("invalid run identifier")
	// ErrNoBaseTable means the scrape stage has not written the run's base table yet.
	ErrNoBaseTable = errors.New("base table not found")
)

// Run identifies one batch of the pipeline; every artifact path is namespaced by it.
type Run string

// DatedRun derives the default run identifier from a timestamp.
func DatedRun(t time.Time) Run {
	return Run(t.Format(RunDateLayout))
}

// Validate rejects empty identifiers and identifiers that would escape the data root.
func (r Run) Validate() error {
	s := string(r)
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRun)
	}
	if strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidRun, s)
	}
	return nil
}

func (r Run) String() string { return string(r) }

// BillRecord is one legislative bill tracked across every pipeline stage.
// Fields owned by later stages stay empty until that stage succeeds.
type BillRecord struct {
	ID           string `csv:"bill_number" json:"bill_number"`
	Title        string `csv:"bill_title" json:"bill_title"`
	Status       string `csv:"bill_status" json:"bill_status"`
	Sponsor      string `csv:"sponsor" json:"sponsor"`
	DetailLink   string `csv:"detail_link" json:"detail_link"`
	DocumentURL  string `csv:"pdf_url" json:"pdf_url"`
	DocumentPath string `csv:"local_pdf_path" json:"local_pdf_path"`
	HTMLPath     string `csv:"local_html_path" json:"local_html_path"`
	LastError    string `csv:"last_error" json:"last_error,omitempty"`
}

// HasDocument reports whether the source document was downloaded.
func (b BillRecord) HasDocument() bool { return b.DocumentPath != "" }

// HasHTML reports whether the converted document is available for analysis.
func (b BillRecord) HasHTML() bool { return b.HTMLPath != "" }

const errorSeparator = "; "

// RecordError stores a stage failure, replacing any earlier failure of the same
// stage and keeping those of other stages.
func (b *BillRecord) RecordError(stage string, err error) {
	if err == nil {
		return
	}
	b.ClearStageError(stage)
	msg := fmt.Sprintf("%s: %v", stage, err)
	if b.LastError == "" {
		b.LastError = msg
		return
	}
	b.LastError = b.LastError + errorSeparator + msg
}

// ClearStageError drops the failure recorded for stage, if any.
func (b *BillRecord) ClearStageError(stage string) {
	if b.LastError == "" {
		return
	}

	prefix := stage + ": "
	var (
		kept []string
		drop bool
	)
	for _, part := range strings.Split(b.LastError, errorSeparator) {
		switch {
		case strings.HasPrefix(part, prefix):
			drop = true
		case startsEntry(part):
			drop = false
		}
		// parts that start no entry belong to the previous message
		if !drop {
			kept = append(kept, part)
		}
	}
	b.LastError = strings.Join(kept, errorSeparator)
}

// startsEntry reports whether part begins with a "<stage>: " label.
func startsEntry(part string) bool {
	i := strings.Index(part, ": ")
	if i <= 0 {
		return false
	}
	for _, r := range part[:i] {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// ClearError resets the failure column, used when a stage is retried successfully.
func (b *BillRecord) ClearError() { b.LastError = "" }
