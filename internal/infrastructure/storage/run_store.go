package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	json "github.com/goccy/go-json"

	"BillScanner/internal/domain"
	"BillScanner/internal/ports"
)

const resultExt = ".json"

// RunStore keeps every artifact of one run under <root>/<run>/.
type RunStore struct {
	root   string
	prefix string
	run    domain.Run
	now    func() time.Time
}

var _ ports.RunStore = (*RunStore)(nil)

// NewRunStore validates the run identifier; prefix names the tables, e.g. "idaho".
func NewRunStore(root, prefix string, run domain.Run) (*RunStore, error) {
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "bills"
	}
	return &RunStore{root: root, prefix: prefix, run: run, now: time.Now}, nil
}

func (s *RunStore) Run() domain.Run { return s.run }

func (s *RunStore) Dir() string { return filepath.Join(s.root, string(s.run)) }

// BaseTablePath is <dir>/<prefix>_bills_<run>.csv.
func (s *RunStore) BaseTablePath() string {
	return filepath.Join(s.Dir(), fmt.Sprintf("%s_bills_%s.csv", s.prefix, s.run))
}

// EnrichedPath is <dir>/<prefix>_bills_enriched_<run>.jsonl.
func (s *RunStore) EnrichedPath() string {
	return filepath.Join(s.Dir(), fmt.Sprintf("%s_bills_enriched_%s.jsonl", s.prefix, s.run))
}

func (s *RunStore) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LoadBills reads the base table. Columns are matched by header name, so
// reordered or extra columns are tolerated.
func (s *RunStore) LoadBills() ([]domain.BillRecord, error) {
	data, err := os.ReadFile(s.BaseTablePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoBaseTable, s.BaseTablePath())
	}
	if err != nil {
		return nil, fmt.Errorf("open base table: %w", err)
	}

	var bills []domain.BillRecord
	if err := gocsv.UnmarshalBytes(data, &bills); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("read base table: %w", err)
	}
	return bills, nil
}

// SaveBills replaces the base table atomically.
func (s *RunStore) SaveBills(bills []domain.BillRecord) error {
	if bills == nil {
		bills = []domain.BillRecord{}
	}
	data, err := gocsv.MarshalBytes(&bills)
	if err != nil {
		return fmt.Errorf("encode base table: %w", err)
	}

	if err := WriteBytesAtomic(s.BaseTablePath(), data); err != nil {
		return fmt.Errorf("save base table: %w", err)
	}
	return nil
}

func (s *RunStore) ReadDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// ResultPath sits next to the source document with a .json extension.
func (s *RunStore) ResultPath(bill domain.BillRecord) string {
	if bill.DocumentPath == "" {
		return filepath.Join(s.Dir(), bill.ID+resultExt)
	}
	return strings.TrimSuffix(bill.DocumentPath, filepath.Ext(bill.DocumentPath)) + resultExt
}

// LoadResult returns nil when the bill was never submitted for analysis.
func (s *RunStore) LoadResult(bill domain.BillRecord) (*domain.AnalysisResult, error) {
	path := s.ResultPath(bill)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read result %s: %w", path, err)
	}

	at := s.now()
	if info, statErr := os.Stat(path); statErr == nil {
		at = info.ModTime()
	}
	result := DecodeResult(data, at)
	return &result, nil
}

// DecodeResult reads a result file. Besides the tagged envelope it accepts the
// older bare forms: a findings array (succeeded) and null (failed). Anything
// unreadable is a failed result, never an error.
func DecodeResult(data []byte, modTime time.Time) domain.AnalysisResult {
	trimmed := bytes.TrimSpace(data)

	switch {
	case len(trimmed) == 0:
		return domain.Failed("empty result file", "", modTime)
	case bytes.Equal(trimmed, []byte("null")):
		return domain.Failed("analysis returned no result", "", modTime)
	case trimmed[0] == '[':
		var findings []domain.IssueFinding
		if err := json.Unmarshal(trimmed, &findings); err != nil {
			return domain.Failed("invalid result file: "+err.Error(), "", modTime)
		}
		return domain.Succeeded(findings, "", modTime)
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return domain.Failed("invalid result file: "+err.Error(), "", modTime)
	}

	switch result.Status {
	case domain.AnalysisSucceeded:
		if result.Findings == nil {
			result.Findings = []domain.IssueFinding{}
		}
		return result
	case domain.AnalysisFailed:
		return result
	default:
		return domain.Failed(fmt.Sprintf("unknown result status %q", result.Status), result.Model, modTime)
	}
}

func (s *RunStore) SaveResult(bill domain.BillRecord, result domain.AnalysisResult) error {
	data, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return fmt.Errorf("encode result %s: %w", bill.ID, err)
	}
	if err := WriteBytesAtomic(s.ResultPath(bill), data); err != nil {
		return fmt.Errorf("save result %s: %w", bill.ID, err)
	}
	return nil
}

// FailedResults lists result files in the run directory that hold no usable analysis.
func (s *RunStore) FailedResults() ([]string, error) {
	entries, err := os.ReadDir(s.Dir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Dir(), err)
	}

	var failed []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != resultExt || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(s.Dir(), entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read result %s: %w", path, err)
		}
		if !DecodeResult(data, time.Time{}).OK() {
			failed = append(failed, path)
		}
	}
	sort.Strings(failed)
	return failed, nil
}

// SaveEnriched writes one JSON object per line and returns the file path.
func (s *RunStore) SaveEnriched(records []domain.EnrichedRecord) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return "", fmt.Errorf("encode enriched %s: %w", rec.ID, err)
		}
	}

	path := s.EnrichedPath()
	if err := WriteBytesAtomic(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("save enriched dataset: %w", err)
	}
	return path, nil
}

func (s *RunStore) LoadEnriched() ([]domain.EnrichedRecord, error) {
	return ReadEnriched(s.EnrichedPath())
}

// ReadEnriched decodes a JSONL dataset written by SaveEnriched.
func ReadEnriched(path string) ([]domain.EnrichedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open enriched dataset: %w", err)
	}
	defer f.Close()

	var records []domain.EnrichedRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec domain.EnrichedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read enriched dataset: %w", err)
	}
	return records, nil
}
