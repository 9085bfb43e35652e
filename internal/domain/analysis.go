package domain

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// IssueFinding is one potential constitutional concern reported for a bill.
type IssueFinding struct {
	Issue       string `json:"issue"`
	References  string `json:"references"`
	Explanation string `json:"explanation"`
}

// UnmarshalJSON accepts references as either a string or a list of strings.
func (f *IssueFinding) UnmarshalJSON(data []byte) error {
	var raw struct {
		Issue       string          `json:"issue"`
		References  json.RawMessage `json:"references"`
		Explanation string          `json:"explanation"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	refs, err := decodeReferences(raw.References)
	if err != nil {
		return err
	}

	f.Issue = raw.Issue
	f.References = refs
	f.Explanation = raw.Explanation
	return nil
}

func decodeReferences(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return "", err
		}
		return strings.Join(list, "; "), nil
	default:
		return "", fmt.Errorf("references must be a string or list of strings")
	}
}

// AnalysisStatus tags an AnalysisResult.
type AnalysisStatus string

const (
	AnalysisSucceeded AnalysisStatus = "succeeded"
	AnalysisFailed    AnalysisStatus = "failed"
)

// AnalysisResult is the persisted outcome of submitting one document for analysis.
// A succeeded result with no findings is a clean bill; a failed result means the
// document still needs analysis.
type AnalysisResult struct {
	Status     AnalysisStatus `json:"status"`
	Findings   []IssueFinding `json:"findings"`
	Reason     string         `json:"reason,omitempty"`
	Model      string         `json:"model,omitempty"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
}

// Succeeded builds a successful result; nil findings are normalized to an empty list.
func Succeeded(findings []IssueFinding, model string, at time.Time) AnalysisResult {
	if findings == nil {
		findings = []IssueFinding{}
	}
	return AnalysisResult{
		Status:     AnalysisSucceeded,
		Findings:   findings,
		Model:      model,
		AnalyzedAt: at.UTC(),
	}
}

// Failed builds a failed result carrying the reason.
func Failed(reason, model string, at time.Time) AnalysisResult {
	return AnalysisResult{
		Status:     AnalysisFailed,
		Reason:     reason,
		Model:      model,
		AnalyzedAt: at.UTC(),
	}
}

// OK reports whether the analysis produced a usable finding list.
func (r AnalysisResult) OK() bool { return r.Status == AnalysisSucceeded }

// AnalysisState distinguishes the three observable analysis outcomes of a bill.
type AnalysisState int

const (
	AnalysisAbsent AnalysisState = iota
	AnalysisUnusable
	AnalysisComplete
)

const (
	LabelNoAnalysis = "no issues analysis available"
	LabelNoIssues   = "no issues found"
)

// EnrichedRecord is one row of the final dataset.
type EnrichedRecord struct {
	BillRecord
	Analysis   *AnalysisResult `json:"analysis"`
	IssueCount int             `json:"issue_count"`
}

// Enrich joins a bill with its analysis result (nil when none was persisted).
func Enrich(bill BillRecord, result *AnalysisResult) EnrichedRecord {
	rec := EnrichedRecord{BillRecord: bill, Analysis: result}
	if result != nil && result.OK() {
		rec.IssueCount = len(result.Findings)
	}
	return rec
}

// State reports whether the record was never analyzed, failed, or completed.
func (e EnrichedRecord) State() AnalysisState {
	switch {
	case e.Analysis == nil:
		return AnalysisAbsent
	case e.Analysis.OK():
		return AnalysisComplete
	default:
		return AnalysisUnusable
	}
}

// Findings returns the finding list, or nil when no usable analysis exists.
func (e EnrichedRecord) Findings() []IssueFinding {
	if e.State() != AnalysisComplete {
		return nil
	}
	return e.Analysis.Findings
}

// DetailLabel is the summary line shown on a bill's detail view.
func (e EnrichedRecord) DetailLabel() string {
	if e.State() != AnalysisComplete {
		return LabelNoAnalysis
	}
	switch e.IssueCount {
	case 0:
		return LabelNoIssues
	case 1:
		return "1 issue found"
	default:
		return fmt.Sprintf("%d issues found", e.IssueCount)
	}
}

func (s AnalysisState) rank() int {
	switch s {
	case AnalysisComplete:
		return 2
	case AnalysisUnusable:
		return 1
	default:
		return 0
	}
}

// SortEnriched orders records by issue count, most first. Ties put completed
// analyses before failed ones before missing ones, then order by identifier.
func SortEnriched(records []EnrichedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.IssueCount != b.IssueCount {
			return a.IssueCount > b.IssueCount
		}
		if ra, rb := a.State().rank(), b.State().rank(); ra != rb {
			return ra > rb
		}
		return a.ID < b.ID
	})
}
