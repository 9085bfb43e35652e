package domain

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisResultRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	want := Succeeded([]IssueFinding{
		{Issue: "First Amendment concern", References: "U.S. Const. amend. I", Explanation: "Restricts speech."},
		{Issue: "Due process", References: "Fifth and Fourteenth Amendments", Explanation: "Unclear procedure."},
	}, "gpt-4o", at)

	raw, err := json.Marshal(want)
	require.NoError(t, err)

	var got AnalysisResult
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Findings, got.Findings)
	assert.True(t, got.AnalyzedAt.Equal(at))
}

func TestSucceededWithoutFindingsStaysDistinctFromFailed(t *testing.T) {
	t.Parallel()

	clean, err := json.Marshal(Succeeded(nil, "gpt-4o", time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(clean), `"findings":[]`)

	failed, err := json.Marshal(Failed("invalid JSON", "gpt-4o", time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(failed), `"findings":null`)
	assert.Contains(t, string(failed), `"status":"failed"`)
}

func TestIssueFindingAcceptsReferenceList(t *testing.T) {
	t.Parallel()

	var f IssueFinding
	err := json.Unmarshal([]byte(`{"issue":"Equal protection","references":["amend. XIV","Idaho Const. art. I, sec. 2"],"explanation":"x"}`), &f)
	require.NoError(t, err)
	assert.Equal(t, "amend. XIV; Idaho Const. art. I, sec. 2", f.References)

	err = json.Unmarshal([]byte(`{"issue":"x","references":42}`), &f)
	assert.Error(t, err)
}

func TestDetailLabel(t *testing.T) {
	t.Parallel()

	bill := BillRecord{ID: "H0001"}
	failed := Failed("timeout", "gpt-4o", time.Now())
	clean := Succeeded(nil, "gpt-4o", time.Now())
	two := Succeeded([]IssueFinding{{Issue: "a"}, {Issue: "b"}}, "gpt-4o", time.Now())

	cases := []struct {
		name      string
		result    *AnalysisResult
		wantCount int
		wantState AnalysisState
		wantLabel string
	}{
		{"absent", nil, 0, AnalysisAbsent, LabelNoAnalysis},
		{"failed", &failed, 0, AnalysisUnusable, LabelNoAnalysis},
		{"clean", &clean, 0, AnalysisComplete, LabelNoIssues},
		{"two", &two, 2, AnalysisComplete, "2 issues found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := Enrich(bill, tc.result)
			assert.Equal(t, tc.wantCount, rec.IssueCount)
			assert.Equal(t, tc.wantState, rec.State())
			assert.Equal(t, tc.wantLabel, rec.DetailLabel())
		})
	}
}

func TestRunValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Run("03_03_2025").Validate())
	assert.ErrorIs(t, Run("").Validate(), ErrInvalidRun)
	assert.ErrorIs(t, Run("../etc").Validate(), ErrInvalidRun)
	assert.Equal(t, Run("03_03_2025"), DatedRun(time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)))
}

func TestSortEnrichedOrdersByIssuesThenStateThenID(t *testing.T) {
	t.Parallel()

	at := time.Now()
	one := Succeeded([]IssueFinding{{Issue: "a"}}, "m", at)
	clean := Succeeded(nil, "m", at)
	failed := Failed("timeout", "m", at)

	records := []EnrichedRecord{
		Enrich(BillRecord{ID: "H0004"}, nil),
		Enrich(BillRecord{ID: "H0003"}, &failed),
		Enrich(BillRecord{ID: "H0002"}, &clean),
		Enrich(BillRecord{ID: "S1001"}, &one),
		Enrich(BillRecord{ID: "H0001"}, nil),
	}

	SortEnriched(records)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"S1001", "H0002", "H0003", "H0001", "H0004"}, ids)
}
