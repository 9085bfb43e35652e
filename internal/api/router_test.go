package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BillScanner/internal/domain"
)

type staticDataset struct {
	records []domain.EnrichedRecord
	err     error
}

func (s staticDataset) LoadEnriched() ([]domain.EnrichedRecord, error) { return s.records, s.err }

func testDataset() staticDataset {
	at := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	two := domain.Succeeded([]domain.IssueFinding{{Issue: "Due process"}, {Issue: "Equal protection"}}, "gpt-4o", at)
	one := domain.Succeeded([]domain.IssueFinding{{Issue: "Due process"}}, "gpt-4o", at)
	bad := domain.Failed("invalid reply", "gpt-4o", at)

	return staticDataset{records: []domain.EnrichedRecord{
		domain.Enrich(domain.BillRecord{ID: "S1003", Status: "S Held", Sponsor: "STATE AFFAIRS COMMITTEE"}, &bad),
		domain.Enrich(domain.BillRecord{ID: "H0002", Status: "LAW", Sponsor: "Representative Smith"}, &one),
		domain.Enrich(domain.BillRecord{ID: "H0001", Status: "LAW", Sponsor: "APPROPRIATIONS COMMITTEE"}, &two),
	}}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListBillsFiltersAndSorts(t *testing.T) {
	t.Parallel()

	h := NewRouter(testDataset(), []string{"*"}, nil)
	rec := get(t, h, "/bills?status=law&sort=issues")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []BillSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "H0001", out[0].ID)
	assert.Equal(t, "2 issues found", out[0].DetailLabel)
	assert.Equal(t, "H0002", out[1].ID)
}

func TestGetBill(t *testing.T) {
	t.Parallel()

	h := NewRouter(testDataset(), []string{"*"}, nil)

	rec := get(t, h, "/bills/S1003")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, domain.LabelNoAnalysis, detail["detail_label"])
	assert.Equal(t, "S1003", detail["bill_number"])

	assert.Equal(t, http.StatusNotFound, get(t, h, "/bills/H9999").Code)
}

func TestStats(t *testing.T) {
	t.Parallel()

	h := NewRouter(testDataset(), []string{"*"}, nil)

	var issues []Count
	require.NoError(t, json.Unmarshal(get(t, h, "/stats/issue-types").Body.Bytes(), &issues))
	assert.Equal(t, []Count{{Label: "Due process", Count: 2}, {Label: "Equal protection", Count: 1}}, issues)

	var sponsors []Count
	require.NoError(t, json.Unmarshal(get(t, h, "/stats/sponsors?top=1").Body.Bytes(), &sponsors))
	assert.Equal(t, []Count{{Label: "APPROPRIATIONS COMMITTEE", Count: 2}}, sponsors)
}

func TestDatasetErrorIsInternal(t *testing.T) {
	t.Parallel()

	h := NewRouter(staticDataset{err: errors.New("missing file")}, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/bills").Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	h := NewRouter(testDataset(), []string{"https://dashboard.example"}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/bills", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
