package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BillScanner/internal/domain"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := NewRunStore(t.TempDir(), "idaho", domain.Run("01_15_2025"))
	require.NoError(t, err)
	return store
}

func TestNewRunStoreRejectsInvalidRun(t *testing.T) {
	t.Parallel()

	_, err := NewRunStore(t.TempDir(), "idaho", domain.Run("../escape"))
	assert.ErrorIs(t, err, domain.ErrInvalidRun)
}

func TestBaseTableRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.LoadBills()
	require.ErrorIs(t, err, domain.ErrNoBaseTable)

	bills := []domain.BillRecord{
		{ID: "H0001", Title: "Budget, appropriation", Status: "LAW", Sponsor: "APPROPRIATIONS COMMITTEE",
			DetailLink: "/x/H0001/", DocumentURL: "https://e/H0001.pdf", DocumentPath: filepath.Join(store.Dir(), "H0001.pdf")},
		{ID: "S1002", Title: `Quoted "title"`, LastError: "sponsor: timeout"},
	}
	require.NoError(t, store.SaveBills(bills))
	assert.Equal(t, filepath.Join(store.Dir(), "idaho_bills_01_15_2025.csv"), store.BaseTablePath())

	got, err := store.LoadBills()
	require.NoError(t, err)
	assert.Equal(t, bills, got)
}

func TestLoadBillsToleratesColumnOrder(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o755))
	table := "bill_status,bill_number,extra\nLAW,H0001,x\n"
	require.NoError(t, os.WriteFile(store.BaseTablePath(), []byte(table), 0o644))

	got, err := store.LoadBills()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "H0001", got[0].ID)
	assert.Equal(t, "LAW", got[0].Status)
}

func TestResultFiles(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	at := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	clean := domain.BillRecord{ID: "H0001", DocumentPath: filepath.Join(store.Dir(), "H0001.pdf")}
	broken := domain.BillRecord{ID: "H0002", DocumentPath: filepath.Join(store.Dir(), "H0002.pdf")}
	never := domain.BillRecord{ID: "H0003", DocumentPath: filepath.Join(store.Dir(), "H0003.pdf")}

	assert.Equal(t, filepath.Join(store.Dir(), "H0001.json"), store.ResultPath(clean))

	require.NoError(t, store.SaveResult(clean, domain.Succeeded(nil, "gpt-4o", at)))
	require.NoError(t, store.SaveResult(broken, domain.Failed("invalid reply", "gpt-4o", at)))

	got, err := store.LoadResult(clean)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.OK())
	assert.NotNil(t, got.Findings)

	missing, err := store.LoadResult(never)
	require.NoError(t, err)
	assert.Nil(t, missing)

	failed, err := store.FailedResults()
	require.NoError(t, err)
	assert.Equal(t, []string{store.ResultPath(broken)}, failed)
}

func TestDecodeResultLegacyForms(t *testing.T) {
	t.Parallel()

	at := time.Now()

	assert.False(t, DecodeResult([]byte("null"), at).OK())
	assert.False(t, DecodeResult([]byte(`{"error": "Invalid JSON"}`), at).OK())
	assert.False(t, DecodeResult([]byte("not json"), at).OK())

	legacy := DecodeResult([]byte(`[{"issue":"Equal protection","references":["Fourteenth Amendment"],"explanation":"x"}]`), at)
	require.True(t, legacy.OK())
	require.Len(t, legacy.Findings, 1)
	assert.Equal(t, "Fourteenth Amendment", legacy.Findings[0].References)

	empty := DecodeResult([]byte("[]"), at)
	assert.True(t, empty.OK())
	assert.Empty(t, empty.Findings)
}

func TestEnrichedRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	result := domain.Succeeded([]domain.IssueFinding{{Issue: "Due process"}}, "gpt-4o", time.Now())
	records := []domain.EnrichedRecord{
		domain.Enrich(domain.BillRecord{ID: "H0001"}, &result),
		domain.Enrich(domain.BillRecord{ID: "H0002"}, nil),
	}

	path, err := store.SaveEnriched(records)
	require.NoError(t, err)
	assert.Equal(t, store.EnrichedPath(), path)

	got, err := store.LoadEnriched()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].IssueCount)
	assert.Equal(t, domain.AnalysisComplete, got[0].State())
	assert.Equal(t, domain.AnalysisAbsent, got[1].State())
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "file.txt")
	require.NoError(t, WriteBytesAtomic(path, []byte("one")))
	require.NoError(t, WriteBytesAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEmptyBaseTable(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.SaveBills(nil))

	data, err := os.ReadFile(store.BaseTablePath())
	require.NoError(t, err)
	assert.Equal(t, "bill_number", strings.SplitN(string(data), ",", 2)[0])

	got, err := store.LoadBills()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(store.BaseTablePath(), nil, 0o644))
	got, err = store.LoadBills()
	require.NoError(t, err)
	assert.Empty(t, got)
}
