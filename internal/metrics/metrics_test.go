package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BillScanner/internal/ports"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.Observe("analyze", ports.OutcomeSucceeded)
	r.Observe("analyze", ports.OutcomeSucceeded)
	r.Observe("analyze", ports.OutcomeFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.records.WithLabelValues("analyze", ports.OutcomeSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.records.WithLabelValues("analyze", ports.OutcomeFailed)))

	at := time.Unix(1736942400, 0)
	r.StageSucceeded("merge", at)
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess.WithLabelValues("merge")))
}

func TestWriteToTextfile(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.Observe("scrape", ports.OutcomeSucceeded)

	path := filepath.Join(t.TempDir(), "billscanner.prom")
	require.NoError(t, r.WriteToTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `billscanner_records_total{outcome="succeeded",stage="scrape"} 1`))
}

func TestNilRecorderIsSafe(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.Observe("scrape", ports.OutcomeFailed)
	r.StageSucceeded("scrape", time.Now())
	assert.NoError(t, r.WriteToTextfile("ignored"))
}

func TestHandlerServesCollectors(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.Observe("convert", ports.OutcomeFailed)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `billscanner_records_total{outcome="failed",stage="convert"} 1`)
}
