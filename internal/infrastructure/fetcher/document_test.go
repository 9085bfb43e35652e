package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWritesDocumentUnderURLName(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "01_15_2025")
	got, err := NewDocumentFetcher(server.Client(), nil).Fetch(context.Background(), server.URL+"/legislation/H0001.pdf", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "H0001.pdf"), got)

	body, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 fake", string(body))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not survive")
}

func TestFetchLeavesNothingOnHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	dir := t.TempDir()
	_, err := NewDocumentFetcher(server.Client(), nil).Fetch(context.Background(), server.URL+"/S1002.pdf", dir)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "S1002.pdf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileName(t *testing.T) {
	t.Parallel()

	name, err := FileName("https://example.org/uploads/2025/legislation/HJM003.pdf?download=1")
	require.NoError(t, err)
	assert.Equal(t, "HJM003.pdf", name)

	_, err = FileName("https://example.org/")
	assert.Error(t, err)
}
