package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"BillScanner/internal/infrastructure/storage"
	"BillScanner/internal/ports"
)

// Doer is satisfied by *http.Client and the rate-limited httpclient.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DocumentFetcher streams bill documents to disk.
type DocumentFetcher struct {
	client Doer
	logger *slog.Logger
}

var _ ports.DocumentFetcher = (*DocumentFetcher)(nil)

// NewDocumentFetcher expects the client shared with the other legislature stages.
func NewDocumentFetcher(client Doer, log *slog.Logger) *DocumentFetcher {
	return &DocumentFetcher{client: client, logger: log}
}

// FileName returns the local name of a document: the last segment of its URL path.
func FileName(documentURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(documentURL))
	if err != nil {
		return "", fmt.Errorf("invalid document url %q: %w", documentURL, err)
	}
	name := path.Base(strings.TrimRight(u.Path, "/"))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("document url %q has no file name", documentURL)
	}
	return name, nil
}

// Fetch downloads documentURL into dir. An interrupted download never leaves a
// truncated document behind.
func (f *DocumentFetcher) Fetch(ctx context.Context, documentURL, dir string) (string, error) {
	name, err := FileName(documentURL)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %s", name, resp.Status)
	}

	written, err := storage.WriteFileAtomic(dest, resp.Body)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}

	f.debug("document saved", "file", dest, "bytes", written)
	return dest, nil
}

func (f *DocumentFetcher) debug(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
