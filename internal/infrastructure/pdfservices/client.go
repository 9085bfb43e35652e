package pdfservices

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"BillScanner/internal/httpclient"
	"BillScanner/internal/infrastructure/storage"
	"BillScanner/internal/ports"
)

const (
	jobStatusInProgress = "in progress"
	jobStatusDone       = "done"
	jobStatusFailed     = "failed"

	targetFormatDOCX = "docx"
	mediaTypePDF     = "application/pdf"

	// tokens are refreshed this long before the server-side expiry
	tokenSkew = time.Minute
)

var (
	// ErrMissingCredentials means no client id or secret was configured.
	ErrMissingCredentials = errors.New("pdf services credentials are not configured")
	// ErrJobFailed means the service accepted the job and reported it failed.
	ErrJobFailed = errors.New("export job failed")
)

// Doer is satisfied by *http.Client and the rate-limited httpclient.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures the PDF Services export flow.
type Options struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	PollInterval time.Duration
	JobTimeout   time.Duration
	JobAttempts  int
	JobRetryWait time.Duration
}

// Client exports PDFs to DOCX through the PDF Services REST API.
type Client struct {
	http   Doer
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

var _ ports.PDFConverter = (*Client)(nil)

// NewClient expects the client carrying the PDF Services rate limit.
func NewClient(doer Doer, opts Options, log *slog.Logger) *Client {
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	if opts.JobAttempts < 1 {
		opts.JobAttempts = 1
	}
	return &Client{http: doer, opts: opts, logger: log, now: time.Now}
}

// ConvertToDOCX uploads pdfPath, runs an export job and writes the result to docxPath.
// Transient failures restart the whole job after JobRetryWait, up to JobAttempts times.
func (c *Client) ConvertToDOCX(ctx context.Context, pdfPath, docxPath string) error {
	if c.opts.ClientID == "" || c.opts.ClientSecret == "" {
		return ErrMissingCredentials
	}

	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", pdfPath, err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := c.exportOnce(ctx, pdf, docxPath)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !httpclient.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.JobRetryWait), uint64(c.opts.JobAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		c.debug("retrying export job", "file", pdfPath, "attempt", attempt, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("convert %s after %d attempt(s): %w", pdfPath, attempt, err)
	}
	return nil
}

func (c *Client) exportOnce(ctx context.Context, pdf []byte, docxPath string) error {
	if c.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.JobTimeout)
		defer cancel()
	}

	err := c.export(ctx, pdf, docxPath)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return httpclient.MarkTransient(fmt.Errorf("export job exceeded %s: %w", c.opts.JobTimeout, err))
	}
	return err
}

func (c *Client) export(ctx context.Context, pdf []byte, docxPath string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	asset, err := c.createAsset(ctx, token)
	if err != nil {
		return err
	}
	if err := c.upload(ctx, asset.UploadURI, pdf); err != nil {
		return err
	}

	location, err := c.submit(ctx, token, asset.AssetID)
	if err != nil {
		return err
	}

	downloadURI, err := c.poll(ctx, token, location)
	if err != nil {
		return err
	}

	return c.download(ctx, downloadURI, docxPath)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("client_id", c.opts.ClientID)
	form.Set("client_secret", c.opts.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out tokenResponse
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("fetch access token: empty token in response")
	}

	c.token = out.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(out.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

type assetResponse struct {
	UploadURI string `json:"uploadUri"`
	AssetID   string `json:"assetID"`
}

func (c *Client) createAsset(ctx context.Context, token string) (assetResponse, error) {
	body, err := json.Marshal(map[string]string{"mediaType": mediaTypePDF})
	if err != nil {
		return assetResponse{}, fmt.Errorf("marshal asset request: %w", err)
	}

	req, err := c.apiRequest(ctx, http.MethodPost, c.opts.Endpoint+"/assets", token, body)
	if err != nil {
		return assetResponse{}, err
	}

	var out assetResponse
	if err := c.doJSON(req, &out); err != nil {
		return assetResponse{}, fmt.Errorf("create asset: %w", err)
	}
	if out.UploadURI == "" || out.AssetID == "" {
		return assetResponse{}, fmt.Errorf("create asset: incomplete response")
	}
	return out, nil
}

func (c *Client) upload(ctx context.Context, uploadURI string, pdf []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURI, bytes.NewReader(pdf))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mediaTypePDF)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload asset: %w", err)
	}
	defer drain(resp)

	if err := httpclient.CheckResponse(resp); err != nil {
		return fmt.Errorf("upload asset: %w", err)
	}
	return nil
}

func (c *Client) submit(ctx context.Context, token, assetID string) (string, error) {
	body, err := json.Marshal(map[string]string{"assetID": assetID, "targetFormat": targetFormatDOCX})
	if err != nil {
		return "", fmt.Errorf("marshal export request: %w", err)
	}

	req, err := c.apiRequest(ctx, http.MethodPost, c.opts.Endpoint+"/operation/exportpdf", token, body)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit export job: %w", err)
	}
	defer drain(resp)

	if err := httpclient.CheckResponse(resp); err != nil {
		return "", fmt.Errorf("submit export job: %w", err)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("submit export job: response has no Location header")
	}
	return location, nil
}

type jobStatus struct {
	Status string `json:"status"`
	Asset  struct {
		AssetID     string `json:"assetID"`
		DownloadURI string `json:"downloadUri"`
	} `json:"asset"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) poll(ctx context.Context, token, location string) (string, error) {
	for {
		req, err := c.apiRequest(ctx, http.MethodGet, location, token, nil)
		if err != nil {
			return "", err
		}

		var status jobStatus
		if err := c.doJSON(req, &status); err != nil {
			return "", fmt.Errorf("poll export job: %w", err)
		}

		switch status.Status {
		case jobStatusDone:
			if status.Asset.DownloadURI == "" {
				return "", fmt.Errorf("poll export job: done without download uri")
			}
			return status.Asset.DownloadURI, nil
		case jobStatusFailed:
			return "", fmt.Errorf("%w: %s %s", ErrJobFailed, status.Error.Code, status.Error.Message)
		case jobStatusInProgress, "":
		default:
			c.debug("unknown export job status", "status", status.Status)
		}

		timer := time.NewTimer(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) download(ctx context.Context, downloadURI, docxPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURI, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	defer drain(resp)

	if err := httpclient.CheckResponse(resp); err != nil {
		return fmt.Errorf("download result: %w", err)
	}

	written, err := storage.WriteFileAtomic(docxPath, resp.Body)
	if err != nil {
		return err
	}
	c.debug("export saved", "file", docxPath, "bytes", written)
	return nil
}

func (c *Client) apiRequest(ctx context.Context, method, target, token string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", c.opts.ClientID)
	req.Header.Set("x-request-id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if err := httpclient.CheckResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func (c *Client) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
