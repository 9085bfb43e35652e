package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultUserAgent = "BillScanner/1.0"

// RetryPolicy bounds how often and how patiently a transient failure is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns the scraping defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = 0.2
	exp.MaxElapsedTime = 0
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Options configures a Client.
type Options struct {
	HTTP      *http.Client
	Limiter   *Limiter
	Retry     RetryPolicy
	UserAgent string
	Clock     Clock
	Logger    *slog.Logger
}

// Client gates every outbound attempt through a shared Limiter and retries
// transient failures. Each retry attempt acquires its own limiter slot.
type Client struct {
	http      *http.Client
	limiter   *Limiter
	retry     RetryPolicy
	userAgent string
	clock     Clock
	logger    *slog.Logger
}

// New builds a Client; zero options fall back to sane defaults.
func New(opts Options) *Client {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	return &Client{
		http:      opts.HTTP,
		limiter:   opts.Limiter,
		retry:     opts.Retry,
		userAgent: opts.UserAgent,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Do sends req, returning a 2xx response whose body the caller must close.
// Non-2xx responses are consumed and reported as *StatusError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := replayableBody(req)
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}

	var (
		resp     *http.Response
		attempts int
	)

	operation := func() error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attempt := req.Clone(ctx)
		if body != nil {
			rc, err := body()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("replay body: %w", err))
			}
			attempt.Body = rc
		}
		if attempt.Header.Get("User-Agent") == "" {
			attempt.Header.Set("User-Agent", c.userAgent)
		}

		r, err := c.http.Do(attempt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
			statusErr := newStatusError(attempt, r)
			if statusErr.Transient() {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.debug("retrying request", "url", redact(req.URL), "attempt", attempts, "wait", wait, "error", err)
	}

	err = backoff.RetryNotifyWithTimer(operation, c.retry.backOff(ctx), notify, &clockTimer{clock: c.clock})
	if err != nil {
		return nil, fmt.Errorf("%s %s failed after %d attempt(s): %w", req.Method, redact(req.URL), attempts, err)
	}

	return resp, nil
}

// Get issues a GET through Do.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.Do(req)
}

func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func (c *Client) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
