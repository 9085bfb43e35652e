package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(clock Clock, attempts int) *Client {
	return New(Options{
		Limiter: NewLimiter(100, time.Second, clock),
		Retry: RetryPolicy{
			MaxAttempts:     attempts,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
		},
		Clock: clock,
	})
}

func TestDoRetriesTransientStatusUpToMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(newFakeClock(), 4)
	_, err := client.Get(context.Background(), server.URL)

	require.Error(t, err)
	assert.EqualValues(t, 4, calls.Load())
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.True(t, IsTransient(err))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := newTestClient(newFakeClock(), 5)
	_, err := client.Get(context.Background(), server.URL+"/missing")

	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.False(t, IsTransient(err))
}

func TestDoRecoversAfterRateLimitResponse(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	clock := newFakeClock()
	client := newTestClient(clock, 3)
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(payload))
	assert.EqualValues(t, 2, calls.Load())
	assert.NotEmpty(t, clock.slept)
}

func TestDoReplaysRequestBodyOnRetry(t *testing.T) {
	t.Parallel()

	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(newFakeClock(), 3)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, io.NopCloser(bytes.NewBufferString("payload")))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"payload", "payload", "payload"}, bodies)
}

func TestDoEachAttemptAcquiresLimiterSlot(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	clock := newFakeClock()
	limiter := NewLimiter(1, time.Minute, clock)
	client := New(Options{
		Limiter: limiter,
		Retry:   RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		Clock:   clock,
	})

	start := clock.Now()
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)

	// three attempts against a 1-per-minute limiter span at least two windows
	assert.GreaterOrEqual(t, clock.Now().Sub(start), 2*time.Minute)
}

func TestIsTransientClassification(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(io.ErrUnexpectedEOF))
	assert.True(t, IsTransient(MarkTransient(errors.New("job failed"))))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(&StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsTransient(&StatusError{StatusCode: http.StatusBadGateway}))
	assert.False(t, IsTransient(&StatusError{StatusCode: http.StatusForbidden}))
}
