package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"novelarc/lib/chrono"
	"novelarc/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, clock chrono.API, maxRetries int) *Client {
	client, err := NewClient(ClientOptions{
		BaseURL:    baseURL,
		Gate:       NewGate(time.Second, clock),
		MaxRetries: maxRetries,
		BaseDelay:  time.Second,
		Clock:      clock,
	})
	require.NoError(t, err)
	return client
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "fetch")
	defer cleanup()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "finally")
	}))
	t.Cleanup(server.Close)

	clock := chrono.NewSimulated(time.Now())
	client := newTestClient(t, server.URL, clock, 3)

	page, err := client.Fetch(context.Background(), "/page")
	require.NoError(t, err)
	require.Equal(t, "finally", string(page.Body))
	require.Equal(t, int64(3), hits.Load())

	// both backoff pauses were taken: at least base and 2x base
	var backoffs []time.Duration
	for _, d := range clock.Slept() {
		if d >= time.Second {
			backoffs = append(backoffs, d)
		}
	}
	require.GreaterOrEqual(t, len(backoffs), 2)
}

func TestFetchHonorsRetryAfter(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "fetch")
	defer cleanup()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(server.Close)

	clock := chrono.NewSimulated(time.Now())
	client := newTestClient(t, server.URL, clock, 3)

	page, err := client.Fetch(context.Background(), "/throttled")
	require.NoError(t, err)
	require.Equal(t, "ok", string(page.Body))

	// the server-supplied wait is honored exactly, not fed into the
	// exponential formula
	require.Contains(t, clock.Slept(), time.Second*7)
}

func TestFetchTerminalStatus(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "fetch")
	defer cleanup()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	clock := chrono.NewSimulated(time.Now())
	client := newTestClient(t, server.URL, clock, 3)

	_, err := client.Fetch(context.Background(), "/missing")
	require.ErrorIs(t, err, ErrBadStatus)
	// a 404 is not retried
	require.Equal(t, int64(1), hits.Load())

	var exhausted *FetchExhaustedError
	require.False(t, errors.As(err, &exhausted))
}

func TestFetchExhaustsRetries(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "fetch")
	defer cleanup()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	clock := chrono.NewSimulated(time.Now())
	client := newTestClient(t, server.URL, clock, 3)

	_, err := client.Fetch(context.Background(), "/broken")
	require.Equal(t, int64(3), hits.Load())

	var exhausted *FetchExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, ErrBadStatus)
}

func TestFetchDecodesGzip(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "fetch")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, "<html>compressed</html>")
		gz.Close()
	}))
	t.Cleanup(server.Close)

	clock := chrono.NewSimulated(time.Now())
	client := newTestClient(t, server.URL, clock, 1)

	page, err := client.Fetch(context.Background(), "/gz")
	require.NoError(t, err)
	require.Equal(t, "<html>compressed</html>", string(page.Body))
}

func TestIdentityRotation(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "fetch")
	defer cleanup()

	seen := map[string]bool{}
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		seen[r.Header.Get("User-Agent")] = true
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(server.Close)

	clock := chrono.NewSimulated(time.Now())
	client := newTestClient(t, server.URL, clock, 1)

	for i := 0; i < 30; i++ {
		_, err := client.Fetch(context.Background(), "/rotate")
		require.NoError(t, err)
	}

	// every presented identity comes from the pool, and with 30 draws
	// from a pool of 5 more than one identity shows up
	for ua := range seen {
		require.Contains(t, DefaultIdentityPool, ua)
	}
	require.Greater(t, len(seen), 1)
}
