package gitlab_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/flakewatch/internal/domain"
	"github.com/waabox/flakewatch/internal/gitlab"
)

func newTestClient(t *testing.T, srv *httptest.Server, opts gitlab.Options) (*gitlab.Client, *[]time.Duration) {
	t.Helper()
	var sleeps []time.Duration
	opts.Sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	if opts.Logger == nil {
		log := logrus.New()
		log.SetLevel(logrus.PanicLevel)
		opts.Logger = log
	}
	return gitlab.New("test-token", srv.URL, opts), &sleeps
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestGetProject_ReturnsProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/projects/mygroup%2Fmyapp", r.RequestURI)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{
			"id":      float64(42),
			"name":    "My App",
			"web_url": "https://gitlab.example/mygroup/myapp",
		})
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, gitlab.Options{})
	project, err := client.GetProject(context.Background(), "mygroup/myapp")
	require.NoError(t, err)
	assert.Equal(t, int64(42), project.ID)
	assert.Equal(t, "My App", project.Name)
}

func TestGet_RetriesTransientFailuresWithExponentialBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail transiently exactly (budget - 1) times, then succeed.
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]interface{}{"id": float64(7), "name": "p"})
	}))
	defer srv.Close()

	client, sleeps := newTestClient(t, srv, gitlab.Options{RetryAttempts: 3, BackoffBase: 2})
	project, err := client.GetProject(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), project.ID)
	assert.Equal(t, int32(3), calls.Load())
	// Backoff schedule: 2^0 then 2^1 seconds.
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps)
}

func TestGet_ExhaustedBudgetNamesURLAndLastCause(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, sleeps := newTestClient(t, srv, gitlab.Options{RetryAttempts: 3})
	_, err := client.GetProject(context.Background(), "7")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, *sleeps, 2)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), srv.URL)
	assert.Contains(t, err.Error(), "500")
}

func TestGet_RateLimitedWaitsRetryAfterWithoutConsumingBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// More 429s than the attempt budget allows failures; the request
		// must still succeed because rate-limit waits are not failures.
		if calls.Add(1) <= 4 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]interface{}{"id": float64(7), "name": "p"})
	}))
	defer srv.Close()

	client, sleeps := newTestClient(t, srv, gitlab.Options{RetryAttempts: 3})
	_, err := client.GetProject(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, int32(5), calls.Load())
	require.Len(t, *sleeps, 4)
	for _, d := range *sleeps {
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestGet_RateLimitedWithoutRetryAfterWaitsDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]interface{}{"id": float64(7), "name": "p"})
	}))
	defer srv.Close()

	client, sleeps := newTestClient(t, srv, gitlab.Options{})
	_, err := client.GetProject(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{60 * time.Second}, *sleeps)
}

func TestGet_PermanentErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"not found", http.StatusNotFound, domain.ErrNotFound},
		{"forbidden", http.StatusForbidden, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			client, sleeps := newTestClient(t, srv, gitlab.Options{})
			_, err := client.GetProject(context.Background(), "7")
			require.Error(t, err)
			assert.Equal(t, int32(1), calls.Load(), "permanent errors must not consume retries")
			assert.Empty(t, *sleeps)
			if tc.sentinel != nil {
				assert.True(t, errors.Is(err, tc.sentinel))
			}
		})
	}
}

func TestGet_UnauthorizedTriggersOneTokenRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]interface{}{"id": float64(7), "name": "p"})
	}))
	defer srv.Close()

	var refreshes int
	client, _ := newTestClient(t, srv, gitlab.Options{
		RefreshToken: func(ctx context.Context) (string, error) {
			refreshes++
			return "fresh-token", nil
		},
	})
	project, err := client.GetProject(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), project.ID)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_FailedRefreshSurfacesUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, gitlab.Options{
		RefreshToken: func(ctx context.Context) (string, error) {
			return "", fmt.Errorf("refresh token expired")
		},
	})
	_, err := client.GetProject(context.Background(), "7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestRateLimit_SnapshotRecordedFromHeaders(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "1234")
		w.Header().Set("RateLimit-Reset", fmt.Sprintf("%d", reset))
		writeJSON(w, map[string]interface{}{"id": float64(7), "name": "p"})
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, gitlab.Options{})

	_, ok := client.RateLimit()
	assert.False(t, ok, "no snapshot before the first response")

	_, err := client.GetProject(context.Background(), "7")
	require.NoError(t, err)

	rl, ok := client.RateLimit()
	require.True(t, ok)
	assert.Equal(t, 1234, rl.Remaining)
	assert.Equal(t, reset, rl.Reset.Unix())
	assert.False(t, rl.ObservedAt.IsZero())
}
