// Package gitlab implements the GitLab REST adapter: a rate-limit-aware
// HTTP client with retry and backoff, Link-header pagination, and the
// pipeline/job listing calls the analysis layer consumes.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/waabox/flakewatch/internal/domain"
)

const (
	defaultBaseURL = "https://gitlab.com"
	apiPrefix      = "/api/v4"

	defaultPerPage       = 100
	defaultRetryAttempts = 3
	defaultBackoffBase   = 2

	requestTimeout = 30 * time.Second

	// defaultRetryAfter is the wait applied to a 429 response that carries
	// no Retry-After header.
	defaultRetryAfter = 60 * time.Second

	// rateLimitLowWater triggers a warning when the remaining request quota
	// drops below it. The fetch is never blocked on it.
	rateLimitLowWater = 100
)

// RateLimit is a snapshot of the quota hints GitLab returns in response
// headers. Advisory only: it feeds logging, never control flow.
type RateLimit struct {
	Remaining  int
	Reset      time.Time
	ObservedAt time.Time
}

// Options tunes a Client. Zero values select the documented defaults.
type Options struct {
	// RetryAttempts is the attempt budget for transient failures.
	RetryAttempts int
	// BackoffBase is the exponential backoff multiplier: the wait before
	// attempt n+1 is BackoffBase^n seconds.
	BackoffBase float64
	// PerPage is the page size requested from list endpoints.
	PerPage int
	// Logger receives retry, rate-limit, and progress events.
	Logger logrus.FieldLogger
	// RefreshToken, when set, is called at most once per logical GET on an
	// HTTP 401 to obtain a fresh access token before the request is retried.
	RefreshToken func(ctx context.Context) (string, error)
	// HTTPClient overrides the default client (used in tests).
	HTTPClient *http.Client
	// Sleep overrides the wait between retries (used in tests to observe
	// the backoff schedule without real delays).
	Sleep func(time.Duration)
}

// Client talks to the GitLab v4 API. It is safe for concurrent use: the
// only mutable state is the token and the rate-limit snapshot, both held
// behind atomic values.
type Client struct {
	baseURL string
	client  *http.Client
	log     logrus.FieldLogger

	attempts int
	backoff  float64
	perPage  int

	refresh func(ctx context.Context) (string, error)
	sleep   func(time.Duration)

	token atomic.Value // string
	rate  atomic.Pointer[RateLimit]
}

// Ensure Client fully implements domain.JobSource.
var _ domain.JobSource = (*Client)(nil)

// New creates a GitLab API client. baseURL can be a self-hosted instance
// URL; pass empty string for gitlab.com.
func New(token string, baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.PerPage <= 0 {
		opts.PerPage = defaultPerPage
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	c := &Client{
		baseURL:  baseURL,
		client:   opts.HTTPClient,
		log:      opts.Logger,
		attempts: opts.RetryAttempts,
		backoff:  opts.BackoffBase,
		perPage:  opts.PerPage,
		refresh:  opts.RefreshToken,
		sleep:    opts.Sleep,
	}
	c.token.Store(token)
	return c
}

// RateLimit returns the most recently observed quota snapshot.
// The second return value is false until the first response has been seen.
func (c *Client) RateLimit() (RateLimit, bool) {
	p := c.rate.Load()
	if p == nil {
		return RateLimit{}, false
	}
	return *p, true
}

// get issues one logical GET and decodes the 2xx JSON body into out.
// Transient failures (network errors, timeouts, 5xx) are retried with
// exponential backoff up to the attempt budget. A 429 waits the server's
// Retry-After and retries without consuming the budget. Other 4xx fail
// immediately. The returned string is the rel="next" URL from the Link
// header, empty when the sequence is exhausted.
func (c *Client) get(ctx context.Context, rawURL string, params url.Values, out interface{}) (string, error) {
	reqURL := rawURL
	if len(params) > 0 {
		reqURL = rawURL + "?" + params.Encode()
	}

	var lastErr error
	refreshed := false

	for attempt := 0; ; {
		resp, err := c.do(ctx, reqURL)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
		} else {
			c.recordRateLimit(resp)

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				wait := retryAfter(resp)
				resp.Body.Close()
				c.log.WithFields(logrus.Fields{"url": reqURL, "wait": wait}).
					Warn("rate limit hit (429), waiting before retry")
				c.sleep(wait)
				// Rate-limit waits are not failures: the attempt budget
				// is left untouched.
				continue

			case resp.StatusCode == http.StatusUnauthorized:
				status := resp.Status
				resp.Body.Close()
				if c.refresh != nil && !refreshed {
					refreshed = true
					newToken, refreshErr := c.refresh(ctx)
					if refreshErr == nil {
						c.token.Store(newToken)
						continue
					}
					c.log.WithError(refreshErr).Warn("token refresh failed")
				}
				return "", fmt.Errorf("gitlab API error: %s: %w", status, domain.ErrUnauthorized)

			case resp.StatusCode == http.StatusNotFound:
				status := resp.Status
				resp.Body.Close()
				return "", fmt.Errorf("gitlab API error: %s: %w", status, domain.ErrNotFound)

			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				status := resp.Status
				resp.Body.Close()
				return "", fmt.Errorf("gitlab API error: %s", status)

			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				next := nextLink(resp.Header.Get("Link"))
				decErr := json.NewDecoder(resp.Body).Decode(out)
				resp.Body.Close()
				if decErr != nil {
					return "", fmt.Errorf("decoding response from %s: %w", reqURL, decErr)
				}
				return next, nil

			default: // 5xx and anything else
				lastErr = fmt.Errorf("gitlab API error: %s", resp.Status)
				resp.Body.Close()
			}
		}

		attempt++
		if attempt >= c.attempts {
			return "", fmt.Errorf("giving up on %s after %d attempts: %w", reqURL, c.attempts, lastErr)
		}
		wait := time.Duration(math.Pow(c.backoff, float64(attempt-1)) * float64(time.Second))
		c.log.WithError(lastErr).WithFields(logrus.Fields{
			"url":     reqURL,
			"attempt": attempt,
			"wait":    wait,
		}).Warn("request failed, retrying")
		c.sleep(wait)
	}
}

func (c *Client) do(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Load().(string))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// recordRateLimit stores the quota hints from a response, if any, as a new
// snapshot. Last writer wins; readers never see a torn value.
func (c *Client) recordRateLimit(resp *http.Response) {
	snapshot := RateLimit{Remaining: -1, ObservedAt: time.Now()}
	seen := false

	if v := resp.Header.Get("RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snapshot.Remaining = n
			seen = true
			if n < rateLimitLowWater {
				c.log.WithField("remaining", n).Warn("rate limit warning: request quota running low")
			}
		}
	}
	if v := resp.Header.Get("RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			snapshot.Reset = time.Unix(epoch, 0)
			seen = true
		}
	}
	if seen {
		c.rate.Store(&snapshot)
	}
}

// retryAfter reads the Retry-After header of a 429 response, in seconds.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultRetryAfter
}
