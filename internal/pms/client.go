package pms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"staybook/internal/core"
)

const (
	DefaultRequestTimeout      = 15 * time.Second
	DefaultMaxRateLimitRetries = 2
	DefaultBackoffBase         = 500 * time.Millisecond
	DefaultBackoffMax          = 8 * time.Second
)

// ClientConfig contains PMS client settings
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	Endpoints      []string // cascade order; defaults to offers, calendar, legacy

	// Client-side throttle; RequestsPerSecond <= 0 disables it
	RequestsPerSecond float64
	Burst             int

	// 429 handling
	MaxRateLimitRetries int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
}

// Outcome classifies one endpoint attempt
type Outcome int

const (
	OutcomeSuccess   Outcome = iota
	OutcomeRetryable         // fall through to the next endpoint
	OutcomeFatal             // stop the cascade
)

// AttemptResult is the result of trying one endpoint
type AttemptResult struct {
	Outcome Outcome
	Result  *core.AvailabilityResult
	Err     *core.AttemptError
}

// attemptState tracks the retry-after-refresh cycle of one endpoint attempt.
// At most one forced refresh happens per attempt.
type attemptState int

const (
	stateInitial attemptState = iota
	stateRetriedAfterRefresh
	stateExhausted
)

// Client queries room inventory from the PMS, cascading across endpoint families
type Client struct {
	config     ClientConfig
	tokens     TokenProvider
	httpClient *http.Client
	endpoints  []Endpoint
	limiter    *rate.Limiter
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a PMS client
func NewClient(config ClientConfig, tokens TokenProvider, logger *slog.Logger) (*Client, error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	// Zero selects the default; negative disables 429 retries
	if config.MaxRateLimitRetries == 0 {
		config.MaxRateLimitRetries = DefaultMaxRateLimitRetries
	} else if config.MaxRateLimitRetries < 0 {
		config.MaxRateLimitRetries = 0
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = DefaultBackoffMax
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpoints := DefaultEndpoints()
	if len(config.Endpoints) > 0 {
		endpoints = make([]Endpoint, 0, len(config.Endpoints))
		for _, name := range config.Endpoints {
			ep, err := NewEndpoint(name)
			if err != nil {
				return nil, err
			}
			endpoints = append(endpoints, ep)
		}
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		config:     config,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		endpoints:  endpoints,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With("component", "pms.client"),
		sleep:      sleepContext,
	}, nil
}

// Endpoints returns the endpoint names in cascade order
func (c *Client) Endpoints() []string {
	names := make([]string, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		names = append(names, ep.Name())
	}
	return names
}

// GetInventory returns availability and nightly prices for a room.
// Endpoints are tried in order; transport, malformed and empty responses fall
// through to the next one. Only an exhausted cascade, an auth failure or the
// caller's cancellation is returned as an error.
func (c *Client) GetInventory(ctx context.Context, room core.RoomKey, r core.DateRange, guests core.Guests) (*core.AvailabilityResult, error) {
	if err := room.Validate(); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := guests.Validate(); err != nil {
		return nil, err
	}

	q := Query{Room: room, Range: r, Guests: guests}
	attempts := make([]*core.AttemptError, 0, len(c.endpoints))

	for _, ep := range c.endpoints {
		res := c.Try(ctx, ep, q)
		switch res.Outcome {
		case OutcomeSuccess:
			return res.Result, nil
		case OutcomeFatal:
			return nil, res.Err
		}

		c.logger.Warn("PMS endpoint failed, falling through",
			"endpoint", ep.Name(),
			"room", room.String(),
			"range", r.String(),
			"error", res.Err)
		attempts = append(attempts, res.Err)
	}

	return nil, &core.ExhaustedError{Room: room, Attempts: attempts}
}

// Try runs one endpoint, refreshing the token and retrying once if it is rejected
func (c *Client) Try(ctx context.Context, ep Endpoint, q Query) AttemptResult {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return failed(OutcomeFatal, ep, core.ErrAuth, 0, err)
	}

	state := stateInitial
	for state != stateExhausted {
		status, body, err := c.send(ctx, ep, q, token)
		if err != nil {
			if ctx.Err() != nil {
				return failed(OutcomeFatal, ep, core.ErrPMSTransport, 0, ctx.Err())
			}
			return failed(OutcomeRetryable, ep, core.ErrPMSTransport, 0, err)
		}

		var runs []Run
		unauthorized := status == http.StatusUnauthorized
		if !unauthorized && status >= 200 && status < 300 {
			runs, err = ep.Parse(body, q)
			unauthorized = errors.Is(err, errUnauthorized)
		}

		if unauthorized {
			if state == stateRetriedAfterRefresh {
				state = stateExhausted
				continue
			}
			c.logger.Info("PMS rejected token, forcing refresh", "endpoint", ep.Name())
			token, err = c.tokens.ForceRefresh(ctx, token)
			if err != nil {
				return failed(OutcomeFatal, ep, core.ErrAuth, status, err)
			}
			state = stateRetriedAfterRefresh
			continue
		}

		if status < 200 || status >= 300 {
			return failed(OutcomeRetryable, ep, core.ErrPMSResponse, status,
				fmt.Errorf("unexpected status: %s", truncate(body, 200)))
		}
		if err != nil {
			return failed(OutcomeRetryable, ep, core.ErrPMSResponse, status, err)
		}

		quotes, covered, err := ExpandRuns(q.Range, runs)
		if err != nil {
			return failed(OutcomeRetryable, ep, core.ErrPMSResponse, status, err)
		}
		if covered == 0 {
			return failed(OutcomeRetryable, ep, core.ErrPMSResponse, status, errors.New("empty result"))
		}

		return AttemptResult{
			Outcome: OutcomeSuccess,
			Result:  core.NewAvailabilityResult(q.Room, q.Range, quotes, ep.Name(), ep.GuestInclusive()),
		}
	}

	return failed(OutcomeRetryable, ep, core.ErrAuth, http.StatusUnauthorized,
		errors.New("token rejected again after refresh"))
}

// send issues the request, throttled by the limiter and retried with backoff on 429
func (c *Client) send(ctx context.Context, ep Endpoint, q Query, token string) (int, []byte, error) {
	for retry := 0; ; retry++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}

		status, header, body, err := c.do(ctx, ep, q, token)
		if err != nil {
			return 0, nil, err
		}
		if status != http.StatusTooManyRequests || retry >= c.config.MaxRateLimitRetries {
			return status, body, nil
		}

		wait := c.backoff(retry, header.Get("Retry-After"))
		c.logger.Warn("PMS rate limit hit, backing off",
			"endpoint", ep.Name(),
			"retry", retry+1,
			"wait", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return 0, nil, err
		}
	}
}

// do performs one HTTP round trip bounded by the request timeout
func (c *Client) do(ctx context.Context, ep Endpoint, q Query, token string) (int, http.Header, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := ep.NewRequest(reqCtx, c.config.BaseURL, q)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, resp.Header, body, nil
}

// backoff returns the wait before retry n: Retry-After when given, otherwise
// exponential backoff with full jitter. Both are capped at BackoffMax.
func (c *Client) backoff(retry int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, c.config.BackoffMax)
	}
	if at, err := http.ParseTime(retryAfter); err == nil {
		return min(max(time.Until(at), 0), c.config.BackoffMax)
	}

	ceiling := min(c.config.BackoffBase<<retry, c.config.BackoffMax)
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

func failed(outcome Outcome, ep Endpoint, kind error, status int, err error) AttemptResult {
	return AttemptResult{
		Outcome: outcome,
		Err: &core.AttemptError{
			Endpoint: ep.Name(),
			Kind:     kind,
			Status:   status,
			Err:      err,
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
