// Package upstream implements the client for the external stats API:
// clan roster, per-character activity history pages, lifetime aggregate
// stats, and post-game detail reports.
//
// Every call is bounded by the HTTP client timeout and retried with
// exponential backoff plus jitter on transient failures (HTTP 429, 5xx,
// network errors). Any other non-2xx status is terminal for that call.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dross/clantally/internal/domain/counter"
	"github.com/dross/clantally/internal/domain/model"
	"github.com/dross/clantally/pkg/logger"
	"github.com/dross/clantally/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultTimeout     = 10 * time.Second
	defaultRetryCount  = 3
	defaultBackoffBase = 500 * time.Millisecond
	maxResponseBytes   = 8 << 20
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout bounds each individual request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetryCount caps retries after a transient failure.
func WithRetryCount(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retryCount = n
		}
	}
}

// WithBackoffBase sets the base delay for exponential backoff.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoffBase = d
		}
	}
}

// WithAPIKey sets the X-API-Key header value.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithClanID sets the roster the client reads.
func WithClanID(id string) Option {
	return func(c *Client) { c.clanID = id }
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client talks to the stats API. It implements counter.Source.
type Client struct {
	baseURL     string
	apiKey      string
	clanID      string
	http        *http.Client
	retryCount  int
	backoffBase time.Duration
	log         logger.Logger
}

// New creates a Client for the given API root.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: defaultTimeout},
		retryCount:  defaultRetryCount,
		backoffBase: defaultBackoffBase,
		log:         logger.Get().Named("upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get fetches one endpoint with the retry policy and returns the body.
func (c *Client) get(ctx context.Context, label, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			metrics.RecordUpstreamRetry()
			if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		body, retryable, err := c.doOnce(ctx, label, u)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrRetriesExhausted, label, lastErr)
}

func (c *Client) doOnce(ctx context.Context, label, u string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(label, "network_error")
		return nil, true, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if readErr != nil {
			metrics.RecordUpstreamRequest(label, "network_error")
			return nil, true, fmt.Errorf("%w: read body: %w", ErrTransient, readErr)
		}
		metrics.RecordUpstreamRequest(label, "ok")
		return data, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RecordUpstreamRequest(label, "throttled")
		return nil, true, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 500:
		metrics.RecordUpstreamRequest(label, "server_error")
		return nil, true, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		metrics.RecordUpstreamRequest(label, "client_error")
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, u)
	default:
		metrics.RecordUpstreamRequest(label, "client_error")
		return nil, false, fmt.Errorf("%w: status %d", ErrTerminal, resp.StatusCode)
	}
}

// backoff returns the delay before the given retry attempt (1-based):
// base * 2^(attempt-1), plus jitter of up to one base unit.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(c.backoffBase))) //nolint:gosec // jitter, not crypto
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Roster fetches the configured clan's member list.
func (c *Client) Roster(ctx context.Context) ([]model.Member, error) {
	body, err := c.get(ctx, "roster", "/clans/"+url.PathEscape(c.clanID)+"/members", nil)
	if err != nil {
		return nil, err
	}
	var env rosterEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: roster: %w", ErrDecode, err)
	}
	members := make([]model.Member, 0, len(env.Members))
	for _, m := range env.Members {
		if m.MembershipID == "" {
			continue
		}
		members = append(members, model.Member{
			MembershipID:   m.MembershipID,
			MembershipType: m.MembershipType,
			DisplayName:    m.DisplayName,
			IsOnline:       m.IsOnline,
		})
	}
	return members, nil
}

// Profile returns the character id list for one member.
func (c *Client) Profile(ctx context.Context, membershipType int, membershipID string) ([]string, error) {
	path := "/" + strconv.Itoa(membershipType) + "/profiles/" + url.PathEscape(membershipID)
	body, err := c.get(ctx, "profile", path, nil)
	if err != nil {
		return nil, err
	}
	var env profileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: profile: %w", ErrDecode, err)
	}
	return env.CharacterIDs, nil
}

// HistoryPage returns one page of activity history for a character.
func (c *Client) HistoryPage(ctx context.Context, membershipType int, membershipID, characterID string, mode, page, pageSize int) ([]counter.Record, error) {
	path := "/" + strconv.Itoa(membershipType) +
		"/accounts/" + url.PathEscape(membershipID) +
		"/characters/" + url.PathEscape(characterID) + "/history"
	q := url.Values{}
	q.Set("mode", strconv.Itoa(mode))
	q.Set("page", strconv.Itoa(page))
	q.Set("count", strconv.Itoa(pageSize))

	body, err := c.get(ctx, "history", path, q)
	if err != nil {
		return nil, err
	}
	metrics.RecordHistoryPage()

	var env historyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: history: %w", ErrDecode, err)
	}
	metrics.RecordActivityRecords(len(env.Activities))
	recs := make([]counter.Record, 0, len(env.Activities))
	for _, a := range env.Activities {
		recs = append(recs, a.record())
	}
	return recs, nil
}

// AggregateStats returns lifetime completions per raw variant id for a
// character.
func (c *Client) AggregateStats(ctx context.Context, membershipType int, membershipID, characterID string) (map[int64]int, error) {
	path := "/" + strconv.Itoa(membershipType) +
		"/accounts/" + url.PathEscape(membershipID) +
		"/characters/" + url.PathEscape(characterID) + "/aggregate-stats"
	body, err := c.get(ctx, "aggregate", path, nil)
	if err != nil {
		return nil, err
	}
	var env aggregateEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: aggregate: %w", ErrDecode, err)
	}
	return env.completions(), nil
}

// PGCR fetches the raw detail report for one activity instance.
func (c *Client) PGCR(ctx context.Context, instanceID string) (json.RawMessage, error) {
	body, err := c.get(ctx, "pgcr", "/instances/"+url.PathEscape(instanceID), nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: pgcr %s", ErrDecode, instanceID)
	}
	return json.RawMessage(body), nil
}
