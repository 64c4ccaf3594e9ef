// Package stacks is a client for the Stacks node read-only contract call
// endpoint, with endpoint failover and rate-limit tracking.
package stacks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/metrics"
	"github.com/cityclaims/cityclaims/internal/util"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultRetryAfter = 2 * time.Second
	maxResponseBytes  = 1 << 20
	apiKeyHeader      = "x-api-key"
)

// DefaultEndpoints are the public mainnet API hosts
var DefaultEndpoints = []string{"https://api.hiro.so", "https://api.mainnet.hiro.so"}

// ErrNoEndpoints is returned when every endpoint is unhealthy
var ErrNoEndpoints = errors.New("stacks: no endpoint available")

// RateLimitedError is returned for HTTP 429 responses or when every endpoint
// is parked on an exhausted budget
type RateLimitedError struct {
	Endpoint string
	Wait     time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("stacks: rate limited by %s, retry after %s", e.Endpoint, e.Wait)
}

// RetryAfter implements util.DelayHinter
func (e *RateLimitedError) RetryAfter() time.Duration { return e.Wait }

// CallError is returned when the node evaluated the call and refused it
type CallError struct {
	ContractID string
	Function   string
	Cause      string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("stacks: %s::%s failed: %s", e.ContractID, e.Function, e.Cause)
}

// HTTPError is an unexpected HTTP status
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("stacks: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Budget is the request allowance last reported by the API
type Budget struct {
	Remaining int
	Reset     time.Time
	Known     bool
}

// Config configures a Client
type Config struct {
	Endpoints []string
	APIKey    string
	// Sender is the principal reported as tx-sender for read-only calls.
	// Defaults to the called contract's deployer.
	Sender  string
	Timeout time.Duration
}

// Client calls read-only contract functions
type Client struct {
	httpClient *http.Client
	endpoints  *EndpointTracker
	apiKey     string
	sender     string
	metrics    *metrics.Collector

	mu     sync.Mutex
	budget Budget
}

type callReadRequest struct {
	Sender    string   `json:"sender"`
	Arguments []string `json:"arguments"`
}

type callReadResponse struct {
	Okay   bool   `json:"okay"`
	Result string `json:"result"`
	Cause  string `json:"cause"`
}

// NewClient creates a client. m may be nil.
func NewClient(cfg Config, m *metrics.Collector) (*Client, error) {
	endpoints := slices.Clone(cfg.Endpoints)
	if len(endpoints) == 0 {
		endpoints = slices.Clone(DefaultEndpoints)
	}
	for i, e := range endpoints {
		u, err := url.Parse(e)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("stacks: invalid endpoint %q", e)
		}
		endpoints[i] = strings.TrimRight(e, "/")
	}
	if cfg.Sender != "" {
		if err := clarity.ValidateAddress(cfg.Sender); err != nil {
			return nil, fmt.Errorf("stacks: invalid sender: %w", err)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoints:  NewEndpointTracker(endpoints),
		apiKey:     cfg.APIKey,
		sender:     cfg.Sender,
		metrics:    m,
	}, nil
}

// Endpoints exposes the health tracker
func (c *Client) Endpoints() *EndpointTracker {
	return c.endpoints
}

// Budget returns the allowance reported by the most recent response
func (c *Client) Budget() Budget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// CallReadOnly evaluates function on contractID with args and returns the
// decoded result. Network failures and 5xx responses fail over to the next
// endpoint and are marked retryable; a 429 parks the endpoint.
func (c *Client) CallReadOnly(ctx context.Context, contractID, function string, args []clarity.Value) (clarity.Value, error) {
	contract, err := clarity.ParsePrincipal(contractID)
	if err != nil || contract.ContractName == "" {
		return clarity.Value{}, util.MarkNonRetryable(fmt.Errorf("stacks: invalid contract id %q", contractID))
	}

	body := callReadRequest{Sender: c.sender, Arguments: make([]string, len(args))}
	if body.Sender == "" {
		body.Sender = contract.Address()
	}
	for i, a := range args {
		h, err := clarity.EncodeHex(a)
		if err != nil {
			return clarity.Value{}, util.MarkNonRetryable(fmt.Errorf("stacks: encode argument %d: %w", i, err))
		}
		body.Arguments[i] = h
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return clarity.Value{}, util.MarkNonRetryable(err)
	}

	urls := c.endpoints.GetHealthy()
	if len(urls) == 0 {
		if until := c.endpoints.NextAvailable(); !until.IsZero() {
			return clarity.Value{}, util.MarkRetryable(&RateLimitedError{Endpoint: "all", Wait: time.Until(until)})
		}
		return clarity.Value{}, util.MarkRetryable(ErrNoEndpoints)
	}

	var lastErr error
	for _, base := range urls {
		v, err := c.call(ctx, base, contract, function, payload)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !util.IsRetryable(err) {
			return clarity.Value{}, err
		}
		logging.Debug("read-only call failed, trying next endpoint",
			logging.Component("stacks"),
			"endpoint", base,
			"function", function,
			logging.Err(err))
	}
	return clarity.Value{}, lastErr
}

func (c *Client) call(ctx context.Context, base string, contract clarity.Principal, function string, payload []byte) (clarity.Value, error) {
	endpoint := fmt.Sprintf("%s/v2/contracts/call-read/%s/%s/%s",
		base, contract.Address(), url.PathEscape(contract.ContractName), url.PathEscape(function))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return clarity.Value{}, util.MarkNonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.endpoints.RecordError(base)
		c.metrics.RecordOracleCall(function, "network_error", time.Since(start))
		return clarity.Value{}, util.MarkRetryable(fmt.Errorf("stacks: call %s: %w", function, err))
	}
	defer resp.Body.Close()

	c.observeBudget(base, resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.endpoints.RecordRateLimited(base, time.Now().Add(wait))
		c.metrics.RecordOracleCall(function, "rate_limited", time.Since(start))
		c.metrics.RecordRateLimited()
		return clarity.Value{}, util.MarkRetryable(&RateLimitedError{Endpoint: base, Wait: wait})
	case resp.StatusCode >= 500:
		c.endpoints.RecordError(base)
		c.metrics.RecordOracleCall(function, "server_error", time.Since(start))
		return clarity.Value{}, util.MarkRetryable(&HTTPError{Endpoint: base, StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)})
	case resp.StatusCode != http.StatusOK:
		c.metrics.RecordOracleCall(function, "client_error", time.Since(start))
		return clarity.Value{}, util.MarkNonRetryable(&HTTPError{Endpoint: base, StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)})
	}

	var out callReadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		c.endpoints.RecordError(base)
		c.metrics.RecordOracleCall(function, "bad_response", time.Since(start))
		return clarity.Value{}, util.MarkRetryable(fmt.Errorf("stacks: decode response: %w", err))
	}
	latency := time.Since(start)
	c.endpoints.RecordSuccess(base, latency)

	if !out.Okay {
		c.metrics.RecordOracleCall(function, "call_error", latency)
		return clarity.Value{}, util.MarkNonRetryable(&CallError{
			ContractID: contract.String(),
			Function:   function,
			Cause:      out.Cause,
		})
	}

	v, err := clarity.DecodeHex(out.Result)
	if err != nil {
		c.metrics.RecordOracleCall(function, "bad_response", latency)
		return clarity.Value{}, util.MarkNonRetryable(fmt.Errorf("stacks: decode result of %s: %w", function, err))
	}
	c.metrics.RecordOracleCall(function, "ok", latency)
	return v, nil
}

// observeBudget records the X-RateLimit-* headers. An exhausted budget parks
// the endpoint until the reported reset.
func (c *Client) observeBudget(base string, h http.Header) {
	remaining, ok := headerInt(h, "X-RateLimit-Remaining", "RateLimit-Remaining")
	if !ok {
		return
	}
	b := Budget{Remaining: remaining, Known: true}
	if reset, ok := headerInt(h, "X-RateLimit-Reset", "RateLimit-Reset"); ok && reset > 0 {
		b.Reset = time.Now().Add(time.Duration(reset) * time.Second)
	}

	c.mu.Lock()
	c.budget = b
	c.mu.Unlock()

	if remaining <= 0 && !b.Reset.IsZero() {
		c.endpoints.RecordRateLimited(base, b.Reset)
	}
}

func headerInt(h http.Header, names ...string) (int, bool) {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// parseRetryAfter accepts delay-seconds or an HTTP date
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
