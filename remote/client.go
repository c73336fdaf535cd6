// Package remote talks to a cronrule API on behalf of an editor.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/editor"
	"github.com/timzifer/cronrule/trigger"
)

const defaultTimeout = 5 * time.Second

// APIError is an ERROR envelope returned by the backend.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

type envelope struct {
	Status  string `json:"status"`
	Content struct {
		Error  string          `json:"error"`
		Result json.RawMessage `json:"result"`
	} `json:"content"`
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithPreview sets how many upcoming runs Check asks for. Zero disables the
// next request.
func WithPreview(n int) Option {
	return func(c *Client) {
		c.preview = n
	}
}

// Client calls the check, next and describe endpoints.
type Client struct {
	base    *url.URL
	http    *http.Client
	preview int
}

// New returns a client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("remote address is required")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote address: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote address %q must be http or https", baseURL)
	}
	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: defaultTimeout},
		preview: editor.DefaultPreview,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	target := *c.base
	target.Path += "/api/cron/" + endpoint
	target.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: fmt.Sprintf("unreadable response (%s)", resp.Status)}
	}
	if env.Status != "OK" {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: env.Content.Error}
	}
	if err := json.Unmarshal(env.Content.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", endpoint, err)
	}
	return nil
}

// Check asks whether expr fires now and at at, plus the upcoming runs.
func (c *Client) Check(ctx context.Context, expr string, at time.Time) (editor.Result, error) {
	var check trigger.Check
	params := url.Values{"expr": {expr}, "date": {trigger.FormatDate(at)}}
	if err := c.get(ctx, "check", params, &check); err != nil {
		return editor.Result{}, err
	}
	result := editor.Result{Check: check}
	if c.preview > 0 {
		next, err := c.Next(ctx, expr, time.Time{}, c.preview)
		if err != nil {
			return editor.Result{}, err
		}
		result.Next = next
	}
	return result, nil
}

// Next returns up to count runs after from. A zero from means the server's
// current time.
func (c *Client) Next(ctx context.Context, expr string, from time.Time, count int) ([]time.Time, error) {
	params := url.Values{"expr": {expr}, "count": {strconv.Itoa(count)}}
	if !from.IsZero() {
		params.Set("date", trigger.FormatDate(from))
	}
	var raw []string
	if err := c.get(ctx, "next", params, &raw); err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("next: %w", err)
		}
		times = append(times, t)
	}
	return times, nil
}

// Describe fetches the description of expr in locale.
func (c *Client) Describe(ctx context.Context, expr, locale string) (cron.Description, error) {
	params := url.Values{"expr": {expr}}
	if locale != "" {
		params.Set("locale", locale)
	}
	var desc cron.Description
	if err := c.get(ctx, "describe", params, &desc); err != nil {
		return cron.Description{}, err
	}
	return desc, nil
}

var _ editor.Checker = (*Client)(nil)
