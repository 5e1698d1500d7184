package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/bdsync/internal/tracker"
)

// NewClient creates a new GitHub client.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		Limiter: rate.NewLimiter(rate.Limit(DefaultRatePerSecond), DefaultRatePerSecond),
		Retry:   tracker.DefaultRetryPolicy(),
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.HTTPClient = httpClient
	return &cp
}

// WithBaseURL returns a new client with a custom base URL (for testing or GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := *c
	cp.BaseURL = baseURL
	return &cp
}

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return url.PathEscape(c.Owner) + "/" + url.PathEscape(c.Repo)
}

func (c *Client) issuePath(number int) string {
	return "/repos/" + c.repoPath() + "/issues/" + strconv.Itoa(number)
}

// doRequest performs one logical API call: it waits for the rate limiter,
// retries transient failures and classifies the final error.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, tracker.NewRemoteError(Name, op, 0, tracker.KindPermanent, fmt.Errorf("marshal request body: %w", err))
		}
	}

	var respBody []byte
	attempt := func() error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return tracker.NewRemoteError(Name, op, 0, tracker.KindTransient, err)
			}
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return tracker.NewRemoteError(Name, op, 0, tracker.KindPermanent, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return tracker.NewRemoteError(Name, op, 0, tracker.KindTransient, err)
		}
		defer func() { _ = resp.Body.Close() }()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return tracker.NewRemoteError(Name, op, resp.StatusCode, tracker.KindTransient, fmt.Errorf("read response: %w", err))
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			respBody = data
			return nil
		}
		return responseError(op, resp, data)
	}

	err := tracker.Retry(ctx, c.Retry, attempt, nil)
	if err != nil && ctx.Err() != nil {
		err = tracker.NewRemoteError(Name, op, 0, tracker.KindTransient, ctx.Err())
	}
	return respBody, err
}

// responseError classifies a non-2xx response. GitHub reports primary rate
// limits as 403 with X-RateLimit-Remaining: 0.
func responseError(op string, resp *http.Response, data []byte) error {
	var eb errorBody
	msg := string(data)
	if json.Unmarshal(data, &eb) == nil && eb.Message != "" {
		msg = eb.Message
	}
	kind := tracker.KindForStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		kind = tracker.KindTransient
	}
	re := tracker.NewRemoteError(Name, op, resp.StatusCode, kind, errors.New(msg))
	re.RetryAfter = retryAfter(resp.Header)
	return re
}

// retryAfter reads Retry-After (seconds) or X-RateLimit-Reset (unix time).
func retryAfter(h http.Header) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if s := h.Get("X-RateLimit-Reset"); s != "" && h.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Until(time.Unix(reset, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}

// GetIssue retrieves a single issue by its number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	op := fmt.Sprintf("fetch #%d", number)
	data, err := c.doRequest(ctx, op, http.MethodGet, c.issuePath(number), nil)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, tracker.NewRemoteError(Name, op, 0, tracker.KindPermanent, fmt.Errorf("parse issue response: %w", err))
	}
	return &issue, nil
}

// UpdateIssue patches an existing issue. GitHub uses PATCH for issue updates.
func (c *Client) UpdateIssue(ctx context.Context, number int, updates map[string]interface{}) (*Issue, error) {
	op := fmt.Sprintf("update #%d", number)
	data, err := c.doRequest(ctx, op, http.MethodPatch, c.issuePath(number), updates)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, tracker.NewRemoteError(Name, op, 0, tracker.KindPermanent, fmt.Errorf("parse update response: %w", err))
	}
	return &issue, nil
}
