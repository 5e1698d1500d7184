package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/bdsync/internal/tracker"
)

// NewClient creates a new Jira client.
func NewClient(url, username, apiToken string) *Client {
	return &Client{
		URL:      strings.TrimSuffix(url, "/"),
		Username: username,
		APIToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		Limiter: rate.NewLimiter(rate.Limit(DefaultRatePerSecond), DefaultRatePerSecond),
		Retry:   tracker.DefaultRetryPolicy(),
	}
}

// baseFields is the set of fields requested when fetching an issue.
var baseFields = []string{"summary", "description", "status", "priority", "assignee", "labels", "created", "updated"}

// GetIssue fetches a single Jira issue by key (e.g., "PROJ-123"). extra
// names additional (custom) fields to request.
func (c *Client) GetIssue(ctx context.Context, key string, extra ...string) (*Issue, error) {
	fields := append(append([]string(nil), baseFields...), extra...)
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=%s", c.URL, url.PathEscape(key), url.QueryEscape(strings.Join(fields, ",")))

	body, err := c.doRequest(ctx, "fetch "+key, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, tracker.NewRemoteError(Name, "fetch "+key, 0, tracker.KindPermanent, fmt.Errorf("parse issue response: %w", err))
	}
	return &issue, nil
}

// UpdateIssue updates an existing Jira issue by key.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) error {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s", c.URL, url.PathEscape(key))
	_, err := c.doRequest(ctx, "update "+key, http.MethodPut, apiURL, map[string]interface{}{"fields": fields})
	return err
}

// GetTransitions lists the workflow transitions currently available.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.URL, url.PathEscape(key))
	body, err := c.doRequest(ctx, "transitions "+key, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	var resp TransitionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, tracker.NewRemoteError(Name, "transitions "+key, 0, tracker.KindPermanent, fmt.Errorf("parse transitions: %w", err))
	}
	return resp.Transitions, nil
}

// DoTransition moves the issue through the given transition.
func (c *Client) DoTransition(ctx context.Context, key, transitionID string) error {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.URL, url.PathEscape(key))
	payload := map[string]interface{}{"transition": map[string]string{"id": transitionID}}
	_, err := c.doRequest(ctx, "transition "+key, http.MethodPost, apiURL, payload)
	return err
}

// doRequest executes an authenticated request, waiting on the rate limiter
// and retrying transient failures.
func (c *Client) doRequest(ctx context.Context, op, method, apiURL string, body interface{}) ([]byte, error) {
	if c.URL == "" {
		return nil, tracker.NewRemoteError(Name, op, 0, tracker.KindPermanent, errors.New("jira URL not configured"))
	}
	if c.APIToken == "" {
		return nil, tracker.NewRemoteError(Name, op, 0, tracker.KindAuth, errors.New("jira API token not configured"))
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, tracker.NewRemoteError(Name, op, 0, tracker.KindPermanent, fmt.Errorf("marshal request: %w", err))
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
		req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
		if err != nil {
			return tracker.NewRemoteError(Name, op, 0, tracker.KindPermanent, err)
		}
		c.setAuth(req)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "bdsync/1.0")
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
			// PUT and transitions return 204 No Content on success
			respBody = data
			return nil
		}
		re := tracker.NewRemoteError(Name, op, resp.StatusCode, "", errors.New(errorMessage(data)))
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				re.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return re
	}

	err := tracker.Retry(ctx, c.Retry, attempt, nil)
	if err != nil && ctx.Err() != nil {
		err = tracker.NewRemoteError(Name, op, 0, tracker.KindTransient, ctx.Err())
	}
	return respBody, err
}

func errorMessage(data []byte) string {
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		msgs := append([]string(nil), eb.ErrorMessages...)
		for field, msg := range eb.Errors {
			msgs = append(msgs, field+": "+msg)
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return strings.TrimSpace(string(data))
}

// setAuth uses basic auth (email + API token) when a username is set, as
// Jira Cloud requires, and a bearer PAT otherwise (Jira Data Center).
func (c *Client) setAuth(req *http.Request) {
	if c.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
}

// adfNode is the subset of ADF needed to extract text.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// DescriptionToPlainText extracts plain text from Jira's ADF (Atlassian Document Format).
// Jira v3 API returns descriptions as ADF JSON, not plain text. Block nodes
// become lines; list items are prefixed with "- ".
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var lines []string
	for _, block := range doc.Content {
		lines = appendBlock(lines, block, "")
	}
	return strings.Join(lines, "\n")
}

func appendBlock(lines []string, n adfNode, prefix string) []string {
	switch n.Type {
	case "bulletList", "orderedList":
		for _, item := range n.Content {
			for _, child := range item.Content {
				lines = appendBlock(lines, child, prefix+"- ")
			}
		}
		return lines
	case "paragraph", "heading", "codeBlock", "blockquote":
		var b strings.Builder
		inlineText(&b, n)
		return append(lines, prefix+b.String())
	default:
		var b strings.Builder
		inlineText(&b, n)
		if b.Len() == 0 {
			return lines
		}
		return append(lines, prefix+b.String())
	}
}

func inlineText(b *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
	case "hardBreak":
		b.WriteString("\n")
	}
	for _, c := range n.Content {
		inlineText(b, c)
	}
}

// PlainTextToADF converts plain text to Jira's ADF (Atlassian Document Format).
// Each line becomes a paragraph. Empty text yields nil so the description
// is cleared.
func PlainTextToADF(text string) json.RawMessage {
	if text == "" {
		return nil
	}

	var content []interface{}
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			content = append(content, map[string]interface{}{
				"type":    "paragraph",
				"content": []interface{}{},
			})
			continue
		}
		content = append(content, map[string]interface{}{
			"type": "paragraph",
			"content": []interface{}{
				map[string]interface{}{"type": "text", "text": para},
			},
		})
	}

	doc := map[string]interface{}{
		"type":    "doc",
		"version": 1,
		"content": content,
	}

	data, _ := json.Marshal(doc)
	return data
}
