// Package github implements the GitHub remote for bdsync.
//
// GitHub issues only carry an open/closed state, so the local status and
// priority travel as scoped labels ("status:blocked", "priority:high")
// alongside the user's own labels. This package fetches a single linked
// issue, converts it into a field snapshot in GitHub's vocabulary, and
// writes resolved values back with one PATCH per apply.
package github

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/bdsync/internal/tracker"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRatePerSecond bounds outgoing requests per client.
	DefaultRatePerSecond = 5

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 * 1024 * 1024
)

// Client provides methods to interact with the GitHub REST API.
type Client struct {
	Token      string       // GitHub personal access token
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // Optional custom HTTP client

	// Limiter throttles requests; nil means unlimited.
	Limiter *rate.Limiter
	// Retry bounds retries of transient failures.
	Retry tracker.RetryPolicy
}

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID          int        `json:"id"`     // Global unique ID
	Number      int        `json:"number"` // Repository-scoped issue number
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"`                  // "open" or "closed"
	StateReason string     `json:"state_reason,omitempty"` // "completed", "not_planned", "reopened"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Labels      []Label    `json:"labels"`
	Assignee    *User      `json:"assignee,omitempty"`
	Assignees   []User     `json:"assignees,omitempty"`
	HTMLURL     string     `json:"html_url"`
	PullRequest *PullRef   `json:"pull_request,omitempty"` // Non-nil if this is a PR
}

// PullRef indicates an issue is actually a pull request.
type PullRef struct {
	URL string `json:"url,omitempty"`
}

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Label represents a GitHub label.
type Label struct {
	ID    int    `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// errorBody is GitHub's error payload.
type errorBody struct {
	Message string `json:"message"`
}

// Label prefixes that carry local fields.
const (
	statusPrefix   = "status"
	priorityPrefix = "priority"
)

// PriorityMapping maps priority label values to priority (0-4).
var PriorityMapping = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"low":      3,
	"none":     4,
}

// PriorityNames is the reverse of PriorityMapping.
var PriorityNames = map[int]string{
	0: "critical",
	1: "high",
	2: "medium",
	3: "low",
	4: "none",
}

// Status values in GitHub's vocabulary. "closed" and "not_planned" are
// expressed through state and state_reason, the others through a status label.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusClosed     = "closed"
	StatusNotPlanned = "not_planned"
)

// ParseLabelName extracts prefix and value from a label like "priority:high" or "priority/high".
// GitHub doesn't have scoped labels like GitLab (::), so we support both ":" and "/" separators.
func ParseLabelName(label string) (prefix, value string) {
	if parts := strings.SplitN(label, ":", 2); len(parts) == 2 {
		return strings.ToLower(parts[0]), parts[1]
	}
	if parts := strings.SplitN(label, "/", 2); len(parts) == 2 {
		return strings.ToLower(parts[0]), parts[1]
	}
	return "", label
}

// LabelNames extracts label name strings from a slice of Label structs.
func LabelNames(labels []Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}

// FilterNonScopedLabels returns only labels that do not carry status or
// priority.
func FilterNonScopedLabels(labels []string) []string {
	filtered := []string{}
	for _, label := range labels {
		if isDerivedLabel(label) {
			continue
		}
		filtered = append(filtered, label)
	}
	return filtered
}

func isDerivedLabel(label string) bool {
	prefix, _ := ParseLabelName(label)
	if prefix == statusPrefix || prefix == priorityPrefix {
		return true
	}
	switch strings.ToUpper(label) {
	case "P0", "P1", "P2", "P3", "P4":
		return true
	}
	return false
}
