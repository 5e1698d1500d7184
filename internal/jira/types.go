// Package jira implements the Jira remote for bdsync.
//
// Fields map onto Jira's REST v3 issue fields. Descriptions are converted
// between plain text and ADF (Atlassian Document Format); status cannot be
// set directly and is applied through the workflow transitions API.
// Progress is read from and written to an optional custom field.
package jira

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/bdsync/internal/tracker"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRatePerSecond bounds outgoing requests per client.
	DefaultRatePerSecond = 5

	maxResponseSize = 10 * 1024 * 1024
)

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	HTTPClient *http.Client

	// Limiter throttles requests; nil means unlimited.
	Limiter *rate.Limiter
	// Retry bounds retries of transient failures.
	Retry tracker.RetryPolicy
}

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`

	// Raw holds every field by id, including custom fields.
	Raw map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the raw field map for
// custom field lookups.
func (i *Issue) UnmarshalJSON(data []byte) error {
	type plain Issue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw struct {
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Issue(p)
	i.Raw = raw.Fields
	return nil
}

// IssueFields contains the fields of a Jira issue.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"` // ADF (Atlassian Document Format) or plain text
	Status      *StatusField    `json:"status"`
	Priority    *PriorityField  `json:"priority"`
	Assignee    *UserField      `json:"assignee"`
	Labels      []string        `json:"labels"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
}

// StatusField represents a Jira issue status.
type StatusField struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// PriorityField represents a Jira issue priority.
type PriorityField struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// UserField represents a Jira user.
type UserField struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Transition is one workflow transition available on an issue.
type Transition struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	To   StatusField `json:"to"`
}

// TransitionsResponse is the body of GET /issue/{key}/transitions.
type TransitionsResponse struct {
	Transitions []Transition `json:"transitions"`
}

// errorBody is Jira's error payload.
type errorBody struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}
