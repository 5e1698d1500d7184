package jira

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/bdsync/internal/tracker"
	"github.com/steveyegge/bdsync/internal/types"
)

// Name is the remote name used in config keys and external refs.
const Name = "jira"

func init() {
	tracker.Register(Name, func(cfg *tracker.RemoteConfig) (tracker.Remote, error) {
		return New(cfg)
	})
}

// Remote is the Jira implementation of tracker.Remote.
type Remote struct {
	client        *Client
	mapper        *Mapper
	progressField string
	now           func() time.Time
}

var _ tracker.Remote = (*Remote)(nil)

// New builds a Jira remote from jira.* configuration.
func New(cfg *tracker.RemoteConfig) (*Remote, error) {
	jiraURL, err := cfg.GetRequired("url")
	if err != nil {
		return nil, err
	}
	token, err := cfg.GetRequired("api_token")
	if err != nil {
		return nil, err
	}
	client := NewClient(jiraURL, cfg.Get("username"), token)
	if s := cfg.Get("rate_per_second"); s != "" {
		rps, err := strconv.ParseFloat(s, 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("jira.rate_per_second: invalid value %q", s)
		}
		client.Limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}

	progressField := cfg.Get("progress_field")
	mapper := NewMapper(progressField)
	if err := mapper.LoadConfig(Name, cfg); err != nil {
		return nil, err
	}
	return NewRemote(client, mapper, progressField), nil
}

// NewRemote wraps an already configured client.
func NewRemote(client *Client, mapper *Mapper, progressField string) *Remote {
	if mapper == nil {
		mapper = NewMapper(progressField)
	}
	return &Remote{client: client, mapper: mapper, progressField: progressField, now: time.Now}
}

// Client returns the underlying API client.
func (r *Remote) Client() *Client { return r.client }

func (r *Remote) Name() string          { return Name }
func (r *Remote) Mapper() tracker.Mapper { return r.mapper }

// SetRetryPolicy replaces the client's retry policy.
func (r *Remote) SetRetryPolicy(p tracker.RetryPolicy) { r.client.Retry = p }

// Fetch implements tracker.Remote.
func (r *Remote) Fetch(ctx context.Context, ref tracker.RemoteRef) (types.Snapshot, error) {
	key, err := ExtractKey(ref.ExternalID)
	if err != nil {
		return types.Snapshot{}, tracker.NewRemoteError(Name, "fetch", 0, tracker.KindNotFound, err)
	}
	var extra []string
	if r.progressField != "" {
		extra = append(extra, r.progressField)
	}
	issue, err := r.client.GetIssue(ctx, key, extra...)
	if err != nil {
		return types.Snapshot{}, err
	}
	return types.NewSnapshot(types.RemoteOrigin(Name), IssueToFields(issue, r.progressField), r.now()), nil
}

// Apply implements tracker.Remote. Plain fields are written with one PUT;
// a status change then goes through the matching workflow transition.
func (r *Remote) Apply(ctx context.Context, ref tracker.RemoteRef, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	key, err := ExtractKey(ref.ExternalID)
	if err != nil {
		return tracker.NewRemoteError(Name, "apply", 0, tracker.KindNotFound, err)
	}
	fields, status, err := BuildUpdate(changes, r.progressField)
	if err != nil {
		return tracker.NewRemoteError(Name, "update "+key, http.StatusBadRequest, tracker.KindPermanent, err)
	}
	if len(fields) > 0 {
		if err := r.client.UpdateIssue(ctx, key, fields); err != nil {
			return err
		}
	}
	if status == "" {
		return nil
	}
	transitions, err := r.client.GetTransitions(ctx, key)
	if err != nil {
		return err
	}
	t, ok := findTransition(transitions, status)
	if !ok {
		return tracker.NewRemoteError(Name, "transition "+key, 0, tracker.KindPermanent,
			fmt.Errorf("no workflow transition to %q is available", status))
	}
	return r.client.DoTransition(ctx, key, t.ID)
}
