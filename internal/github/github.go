package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/bdsync/internal/tracker"
	"github.com/steveyegge/bdsync/internal/types"
)

// Name is the remote name used in config keys and external refs.
const Name = "github"

func init() {
	tracker.Register(Name, func(cfg *tracker.RemoteConfig) (tracker.Remote, error) {
		return New(cfg)
	})
}

// Remote is the GitHub implementation of tracker.Remote.
type Remote struct {
	client *Client
	mapper *tracker.MappingTable
	now    func() time.Time
}

var _ tracker.Remote = (*Remote)(nil)

// New builds a GitHub remote from github.* configuration.
func New(cfg *tracker.RemoteConfig) (*Remote, error) {
	token, err := cfg.GetRequired("token")
	if err != nil {
		return nil, err
	}
	owner, repo := cfg.Get("owner"), cfg.Get("repo")
	if owner == "" || repo == "" {
		// Accept "owner/repo" in github.repository.
		if full := cfg.Get("repository"); full != "" {
			if o, r, ok := strings.Cut(full, "/"); ok {
				owner, repo = o, r
			}
		}
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github.owner and github.repo must be configured")
	}

	client := NewClient(token, owner, repo)
	if u := cfg.Get("url"); u != "" {
		client = client.WithBaseURL(strings.TrimSuffix(u, "/"))
	}
	if s := cfg.Get("rate_per_second"); s != "" {
		rps, err := strconv.ParseFloat(s, 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("github.rate_per_second: invalid value %q", s)
		}
		client.Limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}

	mapper := NewMapper()
	if err := mapper.LoadConfig(Name, cfg); err != nil {
		return nil, err
	}
	return NewRemote(client, mapper), nil
}

// NewRemote wraps an already configured client.
func NewRemote(client *Client, mapper *tracker.MappingTable) *Remote {
	if mapper == nil {
		mapper = NewMapper()
	}
	return &Remote{client: client, mapper: mapper, now: time.Now}
}

// Client returns the underlying API client.
func (r *Remote) Client() *Client { return r.client }

func (r *Remote) Name() string          { return Name }
func (r *Remote) Mapper() tracker.Mapper { return r.mapper }

// SetRetryPolicy replaces the client's retry policy.
func (r *Remote) SetRetryPolicy(p tracker.RetryPolicy) { r.client.Retry = p }

// Fetch implements tracker.Remote.
func (r *Remote) Fetch(ctx context.Context, ref tracker.RemoteRef) (types.Snapshot, error) {
	number, err := ParseIssueNumber(ref.ExternalID)
	if err != nil {
		return types.Snapshot{}, tracker.NewRemoteError(Name, "fetch", 0, tracker.KindNotFound, err)
	}
	issue, err := r.client.GetIssue(ctx, number)
	if err != nil {
		return types.Snapshot{}, err
	}
	return types.NewSnapshot(types.RemoteOrigin(Name), IssueToFields(issue), r.now()), nil
}

// Apply implements tracker.Remote. The current issue is read first so the
// derived labels can be rebuilt without dropping the user's own labels.
func (r *Remote) Apply(ctx context.Context, ref tracker.RemoteRef, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	number, err := ParseIssueNumber(ref.ExternalID)
	if err != nil {
		return tracker.NewRemoteError(Name, "apply", 0, tracker.KindNotFound, err)
	}
	current, err := r.client.GetIssue(ctx, number)
	if err != nil {
		return err
	}
	body, err := BuildUpdate(current, changes)
	if err != nil {
		return tracker.NewRemoteError(Name, fmt.Sprintf("update #%d", number), http.StatusUnprocessableEntity, tracker.KindPermanent, err)
	}
	_, err = r.client.UpdateIssue(ctx, number, body)
	return err
}

// ParseIssueNumber accepts "42", "#42" or an issue URL.
func ParseIssueNumber(ref string) (int, error) {
	s := strings.TrimSpace(ref)
	if i := strings.LastIndex(s, "/issues/"); i >= 0 {
		s = s[i+len("/issues/"):]
	}
	s = strings.TrimPrefix(s, "#")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid GitHub issue reference %q", ref)
	}
	return n, nil
}
