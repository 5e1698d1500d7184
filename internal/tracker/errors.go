package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorKind classifies a remote failure for retry and run-outcome decisions.
type ErrorKind string

const (
	// KindTransient covers network errors, timeouts, rate limits and 5xx.
	// Retried at the client boundary, surfaced when retries are exhausted.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers remote-side validation rejections. Not retried.
	KindPermanent ErrorKind = "permanent"
	// KindAuth means credentials were rejected. Not retried; the run fails.
	KindAuth ErrorKind = "auth"
	// KindNotFound means the linked remote issue no longer exists.
	KindNotFound ErrorKind = "notfound"
)

var (
	// ErrRunInProgress is returned when a sync for the same issue is already
	// running and the engine is configured not to wait.
	ErrRunInProgress = errors.New("sync already in progress for this issue")

	// ErrCancelled marks a run cancelled before any write happened, either by
	// the caller's context or by the user aborting a prompt.
	ErrCancelled = errors.New("sync cancelled")
)

// RemoteError is the error type every remote client returns.
type RemoteError struct {
	Kind       ErrorKind
	Remote     string
	Op         string
	StatusCode int
	// RetryAfter is the server-requested delay for rate-limit responses.
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s %s: %s error", e.Remote, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// NewRemoteError builds a RemoteError, deriving the kind from the HTTP status
// when kind is empty.
func NewRemoteError(remote, op string, status int, kind ErrorKind, err error) *RemoteError {
	if kind == "" {
		kind = KindForStatus(status)
	}
	return &RemoteError{Kind: kind, Remote: remote, Op: op, StatusCode: status, Err: err}
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound || status == http.StatusGone:
		return KindNotFound
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// KindOf classifies any error. Errors that are not RemoteErrors are transient
// when they look like network or deadline failures and permanent otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindPermanent
}

// IsFatal reports whether an error of this kind fails the whole run.
func (k ErrorKind) IsFatal() bool {
	return k == KindAuth || k == KindNotFound
}

// Remediation returns a short hint for the user, or "" if there is none.
func (k ErrorKind) Remediation(remote string) string {
	switch k {
	case KindAuth:
		return fmt.Sprintf("check the %s credentials (e.g. %s.token / %s.api_token in config or environment)", remote, remote, remote)
	case KindNotFound:
		return fmt.Sprintf("the linked %s issue no longer exists; update external_refs.%s and clear needs_relink", remote, remote)
	case KindTransient:
		return "retry later; the remote did not respond in time"
	default:
		return ""
	}
}
