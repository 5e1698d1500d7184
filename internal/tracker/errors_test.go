package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindForStatus(t *testing.T) {
	tests := map[int]ErrorKind{
		401: KindAuth,
		403: KindAuth,
		404: KindNotFound,
		410: KindNotFound,
		408: KindTransient,
		429: KindTransient,
		500: KindTransient,
		503: KindTransient,
		400: KindPermanent,
		422: KindPermanent,
	}
	for status, want := range tests {
		if got := KindForStatus(status); got != want {
			t.Errorf("KindForStatus(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewRemoteError("jira", "fetch", 401, "", nil))
	if KindOf(wrapped) != KindAuth {
		t.Errorf("wrapped auth error classified as %s", KindOf(wrapped))
	}
	if KindOf(context.DeadlineExceeded) != KindTransient {
		t.Error("deadline should be transient")
	}
	if KindOf(errors.New("boom")) != KindPermanent {
		t.Error("plain errors should be permanent")
	}
	if KindOf(nil) != "" {
		t.Error("nil has no kind")
	}
}

func TestRemoteErrorMessage(t *testing.T) {
	err := NewRemoteError("github", "apply #12", 422, "", errors.New("label too long"))
	msg := err.Error()
	for _, want := range []string{"github", "apply #12", "permanent", "HTTP 422", "label too long"} {
		if !strings.Contains(msg, want) {
			t.Errorf("%q missing %q", msg, want)
		}
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap should expose the cause")
	}
}

func TestFatalKindsHaveRemediation(t *testing.T) {
	for _, k := range []ErrorKind{KindAuth, KindNotFound} {
		if !k.IsFatal() {
			t.Errorf("%s should be fatal", k)
		}
		if k.Remediation("jira") == "" {
			t.Errorf("%s has no hint", k)
		}
	}
	if KindTransient.IsFatal() || KindPermanent.IsFatal() {
		t.Error("transient and permanent errors must not fail the whole run")
	}
}
