package jira

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var keyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-[0-9]+$`)

// ExtractKey returns the issue key from an external ref, which may be the
// key itself ("PROJ-123") or a browse URL
// ("https://company.atlassian.net/browse/PROJ-123").
func ExtractKey(ref string) (string, error) {
	s := strings.TrimSpace(ref)
	if idx := strings.LastIndex(s, "/browse/"); idx != -1 {
		s = s[idx+len("/browse/"):]
	}
	s = strings.TrimSuffix(s, "/")
	if !keyPattern.MatchString(strings.ToUpper(s)) {
		return "", fmt.Errorf("invalid Jira issue reference %q", ref)
	}
	return strings.ToUpper(s), nil
}

// ParseTimestamp parses Jira's timestamp format into a time.Time.
// Jira uses ISO 8601 with timezone: 2024-01-15T10:30:00.000+0000 or 2024-01-15T10:30:00.000Z
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}
