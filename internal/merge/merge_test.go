package merge

import (
	"reflect"
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		local    string
		remote   string
		expected string
	}{
		{
			name:     "no changes",
			base:     "original",
			local:    "original",
			remote:   "original",
			expected: "original",
		},
		{
			name:     "local changed",
			base:     "original",
			local:    "local edit",
			remote:   "original",
			expected: "local edit",
		},
		{
			name:     "remote changed",
			base:     "original",
			local:    "original",
			remote:   "remote edit",
			expected: "remote edit",
		},
		{
			name:     "both changed to same value",
			base:     "original",
			local:    "same",
			remote:   "same",
			expected: "same",
		},
		{
			name:     "both changed - concatenated with marker",
			base:     "",
			local:    "Local notes",
			remote:   "Remote notes",
			expected: "Local notes\n\n--- remote (jira) ---\nRemote notes",
		},
		{
			name:     "local extends remote - keep longer",
			base:     "a",
			local:    "b plus more",
			remote:   "b",
			expected: "b plus more",
		},
		{
			name:     "line endings are not an edit",
			base:     "line one\nline two",
			local:    "line one\r\nline two  ",
			remote:   "changed",
			expected: "changed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Text(tt.base, tt.local, tt.remote, "jira")
			if got != tt.expected {
				t.Errorf("Text() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTextKeepsBothSides(t *testing.T) {
	got := Text("", "Local notes", "Remote notes", "github")
	if !strings.Contains(got, "Local notes") || !strings.Contains(got, "Remote notes") {
		t.Errorf("merged text lost a side: %q", got)
	}
	if !strings.Contains(got, Marker("github")) {
		t.Errorf("merged text has no authorship marker: %q", got)
	}
}

func TestTextIsStableOnRemerge(t *testing.T) {
	first := Text("", "Local notes", "Remote notes", "jira")
	again := Text("", first, "Remote notes", "jira")
	if again != first {
		t.Errorf("re-merging nested the marker: %q", again)
	}
}

func TestLabels(t *testing.T) {
	got := Labels([]string{"a", "b"}, []string{"b", "c"})
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Labels() = %v, want %v", got, want)
	}
	if got := Labels(); got == nil || len(got) != 0 {
		t.Errorf("Labels() of nothing = %#v, want empty", got)
	}
}

func TestMax(t *testing.T) {
	if got := Max(10, 40, 70, 20); got != 70 {
		t.Errorf("Max() = %d, want 70", got)
	}
	if got := Max(10); got != 10 {
		t.Errorf("Max() with no values = %d, want base", got)
	}
}
