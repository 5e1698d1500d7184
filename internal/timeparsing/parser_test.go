package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "-6h", want: time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC)},
		{input: "-1d", want: time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)},
		{input: "-2w", want: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{input: "3m", want: time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)},
		{input: "+1y", want: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)},
		{input: "1x", wantErr: true},
		{input: "d", wantErr: true},
		{input: "- 1d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCompactDurationMonthEnd(t *testing.T) {
	// AddDate normalizes Jan 31 + 1 month to Mar 3 (2025 is not a leap year).
	now := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	got, err := ParseCompactDuration("1m", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Month() != time.March || got.Day() != 3 {
		t.Errorf("got %v", got)
	}
}

func TestIsCompactDuration(t *testing.T) {
	for in, want := range map[string]bool{"-1d": true, "24h": true, "+2w": true, "1.5d": false, "yesterday": false, "": false} {
		if got := IsCompactDuration(in); got != want {
			t.Errorf("IsCompactDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	// Wednesday, January 15, 2025
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	tests := []struct {
		input   string
		wantDay int
	}{
		{"yesterday", 14},
		{"tomorrow", 16},
		{"next monday", 20},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNaturalLanguage(tt.input, now)
			if err != nil {
				t.Fatalf("ParseNaturalLanguage(%q) error = %v", tt.input, err)
			}
			if got.Year() != 2025 || got.Month() != time.January || got.Day() != tt.wantDay {
				t.Errorf("ParseNaturalLanguage(%q) = %v, want Jan %d", tt.input, got, tt.wantDay)
			}
		})
	}

	if _, err := ParseNaturalLanguage("xyzzy", now); err == nil {
		t.Error("expected error for text with no date")
	}
}

func TestParseRelativeTime(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "compact", input: "-1d", want: now.AddDate(0, 0, -1)},
		{name: "padded", input: "  -6h ", want: now.Add(-6 * time.Hour)},
		{name: "date-only", input: "2025-01-02", want: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{name: "rfc3339", input: "2025-03-15T14:30:00Z", want: time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "xyzzy", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRelativeTime(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRelativeTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseRelativeTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRelativeTimeFallsBackToNaturalLanguage(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	got, err := ParseRelativeTime("yesterday", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Day() != 14 {
		t.Errorf("ParseRelativeTime(yesterday) = %v", got)
	}
}
