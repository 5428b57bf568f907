package search

import (
	"testing"
	"time"
)

func TestParse_TermsOnly(t *testing.T) {
	q := Parse("fix auth bug")
	if q.Query != "fix auth bug" {
		t.Errorf("Query = %q", q.Query)
	}
	if len(q.Terms) != 3 {
		t.Errorf("Terms = %v", q.Terms)
	}
	if q.Sort != SortRecent || q.Limit != DefaultLimit || q.Offset != 0 {
		t.Errorf("defaults wrong: %+v", q)
	}
}

func TestParse_QuotedPhrase(t *testing.T) {
	q := Parse(`"fix auth" deploy`)
	if len(q.Terms) != 2 {
		t.Fatalf("Terms = %v, want 2 tokens", q.Terms)
	}
	if q.Terms[0] != "fix auth" {
		t.Errorf("first term = %q, want %q", q.Terms[0], "fix auth")
	}
	if q.Query != "fix auth deploy" {
		t.Errorf("Query = %q", q.Query)
	}
}

func TestParse_UnbalancedQuoteFallsBack(t *testing.T) {
	q := Parse(`fix "auth deploy`)
	// Best effort: plain whitespace split.
	if len(q.Terms) != 3 {
		t.Errorf("Terms = %v, want 3 whitespace tokens", q.Terms)
	}
}

func TestParse_ProjectOption(t *testing.T) {
	for _, flag := range []string{"--project", "-p"} {
		q := Parse(flag + " webapp auth")
		if q.Filters.Project != "webapp" {
			t.Errorf("%s: Project = %q", flag, q.Filters.Project)
		}
		if len(q.Terms) != 1 || q.Terms[0] != "auth" {
			t.Errorf("%s: Terms = %v", flag, q.Terms)
		}
	}
}

func TestParse_Last(t *testing.T) {
	tests := []struct {
		arg  string
		want time.Duration
	}{
		{"3d", 3 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"1m", 30 * 24 * time.Hour}, // flat 30 days
	}

	for _, tt := range tests {
		q := Parse("--last " + tt.arg)
		if q.Filters.Since == nil {
			t.Fatalf("--last %s: Since not set", tt.arg)
		}
		got := time.Since(*q.Filters.Since)
		if got < tt.want-time.Minute || got > tt.want+time.Minute {
			t.Errorf("--last %s: span = %v, want ~%v", tt.arg, got, tt.want)
		}
	}
}

func TestParse_LastInvalidLeavesUnset(t *testing.T) {
	for _, arg := range []string{"abc", "3y", "d", "-1d", ""} {
		q := Parse("--last " + arg)
		if q.Filters.Since != nil {
			t.Errorf("--last %q should leave Since unset", arg)
		}
	}
}

func TestParse_SinceUntil(t *testing.T) {
	q := Parse("--since 2026-01-15 --until 2026-02-01T12:00:00")
	if q.Filters.Since == nil || q.Filters.Until == nil {
		t.Fatalf("filters not set: %+v", q.Filters)
	}
	wantSince := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if !q.Filters.Since.Equal(wantSince) {
		t.Errorf("Since = %v, want %v (naive dates are UTC)", q.Filters.Since, wantSince)
	}
	wantUntil := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if !q.Filters.Until.Equal(wantUntil) {
		t.Errorf("Until = %v, want %v", q.Filters.Until, wantUntil)
	}
}

func TestParse_BadTimestampLeavesUnset(t *testing.T) {
	q := Parse("--since yesterday auth")
	if q.Filters.Since != nil {
		t.Errorf("unparseable --since should leave filter unset")
	}
	if len(q.Terms) != 1 || q.Terms[0] != "auth" {
		t.Errorf("Terms = %v", q.Terms)
	}
}

func TestParse_Sort(t *testing.T) {
	q := Parse("--sort size auth")
	if q.Sort != SortSize {
		t.Errorf("Sort = %q", q.Sort)
	}

	q = Parse("--sort bogus auth")
	if q.Sort != SortRecent {
		t.Errorf("invalid sort should keep default, got %q", q.Sort)
	}
}

func TestParse_UnknownOptionSkipped(t *testing.T) {
	q := Parse("--frobnicate auth fix")
	// Only the flag token is dropped; "auth" stays a term.
	if len(q.Terms) != 2 || q.Terms[0] != "auth" || q.Terms[1] != "fix" {
		t.Errorf("Terms = %v, want [auth fix]", q.Terms)
	}
}

func TestParse_OptionAtEnd(t *testing.T) {
	q := Parse("auth --project")
	if len(q.Terms) != 1 || q.Terms[0] != "auth" {
		t.Errorf("Terms = %v", q.Terms)
	}
	if q.Filters.Project != "" {
		t.Errorf("Project = %q, want empty", q.Filters.Project)
	}
}

func TestParse_Empty(t *testing.T) {
	q := Parse("")
	if q.Query != "" || len(q.Terms) != 0 {
		t.Errorf("empty input parsed to %+v", q)
	}
}
