package search

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sessionhub/sessionhub/internal/index"
)

func testIndex(sessions ...*index.Session) *index.SessionIndex {
	idx := index.NewSessionIndex()
	for _, s := range sessions {
		idx.Sessions[s.SessionID] = s
	}
	return idx
}

func session(id, project, summary string, modified time.Time) *index.Session {
	return &index.Session{
		SessionID:          id,
		ProjectEncoded:     "-home-" + project,
		ProjectDisplayName: project,
		Summary:            summary,
		ModifiedAt:         modified,
		CreatedAt:          modified,
	}
}

func run(t *testing.T, idx *index.SessionIndex, text string) []*index.Session {
	t.Helper()
	q := Parse(text)
	matched := filterSessions(idx, q)
	return sortSessions(matched, q)
}

func TestSearch_TermMatchingAcrossFields(t *testing.T) {
	now := time.Now().UTC()
	idx := testIndex(
		session("s1", "webapp", "Fix auth bug", now),
		session("s2", "authsvc", "", now),
		session("s3", "tools", "Refactor parser", now),
	)

	got := run(t, idx, "auth")
	if len(got) != 2 {
		t.Fatalf("matched %d sessions, want 2 (summary + project name)", len(got))
	}

	// Exact session-id match.
	got = run(t, idx, "s3")
	if len(got) != 1 || got[0].SessionID != "s3" {
		t.Fatalf("id match = %v", got)
	}
}

func TestSearch_ShortTermsDoNotNarrow(t *testing.T) {
	now := time.Now().UTC()
	idx := testIndex(
		session("s1", "webapp", "Fix auth", now),
		session("s2", "tools", "Other work", now),
	)

	all := run(t, idx, "")
	short := run(t, idx, "x")
	if len(short) != len(all) {
		t.Errorf("1-char term narrowed results: %d vs %d", len(short), len(all))
	}
}

func TestSearch_ProjectFilter(t *testing.T) {
	now := time.Now().UTC()
	idx := testIndex(
		session("s1", "WebApp", "something", now),
		session("s2", "tools", "something", now),
	)

	got := run(t, idx, "--project webapp")
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("case-insensitive project filter failed: %v", got)
	}
}

func TestSearch_TimeFilters(t *testing.T) {
	now := time.Now().UTC()
	idx := testIndex(
		session("old", "a", "work", now.Add(-40*24*time.Hour)),
		session("new", "a", "work", now),
	)

	got := run(t, idx, "--last 7d")
	if len(got) != 1 || got[0].SessionID != "new" {
		t.Fatalf("since filter = %v", got)
	}

	until := now.Add(-30 * 24 * time.Hour).Format("2006-01-02")
	got = run(t, idx, "--until "+until)
	if len(got) != 1 || got[0].SessionID != "old" {
		t.Fatalf("until filter = %v", got)
	}
}

func TestSearch_RankingScenario(t *testing.T) {
	// Two projects: -home-a has "Fix auth", -home-b has "OAuth flow" and a
	// summaryless session. Searching "auth" must return the direct hit
	// first, the OAuth hit second, and filter out the summaryless one.
	now := time.Now().UTC()
	idx := testIndex(
		session("s1", "a", "Fix auth", now.Add(-time.Hour)),
		session("s2", "b", "OAuth flow", now.Add(-time.Hour)),
		session("s3", "b", "", now),
	)

	got := run(t, idx, "auth")
	if len(got) != 2 {
		t.Fatalf("total = %d, want 2", len(got))
	}
	if got[0].SessionID != "s1" {
		t.Errorf("first = %s, want s1", got[0].SessionID)
	}
	if got[1].SessionID != "s2" {
		t.Errorf("second = %s, want s2", got[1].SessionID)
	}
}

func TestSearch_RecencyBreaksTies(t *testing.T) {
	now := time.Now().UTC()
	idx := testIndex(
		session("older", "a", "deploy pipeline", now.Add(-20*24*time.Hour)),
		session("newer", "a", "deploy pipeline", now),
	)

	got := run(t, idx, "deploy")
	if got[0].SessionID != "newer" {
		t.Errorf("first = %s, want newer", got[0].SessionID)
	}
}

func TestSearch_SortOldest(t *testing.T) {
	now := time.Now().UTC()
	idx := testIndex(
		session("s1", "a", "w", now),
		session("s2", "a", "w", now.Add(-time.Hour)),
	)

	got := run(t, idx, "--sort oldest")
	if got[0].SessionID != "s2" {
		t.Errorf("oldest first = %s, want s2", got[0].SessionID)
	}
}

func TestSearch_SortSize(t *testing.T) {
	now := time.Now().UTC()
	var sessions []*index.Session
	for i, size := range []int64{10, 500, 250} {
		s := session(fmt.Sprintf("s%d", i), "a", "w", now)
		s.SizeBytes = size
		sessions = append(sessions, s)
	}
	idx := testIndex(sessions...)

	got := run(t, idx, "--sort size")
	for i := 0; i+1 < len(got); i++ {
		if got[i].SizeBytes < got[i+1].SizeBytes {
			t.Fatalf("size sort not descending at %d: %d < %d", i, got[i].SizeBytes, got[i+1].SizeBytes)
		}
	}
}

func TestSearch_SortDurationUnknownLast(t *testing.T) {
	now := time.Now().UTC()
	long := session("long", "a", "w", now)
	long.SetDuration(90000)
	short := session("short", "a", "w", now)
	short.SetDuration(1000)
	unknown := session("unknown", "a", "w", now)
	unknown.FilePath = "/nonexistent/unknown.jsonl"

	idx := testIndex(long, short, unknown)
	got := run(t, idx, "--sort duration")

	want := []string{"long", "short", "unknown"}
	for i, id := range want {
		if got[i].SessionID != id {
			t.Fatalf("duration order = [%s %s %s], want %v", got[0].SessionID, got[1].SessionID, got[2].SessionID, want)
		}
	}
}

func TestEngine_Pagination(t *testing.T) {
	now := time.Now().UTC()
	var sessions []*index.Session
	for i := 0; i < 8; i++ {
		sessions = append(sessions, session(fmt.Sprintf("s%d", i), "a", "work item", now.Add(-time.Duration(i)*time.Minute)))
	}
	idx := testIndex(sessions...)

	q := Parse("work")
	matched := sortSessions(filterSessions(idx, q), q)
	if len(matched) != 8 {
		t.Fatalf("matched %d, want 8", len(matched))
	}

	// Page slicing is offset/limit over the stable ordering; total stays 8.
	page1 := matched[0:5]
	page2 := matched[5:]
	if len(page2) != 3 {
		t.Fatalf("second page has %d entries, want 3", len(page2))
	}
	for i, s := range page1 {
		if s.SessionID != fmt.Sprintf("s%d", i) {
			t.Errorf("page1[%d] = %s", i, s.SessionID)
		}
	}
}

func TestEngine_NotInitialised(t *testing.T) {
	var e *Engine
	if _, err := e.Search(Parse("x")); err != ErrNotInitialised {
		t.Errorf("nil engine error = %v, want ErrNotInitialised", err)
	}
	if _, err := NewEngine(nil).Search(Parse("x")); err != ErrNotInitialised {
		t.Errorf("nil indexer error = %v, want ErrNotInitialised", err)
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writeSessionFile(t, root, "-home-a", "s1", `{"type":"summary","summary":"Fix auth"}`)
	writeSessionFile(t, root, "-home-b", "s2", `{"type":"summary","summary":"OAuth flow"}`)
	writeSessionFile(t, root, "-home-b", "s3", `{"type":"user"}`)

	e := NewEngine(index.New(index.Options{Roots: []string{root}}))
	resp, err := e.Search(Parse("auth"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if resp.Results[0].Summary != "Fix auth" {
		t.Errorf("first result = %q", resp.Results[0].Summary)
	}
	if resp.Query != "auth" || resp.Sort != SortRecent {
		t.Errorf("echo fields wrong: %+v", resp)
	}
}

func TestEngine_LimitAndTotalIndependentOfOffset(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 7; i++ {
		writeSessionFile(t, root, "-home-a", fmt.Sprintf("s%d", i), `{"type":"summary","summary":"batch work"}`)
	}

	e := NewEngine(index.New(index.Options{Roots: []string{root}}))

	q := Parse("batch")
	q.Limit = 3
	first, err := e.Search(q)
	if err != nil {
		t.Fatal(err)
	}
	q.Offset = 6
	last, err := e.Search(q)
	if err != nil {
		t.Fatal(err)
	}

	if first.Total != 7 || last.Total != 7 {
		t.Errorf("totals = %d/%d, want 7/7", first.Total, last.Total)
	}
	if len(first.Results) != 3 {
		t.Errorf("first page = %d results, want 3", len(first.Results))
	}
	if len(last.Results) != 1 {
		t.Errorf("last page = %d results, want 1", len(last.Results))
	}
}

func writeSessionFile(t *testing.T, root, project, id, line string) {
	t.Helper()
	path := filepath.Join(root, project, id+index.SessionExt)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(line+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
}
