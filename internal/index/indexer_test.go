package index

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sessionhub/sessionhub/internal/ratelimit"
)

// writeSession creates <root>/<project>/<id>.jsonl with the given lines.
func writeSession(t *testing.T, root, project, id string, lines ...string) string {
	t.Helper()
	path := filepath.Join(root, project, id+SessionExt)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	writeFile(t, path, content)
	return path
}

func TestIndexer_FullRefresh(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-home-a", "s1", `{"type":"summary","summary":"Fix auth"}`)
	writeSession(t, root, "-home-b", "s2", `{"type":"summary","summary":"OAuth flow"}`, `{"type":"user"}`)
	writeSession(t, root, "-home-b", "s3", `{"type":"user"}`)

	ix := New(Options{Roots: []string{root}})
	idx, err := ix.GetIndex()
	if err != nil {
		t.Fatalf("GetIndex() error = %v", err)
	}

	if len(idx.Sessions) != 3 {
		t.Fatalf("indexed %d sessions, want 3", len(idx.Sessions))
	}
	if len(idx.Projects) != 2 {
		t.Fatalf("indexed %d projects, want 2", len(idx.Projects))
	}

	s1 := idx.Sessions["s1"]
	if s1 == nil || s1.Summary != "Fix auth" {
		t.Fatalf("s1 = %+v", s1)
	}
	if s1.ProjectDisplayName != "a" {
		t.Errorf("s1 display name = %q, want %q", s1.ProjectDisplayName, "a")
	}
	if s1.LineCount != 1 {
		t.Errorf("s1 line count = %d, want 1", s1.LineCount)
	}
	if idx.Sessions["s3"].Summary != "" {
		t.Error("s3 should have no summary")
	}
	if idx.LastRefresh.IsZero() {
		t.Error("LastRefresh not set")
	}
}

func TestIndexer_ProjectInvariants(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-home-b", "s1", `{"type":"user","x":"abc"}`)
	writeSession(t, root, "-home-b", "s2", `{"type":"user"}`)

	ix := New(Options{Roots: []string{root}})
	idx, _ := ix.GetIndex()

	for _, p := range idx.Projects {
		var total int64
		var latest time.Time
		for _, id := range p.SessionIDs {
			s := idx.Sessions[id]
			if s == nil {
				t.Fatalf("project %s lists unknown session %s", p.EncodedName, id)
			}
			if s.ProjectEncoded != p.EncodedName {
				t.Errorf("session %s points at project %s", id, s.ProjectEncoded)
			}
			total += s.SizeBytes
			if s.ModifiedAt.After(latest) {
				latest = s.ModifiedAt
			}
		}
		if p.TotalSizeBytes != total {
			t.Errorf("project %s total size = %d, want %d", p.EncodedName, p.TotalSizeBytes, total)
		}
		if p.LatestModifiedAt == nil || !p.LatestModifiedAt.Equal(latest) {
			t.Errorf("project %s latest modified = %v, want %v", p.EncodedName, p.LatestModifiedAt, latest)
		}
	}
}

func TestIndexer_SubagentsSkippedByDefault(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-home-a", "main", `{"type":"user"}`)
	writeFile(t, filepath.Join(root, "-home-a", "main", "subagents", "agent1"+SessionExt), `{"type":"user"}`+"\n")

	ix := New(Options{Roots: []string{root}})
	idx, _ := ix.GetIndex()

	if len(idx.Sessions) != 1 {
		t.Fatalf("indexed %d sessions, want 1 (subagents skipped)", len(idx.Sessions))
	}
	if !idx.Sessions["main"].HasSubagents {
		t.Error("main session should report has_subagents")
	}
}

func TestIndexer_SubagentsIncluded(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-home-a", "main", `{"type":"user"}`)
	writeFile(t, filepath.Join(root, "-home-a", "main", "subagents", "agent1"+SessionExt), `{"type":"user"}`+"\n")

	ix := New(Options{Roots: []string{root}, IncludeSubagents: true})
	idx, _ := ix.GetIndex()

	if len(idx.Sessions) != 2 {
		t.Fatalf("indexed %d sessions, want 2", len(idx.Sessions))
	}
	if idx.Sessions["agent1"] == nil {
		t.Error("subagent session not indexed")
	}
}

func TestIndexer_IncrementalSkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	p1 := writeSession(t, root, "-home-a", "s1", `{"type":"user"}`)
	writeSession(t, root, "-home-a", "s2", `{"type":"user"}`)

	ix := New(Options{Roots: []string{root}})
	if _, err := ix.GetIndex(); err != nil {
		t.Fatal(err)
	}
	before := ix.metadataReads.Load()

	// No-op refresh: nothing changed, nothing may be read.
	if err := ix.Refresh(true); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := ix.metadataReads.Load() - before; got != 0 {
		t.Fatalf("no-op refresh performed %d metadata reads, want 0", got)
	}

	// Touch one file; exactly one read.
	newTime := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(p1, newTime, newTime); err != nil {
		t.Fatal(err)
	}
	before = ix.metadataReads.Load()
	if err := ix.Refresh(true); err != nil {
		t.Fatal(err)
	}
	if got := ix.metadataReads.Load() - before; got != 1 {
		t.Fatalf("refresh after one change performed %d metadata reads, want 1", got)
	}
}

func TestIndexer_IncrementalRemovesDeleted(t *testing.T) {
	root := t.TempDir()
	p1 := writeSession(t, root, "-home-a", "s1", `{"type":"user"}`)
	writeSession(t, root, "-home-a", "s2", `{"type":"user"}`)

	ix := New(Options{Roots: []string{root}})
	ix.mustIndex(t)

	if err := os.Remove(p1); err != nil {
		t.Fatal(err)
	}
	if err := ix.Refresh(true); err != nil {
		t.Fatal(err)
	}

	idx := ix.Snapshot()
	if _, ok := idx.Sessions["s1"]; ok {
		t.Error("deleted session still present")
	}
	if _, ok := idx.FileMtimes[p1]; ok {
		t.Error("deleted file still tracked in file_mtimes")
	}
	if len(idx.Projects["-home-a"].SessionIDs) != 1 {
		t.Errorf("project view not rebuilt: %+v", idx.Projects["-home-a"])
	}
}

// mustIndex is a test helper that fails fast on init errors.
func (ix *Indexer) mustIndex(t *testing.T) *SessionIndex {
	t.Helper()
	idx, err := ix.GetIndex()
	if err != nil {
		t.Fatalf("GetIndex() error = %v", err)
	}
	return idx
}

func TestIndexer_RefreshRateLimited(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-home-a", "s1", `{"type":"user"}`)

	ix := New(Options{Roots: []string{root}})
	ix.mustIndex(t)

	err := ix.Refresh(false)
	var rl *ratelimit.Error
	if !errors.As(err, &rl) {
		t.Fatalf("Refresh(false) error = %v, want ratelimit.Error", err)
	}
	if rl.RetryAfterSeconds < 1 || rl.RetryAfterSeconds > 60 {
		t.Errorf("retry after = %d, want within (0, 60]", rl.RetryAfterSeconds)
	}

	// Force bypasses the window.
	if err := ix.Refresh(true); err != nil {
		t.Fatalf("Refresh(true) error = %v", err)
	}
}

func TestIndexer_MissingRootIsNotAnError(t *testing.T) {
	ix := New(Options{Roots: []string{filepath.Join(t.TempDir(), "nope")}})
	idx := ix.mustIndex(t)
	if len(idx.Sessions) != 0 {
		t.Errorf("indexed %d sessions from a missing root", len(idx.Sessions))
	}
}

func TestIndexer_PersistAndReload(t *testing.T) {
	root := t.TempDir()
	state := t.TempDir()
	writeSession(t, root, "-home-a", "s1", `{"type":"summary","summary":"persisted"}`)

	ix := New(Options{Roots: []string{root}, StateDir: state, Persist: true})
	ix.mustIndex(t)

	data, err := os.ReadFile(filepath.Join(state, indexFileName))
	if err != nil {
		t.Fatalf("persisted index missing: %v", err)
	}
	var doc SessionIndex
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("persisted index malformed: %v", err)
	}
	if doc.Version != IndexVersion {
		t.Errorf("version = %d, want %d", doc.Version, IndexVersion)
	}
	if doc.Sessions["s1"] == nil || doc.Sessions["s1"].Summary != "persisted" {
		t.Fatalf("persisted sessions = %+v", doc.Sessions)
	}

	// A second indexer loads the document and refreshes incrementally
	// without re-reading unchanged files.
	ix2 := New(Options{Roots: []string{root}, StateDir: state, Persist: true})
	ix2.mustIndex(t)
	if got := ix2.metadataReads.Load(); got != 0 {
		t.Errorf("reload performed %d metadata reads, want 0", got)
	}
}

func TestIndexer_StalePersistedIndexDiscarded(t *testing.T) {
	root := t.TempDir()
	state := t.TempDir()
	writeSession(t, root, "-home-a", "s1", `{"type":"user"}`)

	stale := NewSessionIndex()
	stale.LastRefresh = time.Now().UTC().Add(-2 * time.Hour)
	if err := saveIndex(stale, state); err != nil {
		t.Fatal(err)
	}

	ix := New(Options{Roots: []string{root}, StateDir: state, Persist: true, MaxIndexAge: time.Hour})
	ix.mustIndex(t)

	// The stale document was ignored, so the file had to be read.
	if got := ix.metadataReads.Load(); got != 1 {
		t.Errorf("metadata reads = %d, want 1 (full rebuild)", got)
	}
}

func TestIndexer_CorruptPersistedIndexDiscarded(t *testing.T) {
	root := t.TempDir()
	state := t.TempDir()
	writeSession(t, root, "-home-a", "s1", `{"type":"user"}`)
	writeFile(t, filepath.Join(state, indexFileName), "{not json")

	ix := New(Options{Roots: []string{root}, StateDir: state, Persist: true})
	idx := ix.mustIndex(t)
	if len(idx.Sessions) != 1 {
		t.Errorf("rebuild indexed %d sessions, want 1", len(idx.Sessions))
	}
}

func TestIndexer_SessionIDCollisionLatterWins(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "-home-a", "dup", `{"type":"user"}`)
	writeSession(t, root, "-home-b", "dup", `{"type":"user"}`)

	ix := New(Options{Roots: []string{root}})
	idx := ix.mustIndex(t)
	if len(idx.Sessions) != 1 {
		t.Fatalf("indexed %d sessions, want 1 (collision overwrites)", len(idx.Sessions))
	}
}

func TestSessionIndex_JSONRoundTrip(t *testing.T) {
	idx := NewSessionIndex()
	mod := time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC)
	s1 := &Session{
		SessionID:          "s1",
		ProjectEncoded:     "-home-a",
		ProjectDisplayName: "a",
		FilePath:           "/roots/-home-a/s1.jsonl",
		Summary:            "round trip",
		CreatedAt:          mod,
		ModifiedAt:         mod,
		SizeBytes:          42,
		LineCount:          7,
		HasSubagents:       true,
	}
	s1.SetDuration(1234)
	idx.Sessions["s1"] = s1
	idx.FileMtimes["/roots/-home-a/s1.jsonl"] = 1767225600.25
	rebuildProjects(idx)
	idx.LastRefresh = mod

	data, err := json.Marshal(idx)
	if err != nil {
		t.Fatal(err)
	}
	var back SessionIndex
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}

	s := back.Sessions["s1"]
	if s == nil || s.Summary != "round trip" || s.LineCount != 7 || !s.HasSubagents {
		t.Fatalf("session round trip mismatch: %+v", s)
	}
	if ms, ok := s.Duration(); !ok || ms != 1234 {
		t.Errorf("duration round trip = (%d, %v), want (1234, true)", ms, ok)
	}
	if !s.ModifiedAt.Equal(mod) {
		t.Errorf("modified_at = %v, want %v", s.ModifiedAt, mod)
	}
	if back.FileMtimes["/roots/-home-a/s1.jsonl"] != 1767225600.25 {
		t.Errorf("file_mtimes round trip mismatch: %v", back.FileMtimes)
	}
	p := back.Projects["-home-a"]
	if p == nil || p.TotalSizeBytes != 42 || p.LatestModifiedAt == nil || !p.LatestModifiedAt.Equal(mod) {
		t.Fatalf("project round trip mismatch: %+v", p)
	}
}
