package index

import (
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sessionhub/sessionhub/internal/pathutil"
	"github.com/sessionhub/sessionhub/internal/ratelimit"
)

// SessionExt is the file extension of session logs.
const SessionExt = ".jsonl"

// subagentsDir is the path component marking subagent session files.
const subagentsDir = "subagents"

// Options configures an Indexer.
type Options struct {
	// Roots are directories whose immediate subdirectories are encoded
	// project names.
	Roots []string

	// IncludeSubagents indexes files under subagents/ directories too.
	IncludeSubagents bool

	// StateDir receives the persisted index when Persist is set.
	StateDir string
	Persist  bool

	// MaxIndexAge bounds how stale a persisted index may be and still be
	// loaded at startup. Zero means one hour.
	MaxIndexAge time.Duration

	// MinRefreshInterval is the non-forced refresh window. Zero means 60s.
	MinRefreshInterval time.Duration
}

// Indexer builds and maintains the SessionIndex. Refreshes are serialised by
// an exclusion lock; readers get the current snapshot via atomic pointer
// swap and never block on a refresh.
type Indexer struct {
	opts Options

	mu          sync.Mutex
	lastRequest time.Time

	current atomic.Pointer[SessionIndex]

	// metadataReads counts full metadata scans, used to verify that a no-op
	// incremental refresh touches no files.
	metadataReads atomic.Int64
}

// New creates an Indexer. The index is not built until GetIndex or Refresh.
func New(opts Options) *Indexer {
	if opts.MaxIndexAge <= 0 {
		opts.MaxIndexAge = time.Hour
	}
	if opts.MinRefreshInterval <= 0 {
		opts.MinRefreshInterval = 60 * time.Second
	}
	return &Indexer{opts: opts}
}

// GetIndex returns the current index, initialising it on first call: a
// fresh-enough persisted index is loaded and incrementally refreshed,
// otherwise a full refresh runs.
func (ix *Indexer) GetIndex() (*SessionIndex, error) {
	if idx := ix.current.Load(); idx != nil {
		return idx, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Another caller may have initialised while we waited.
	if idx := ix.current.Load(); idx != nil {
		return idx, nil
	}

	if ix.opts.Persist {
		if loaded := loadIndex(ix.opts.StateDir, ix.opts.MaxIndexAge); loaded != nil {
			ix.current.Store(loaded)
			log.Info().
				Int("sessions", len(loaded.Sessions)).
				Time("last_refresh", loaded.LastRefresh).
				Msg("loaded persisted index")
		}
	}

	ix.lastRequest = time.Now()
	ix.refreshLocked()
	return ix.current.Load(), nil
}

// Refresh rebuilds the index. With force unset it fails with a
// ratelimit.Error when called within MinRefreshInterval of the previous
// refresh request, successful or not.
func (ix *Indexer) Refresh(force bool) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	now := time.Now()
	if !force && !ix.lastRequest.IsZero() {
		if elapsed := now.Sub(ix.lastRequest); elapsed < ix.opts.MinRefreshInterval {
			retry := int(math.Ceil((ix.opts.MinRefreshInterval - elapsed).Seconds()))
			if retry < 1 {
				retry = 1
			}
			return &ratelimit.Error{RetryAfterSeconds: retry}
		}
	}
	ix.lastRequest = now

	ix.refreshLocked()
	return nil
}

// Snapshot returns the current index without initialising, or nil.
func (ix *Indexer) Snapshot() *SessionIndex {
	return ix.current.Load()
}

// GetSession looks up a session in the current snapshot.
func (ix *Indexer) GetSession(id string) (*Session, bool) {
	idx := ix.current.Load()
	if idx == nil {
		return nil, false
	}
	s, ok := idx.Sessions[id]
	return s, ok
}

// GetProject looks up a project in the current snapshot.
func (ix *Indexer) GetProject(encoded string) (*Project, bool) {
	idx := ix.current.Load()
	if idx == nil {
		return nil, false
	}
	p, ok := idx.Projects[encoded]
	return p, ok
}

// discoveredFile is one session log found under a root.
type discoveredFile struct {
	path           string
	projectEncoded string
	sessionID      string
}

// refreshLocked rebuilds the index against the previous snapshot (nil for a
// first/full build) and swaps it in. Caller holds ix.mu. A refresh always
// completes; per-file errors are logged and skipped.
func (ix *Indexer) refreshLocked() {
	start := time.Now()
	prev := ix.current.Load()

	discovered := ix.discover()

	next := NewSessionIndex()
	if prev != nil {
		next.CreatedAt = prev.CreatedAt
	}

	reused, read := 0, 0
	for _, d := range discovered {
		st, err := os.Stat(d.path)
		if err != nil {
			log.Warn().Err(err).Str("path", d.path).Msg("stat failed, skipping session file")
			continue
		}
		mtime := float64(st.ModTime().UnixNano()) / 1e9

		// Unchanged files keep their previous entry without any reads.
		if prev != nil {
			if cached, ok := prev.FileMtimes[d.path]; ok && cached == mtime {
				if s, ok := prev.Sessions[d.sessionID]; ok {
					ix.storeSession(next, s, d.path, mtime)
					reused++
					continue
				}
			}
		}

		read++
		ix.metadataReads.Add(1)
		summary, lines := ReadMetadata(d.path)

		modified := st.ModTime().UTC()
		s := &Session{
			SessionID:          d.sessionID,
			ProjectEncoded:     d.projectEncoded,
			ProjectDisplayName: pathutil.DisplayName(d.projectEncoded),
			FilePath:           d.path,
			Summary:            summary,
			CreatedAt:          fileCreatedAt(st),
			ModifiedAt:         modified,
			SizeBytes:          st.Size(),
			LineCount:          lines,
			HasSubagents:       hasSubagentsDir(d.path),
		}
		ix.storeSession(next, s, d.path, mtime)
	}

	rebuildProjects(next)

	next.LastRefresh = time.Now().UTC()
	next.RefreshDurationMS = time.Since(start).Milliseconds()
	ix.current.Store(next)

	log.Info().
		Int("sessions", len(next.Sessions)).
		Int("projects", len(next.Projects)).
		Int("reused", reused).
		Int("read", read).
		Int64("elapsed_ms", next.RefreshDurationMS).
		Msg("index refresh complete")

	if ix.opts.Persist {
		if err := saveIndex(next, ix.opts.StateDir); err != nil {
			log.Warn().Err(err).Msg("failed to persist index")
		}
	}
}

// storeSession inserts a session, logging id collisions (the latter entry
// wins, per the index contract).
func (ix *Indexer) storeSession(idx *SessionIndex, s *Session, path string, mtime float64) {
	if existing, ok := idx.Sessions[s.SessionID]; ok {
		log.Error().
			Str("session_id", s.SessionID).
			Str("kept", s.FilePath).
			Str("overwritten", existing.FilePath).
			Msg("session id collision in index")
	}
	idx.Sessions[s.SessionID] = s
	idx.FileMtimes[path] = mtime
}

// discover walks the configured roots and returns every candidate session
// file. Missing roots are a debug note; non-directories a warning.
func (ix *Indexer) discover() []discoveredFile {
	var found []discoveredFile

	for _, root := range ix.opts.Roots {
		st, err := os.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				log.Debug().Str("root", root).Msg("session root does not exist")
			} else {
				log.Warn().Err(err).Str("root", root).Msg("cannot stat session root")
			}
			continue
		}
		if !st.IsDir() {
			log.Warn().Str("root", root).Msg("session root is not a directory")
			continue
		}

		entries, err := os.ReadDir(root)
		if err != nil {
			log.Warn().Err(err).Str("root", root).Msg("cannot read session root")
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			encoded := entry.Name()
			if pathutil.LooksAmbiguous(encoded) {
				log.Debug().Str("project", encoded).Msg("project name may use legacy unescaped encoding")
			}
			found = append(found, ix.discoverProject(filepath.Join(root, encoded), encoded)...)
		}
	}

	return found
}

// discoverProject recursively collects session files under one project dir.
func (ix *Indexer) discoverProject(dir, encoded string) []discoveredFile {
	var found []discoveredFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("walk error in project directory")
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), SessionExt) {
			return nil
		}
		if isSubagentPath(path) && !ix.opts.IncludeSubagents {
			return nil
		}
		found = append(found, discoveredFile{
			path:           path,
			projectEncoded: encoded,
			sessionID:      strings.TrimSuffix(d.Name(), SessionExt),
		})
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to walk project directory")
	}

	return found
}

// isSubagentPath reports whether any path component equals "subagents".
func isSubagentPath(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == subagentsDir {
			return true
		}
	}
	return false
}

// hasSubagentsDir checks for <dir>/<stem>/subagents next to a main session.
func hasSubagentsDir(sessionPath string) bool {
	stem := strings.TrimSuffix(filepath.Base(sessionPath), SessionExt)
	st, err := os.Stat(filepath.Join(filepath.Dir(sessionPath), stem, subagentsDir))
	return err == nil && st.IsDir()
}

// fileCreatedAt prefers filesystem birth time where the platform exposes
// one; os.FileInfo carries none portably, so mtime is the fallback.
func fileCreatedAt(st os.FileInfo) time.Time {
	return st.ModTime().UTC()
}

// rebuildProjects derives the project view from the session set. Always a
// full rebuild; the aggregate invariants are simpler than a delta.
func rebuildProjects(idx *SessionIndex) {
	idx.Projects = make(map[string]*Project)

	for _, s := range idx.Sessions {
		p, ok := idx.Projects[s.ProjectEncoded]
		if !ok {
			p = &Project{
				EncodedName: s.ProjectEncoded,
				DecodedPath: pathutil.Decode(s.ProjectEncoded),
				DisplayName: pathutil.DisplayName(s.ProjectEncoded),
			}
			idx.Projects[s.ProjectEncoded] = p
		}
		p.SessionIDs = append(p.SessionIDs, s.SessionID)
		p.TotalSizeBytes += s.SizeBytes
		if p.LatestModifiedAt == nil || s.ModifiedAt.After(*p.LatestModifiedAt) {
			t := s.ModifiedAt
			p.LatestModifiedAt = &t
		}
	}
}

// Age returns the time since the last refresh, or an error when the index
// has not been built yet.
func (ix *Indexer) Age() (time.Duration, error) {
	idx := ix.current.Load()
	if idx == nil {
		return 0, fmt.Errorf("index not initialised")
	}
	return time.Since(idx.LastRefresh), nil
}
