// Package index discovers session log files, extracts their metadata, and
// maintains a searchable in-memory index with atomic on-disk persistence.
package index

import (
	"encoding/json"
	"sync"
	"time"
)

// IndexVersion is the persisted document version. Bump when the on-disk
// shape changes; older documents are discarded and rebuilt.
const IndexVersion = 1

// Session describes one conversation log file. Values are immutable between
// refreshes except for the lazily computed duration, which is guarded by its
// own lock. Session pointers are shared across index snapshots, so all reads
// of the duration cache, including JSON encoding, go through that lock.
type Session struct {
	SessionID          string
	ProjectEncoded     string
	ProjectDisplayName string
	FilePath           string
	Summary            string
	CreatedAt          time.Time
	ModifiedAt         time.Time
	SizeBytes          int64
	LineCount          int
	HasSubagents       bool

	// durationMS is filled on first Duration() call. A nil value after the
	// scan means the file had no turn-duration records (or was unreadable).
	durMu      sync.Mutex
	durationMS *int64
	durScanned bool
}

// Duration returns the summed turn duration in milliseconds, scanning the
// session file on first call and caching the result. The scanned flag keeps
// a legitimately zero sum from triggering repeated scans.
func (s *Session) Duration() (int64, bool) {
	s.durMu.Lock()
	defer s.durMu.Unlock()

	// A value rehydrated from the persisted index counts as cached.
	if !s.durScanned && s.durationMS == nil {
		s.durationMS = readDuration(s.FilePath)
	}
	s.durScanned = true
	if s.durationMS == nil {
		return 0, false
	}
	return *s.durationMS, true
}

// SetDuration seeds the duration cache, marking the file scanned.
func (s *Session) SetDuration(ms int64) {
	s.durMu.Lock()
	defer s.durMu.Unlock()
	s.durationMS = &ms
	s.durScanned = true
}

// sessionJSON is the wire and on-disk shape of Session.
type sessionJSON struct {
	SessionID          string    `json:"session_id"`
	ProjectEncoded     string    `json:"project_encoded"`
	ProjectDisplayName string    `json:"project_display_name"`
	FilePath           string    `json:"file_path"`
	Summary            string    `json:"summary,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	ModifiedAt         time.Time `json:"modified_at"`
	SizeBytes          int64     `json:"size_bytes"`
	LineCount          int       `json:"line_count"`
	HasSubagents       bool      `json:"has_subagents"`
	DurationMS         *int64    `json:"duration_ms,omitempty"`
}

// MarshalJSON reads the duration cache under its lock, so encoding a shared
// session is safe against a concurrent duration scan.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.durMu.Lock()
	dur := s.durationMS
	s.durMu.Unlock()

	return json.Marshal(sessionJSON{
		SessionID:          s.SessionID,
		ProjectEncoded:     s.ProjectEncoded,
		ProjectDisplayName: s.ProjectDisplayName,
		FilePath:           s.FilePath,
		Summary:            s.Summary,
		CreatedAt:          s.CreatedAt,
		ModifiedAt:         s.ModifiedAt,
		SizeBytes:          s.SizeBytes,
		LineCount:          s.LineCount,
		HasSubagents:       s.HasSubagents,
		DurationMS:         dur,
	})
}

// UnmarshalJSON rehydrates a session from the persisted index.
func (s *Session) UnmarshalJSON(data []byte) error {
	var j sessionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	s.SessionID = j.SessionID
	s.ProjectEncoded = j.ProjectEncoded
	s.ProjectDisplayName = j.ProjectDisplayName
	s.FilePath = j.FilePath
	s.Summary = j.Summary
	s.CreatedAt = j.CreatedAt
	s.ModifiedAt = j.ModifiedAt
	s.SizeBytes = j.SizeBytes
	s.LineCount = j.LineCount
	s.HasSubagents = j.HasSubagents

	s.durMu.Lock()
	s.durationMS = j.DurationMS
	s.durScanned = false
	s.durMu.Unlock()
	return nil
}

// Project is a derived view grouping the sessions of one working tree.
// It is rebuilt from scratch on every refresh.
type Project struct {
	EncodedName      string     `json:"encoded_name"`
	DecodedPath      string     `json:"decoded_path"`
	DisplayName      string     `json:"display_name"`
	SessionIDs       []string   `json:"session_ids"`
	TotalSizeBytes   int64      `json:"total_size_bytes"`
	LatestModifiedAt *time.Time `json:"latest_modified_at"`
}

// SessionIndex is the root index document, both the in-memory snapshot and
// the persisted JSON shape. Mutation happens only inside the Indexer under
// its refresh lock; readers receive the whole value via atomic swap.
type SessionIndex struct {
	Version           int                 `json:"version"`
	CreatedAt         time.Time           `json:"created_at"`
	LastRefresh       time.Time           `json:"last_refresh"`
	RefreshDurationMS int64               `json:"refresh_duration_ms"`
	Sessions          map[string]*Session `json:"sessions"`
	Projects          map[string]*Project `json:"projects"`

	// FileMtimes maps absolute file path to mtime in float seconds since
	// epoch. It is the sole record of which file versions have been seen.
	FileMtimes map[string]float64 `json:"file_mtimes"`
}

// NewSessionIndex returns an empty index stamped with the current time.
func NewSessionIndex() *SessionIndex {
	return &SessionIndex{
		Version:    IndexVersion,
		CreatedAt:  time.Now().UTC(),
		Sessions:   make(map[string]*Session),
		Projects:   make(map[string]*Project),
		FileMtimes: make(map[string]float64),
	}
}
