package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// indexFileName is the persisted index document inside the state directory.
const indexFileName = "search_index.json"

// saveIndex writes the index atomically: marshal to a sibling temp file,
// then rename onto the target. A crash mid-write leaves the previous
// document intact.
func saveIndex(idx *SessionIndex, stateDir string) error {
	if stateDir == "" {
		return fmt.Errorf("state directory not configured")
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	tmp := filepath.Join(stateDir, fmt.Sprintf(".index_%s.json.tmp", uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}

	target := filepath.Join(stateDir, indexFileName)
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename index: %w", err)
	}

	log.Debug().Str("path", target).Int("bytes", len(data)).Msg("index persisted")
	return nil
}

// loadIndex reads a previously persisted index. It returns nil when the file
// is absent, malformed, the wrong version, or older than maxAge; malformed
// files are removed so the next save starts clean.
func loadIndex(stateDir string, maxAge time.Duration) *SessionIndex {
	path := filepath.Join(stateDir, indexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("cannot read persisted index")
		}
		return nil
	}

	var idx SessionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("persisted index is corrupt, rebuilding")
		_ = os.Remove(path)
		return nil
	}
	if idx.Version != IndexVersion {
		log.Warn().Int("version", idx.Version).Msg("persisted index has unsupported version, rebuilding")
		return nil
	}
	if age := time.Since(idx.LastRefresh); age > maxAge {
		log.Info().Dur("age", age).Dur("max_age", maxAge).Msg("persisted index too old, rebuilding")
		return nil
	}

	if idx.Sessions == nil {
		idx.Sessions = make(map[string]*Session)
	}
	if idx.Projects == nil {
		idx.Projects = make(map[string]*Project)
	}
	if idx.FileMtimes == nil {
		idx.FileMtimes = make(map[string]float64)
	}
	return &idx
}
