package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// registryFileName is the persisted destinations document inside the state
// directory.
const registryFileName = "sessions.yaml"

// SessionEntry is the persisted destination configuration for one session.
// The two identifier lists are per destination kind.
type SessionEntry struct {
	SessionID     string   `yaml:"session_id"`
	Path          string   `yaml:"path"`
	SlackChannels []string `yaml:"slack_channels,omitempty"`
	TelegramChats []string `yaml:"telegram_chats,omitempty"`
}

// registryDoc is the on-disk shape of sessions.yaml.
type registryDoc struct {
	Sessions []SessionEntry    `yaml:"sessions"`
	Bots     map[string]string `yaml:"bots,omitempty"`
}

// Registry persists chat destinations per session. It is the durable side of
// the destination manager: after any mutation the file reflects runtime
// state, so a restart can rehydrate attachments.
type Registry struct {
	path string

	mu       sync.Mutex
	sessions map[string]*SessionEntry
	bots     map[string]string
}

// NewRegistry creates a Registry stored under stateDir.
func NewRegistry(stateDir string) *Registry {
	return &Registry{
		path:     filepath.Join(stateDir, registryFileName),
		sessions: make(map[string]*SessionEntry),
		bots:     make(map[string]string),
	}
}

// Load reads the registry file. A missing file is an empty registry.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read registry: %w", err)
	}

	var doc registryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}

	r.sessions = make(map[string]*SessionEntry, len(doc.Sessions))
	for i := range doc.Sessions {
		entry := doc.Sessions[i]
		r.sessions[entry.SessionID] = &entry
	}
	r.bots = doc.Bots
	if r.bots == nil {
		r.bots = make(map[string]string)
	}
	return nil
}

// Sessions returns a snapshot of every persisted entry.
func (r *Registry) Sessions() []SessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, copyEntry(e))
	}
	return out
}

// Get returns the entry for a session id.
func (r *Registry) Get(sessionID string) (SessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return SessionEntry{}, false
	}
	return copyEntry(e), true
}

// AddDestination records an identifier under the given kind ("slack" or
// "telegram") for a session and persists. Duplicate identifiers are kept
// out; path is stored when non-empty.
func (r *Registry) AddDestination(sessionID, path, kind, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		e = &SessionEntry{SessionID: sessionID}
		r.sessions[sessionID] = e
	}
	if path != "" {
		e.Path = path
	}

	list, err := e.listFor(kind)
	if err != nil {
		return err
	}
	for _, existing := range *list {
		if existing == identifier {
			return r.saveLocked()
		}
	}
	*list = append(*list, identifier)
	return r.saveLocked()
}

// RemoveDestination removes an identifier and persists. Entries left with no
// destinations are dropped entirely.
func (r *Registry) RemoveDestination(sessionID, kind, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}

	list, err := e.listFor(kind)
	if err != nil {
		return err
	}
	kept := (*list)[:0]
	for _, existing := range *list {
		if existing != identifier {
			kept = append(kept, existing)
		}
	}
	*list = kept
	if len(kept) == 0 {
		*list = nil
	}

	if len(e.SlackChannels) == 0 && len(e.TelegramChats) == 0 {
		delete(r.sessions, sessionID)
	}
	return r.saveLocked()
}

// SetBotConfig stores an opaque bot setting (token) for a destination kind.
func (r *Registry) SetBotConfig(kind, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[kind] = token
	return r.saveLocked()
}

// BotConfig returns the stored bot setting for a kind.
func (r *Registry) BotConfig(kind string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bots[kind]
}

// saveLocked writes the registry atomically. Caller holds r.mu.
func (r *Registry) saveLocked() error {
	doc := registryDoc{Bots: r.bots}
	for _, e := range r.sessions {
		doc.Sessions = append(doc.Sessions, copyEntry(e))
	}
	sort.Slice(doc.Sessions, func(i, j int) bool {
		return doc.Sessions[i].SessionID < doc.Sessions[j].SessionID
	})

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(r.path), fmt.Sprintf(".sessions_%s.yaml.tmp", uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write registry temp: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename registry: %w", err)
	}
	return nil
}

func (e *SessionEntry) listFor(kind string) (*[]string, error) {
	switch kind {
	case "slack":
		return &e.SlackChannels, nil
	case "telegram":
		return &e.TelegramChats, nil
	default:
		return nil, fmt.Errorf("unknown destination kind %q", kind)
	}
}

func copyEntry(e *SessionEntry) SessionEntry {
	out := *e
	out.SlackChannels = append([]string(nil), e.SlackChannels...)
	out.TelegramChats = append([]string(nil), e.TelegramChats...)
	return out
}
