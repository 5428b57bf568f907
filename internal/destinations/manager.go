// Package destinations tracks which chat destinations are attached to which
// sessions, keeping runtime state and the persisted registry in step.
package destinations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sessionhub/sessionhub/internal/config"
	"github.com/sessionhub/sessionhub/internal/domain/ports"
)

// Kind identifies a destination surface.
type Kind string

const (
	KindSlack    Kind = "slack"
	KindTelegram Kind = "telegram"
)

// Valid reports whether the kind is a known surface.
func (k Kind) Valid() bool {
	return k == KindSlack || k == KindTelegram
}

// Destination is one attached chat destination.
type Destination struct {
	Kind       Kind      `json:"kind"`
	Identifier string    `json:"identifier"`
	AttachedAt time.Time `json:"attached_at"`
}

// Manager maps session ids to attached destinations. Runtime state is a
// view of the registry: after any mutation the registry reflects runtime.
// The session tailer is signalled on the first attach of a session.
type Manager struct {
	registry *config.Registry
	tailer   ports.SessionTailer

	mu       sync.Mutex
	attached map[string][]Destination
}

// New creates a Manager over the registry and tailer.
func New(registry *config.Registry, tailer ports.SessionTailer) *Manager {
	return &Manager{
		registry: registry,
		tailer:   tailer,
		attached: make(map[string][]Destination),
	}
}

// Attach registers a destination with a session, returning whether it was
// newly attached. Re-attaching the same (session, kind, identifier) is a
// no-op returning false. The first destination for a session requires a
// known path (argument or registry) and fires OnSessionStart exactly once;
// concurrent first attaches are serialised by the manager lock.
func (m *Manager) Attach(ctx context.Context, sessionID, path string, kind Kind, identifier string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("unknown destination kind %q", kind)
	}
	if sessionID == "" || identifier == "" {
		return false, fmt.Errorf("session id and identifier are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.attached[sessionID]
	for _, d := range existing {
		if d.Kind == kind && d.Identifier == identifier {
			return false, nil
		}
	}

	if len(existing) == 0 {
		if path == "" {
			if entry, ok := m.registry.Get(sessionID); ok {
				path = entry.Path
			}
		}
		if path == "" {
			return false, fmt.Errorf("session %s has no known file path", sessionID)
		}
		if err := m.tailer.OnSessionStart(ctx, sessionID, path); err != nil {
			return false, fmt.Errorf("start session tail: %w", err)
		}
	}

	m.attached[sessionID] = append(existing, Destination{
		Kind:       kind,
		Identifier: identifier,
		AttachedAt: time.Now().UTC(),
	})

	if err := m.registry.AddDestination(sessionID, path, string(kind), identifier); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist destination")
		return true, err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("kind", string(kind)).
		Str("identifier", identifier).
		Msg("destination attached")
	return true, nil
}

// Detach removes a destination, returning whether it was attached.
func (m *Manager) Detach(sessionID string, kind Kind, identifier string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("unknown destination kind %q", kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.attached[sessionID]
	kept := existing[:0]
	found := false
	for _, d := range existing {
		if d.Kind == kind && d.Identifier == identifier {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return false, nil
	}

	if len(kept) == 0 {
		delete(m.attached, sessionID)
	} else {
		m.attached[sessionID] = kept
	}

	if err := m.registry.RemoveDestination(sessionID, string(kind), identifier); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist destination removal")
		return true, err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("kind", string(kind)).
		Str("identifier", identifier).
		Msg("destination detached")
	return true, nil
}

// GetDestinations returns a snapshot of a session's destinations.
func (m *Manager) GetDestinations(sessionID string) []Destination {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Destination(nil), m.attached[sessionID]...)
}

// GetDestinationsByType returns a snapshot filtered to one kind.
func (m *Manager) GetDestinationsByType(sessionID string, kind Kind) []Destination {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Destination
	for _, d := range m.attached[sessionID] {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// HasDestinations reports whether the session has live attachments.
func (m *Manager) HasDestinations(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attached[sessionID]) > 0
}

// RestoreFromConfig rehydrates runtime state from the registry, starting the
// tail of every session that has at least one persisted destination. Called
// once at service startup.
func (m *Manager) RestoreFromConfig(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := 0
	for _, entry := range m.registry.Sessions() {
		var dests []Destination
		now := time.Now().UTC()
		for _, ch := range entry.SlackChannels {
			dests = append(dests, Destination{Kind: KindSlack, Identifier: ch, AttachedAt: now})
		}
		for _, chat := range entry.TelegramChats {
			dests = append(dests, Destination{Kind: KindTelegram, Identifier: chat, AttachedAt: now})
		}
		if len(dests) == 0 {
			continue
		}

		if err := m.tailer.OnSessionStart(ctx, entry.SessionID, entry.Path); err != nil {
			log.Warn().Err(err).Str("session_id", entry.SessionID).Msg("failed to restore session tail")
			continue
		}
		m.attached[entry.SessionID] = dests
		restored++
	}

	log.Info().Int("sessions", restored).Msg("destinations restored from config")
	return nil
}
