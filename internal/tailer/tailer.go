// Package tailer provides the default session-start collaborator: it records
// watched session paths and serves replay requests by rendering recent
// events to the requesting destination.
package tailer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sessionhub/sessionhub/internal/domain/ports"
	"github.com/sessionhub/sessionhub/internal/index"
)

// Replayer implements ports.SessionTailer. Live event streaming is the
// publishers' concern; the replayer only answers explicit replay requests
// from the session file.
type Replayer struct {
	preview ports.PreviewProvider

	mu         sync.Mutex
	paths      map[string]string // session id -> file path
	publishers map[string]ports.MessagePublisher
}

// New creates a Replayer over the preview provider.
func New(preview ports.PreviewProvider) *Replayer {
	return &Replayer{
		preview:    preview,
		paths:      make(map[string]string),
		publishers: make(map[string]ports.MessagePublisher),
	}
}

// RegisterPublisher binds a destination kind to its message publisher.
func (r *Replayer) RegisterPublisher(kind string, pub ports.MessagePublisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[kind] = pub
}

// OnSessionStart records the session's file path for later replays.
func (r *Replayer) OnSessionStart(_ context.Context, sessionID, path string) error {
	if sessionID == "" || path == "" {
		return fmt.Errorf("session id and path are required")
	}

	r.mu.Lock()
	r.paths[sessionID] = path
	r.mu.Unlock()

	log.Info().Str("session_id", sessionID).Str("path", path).Msg("session watch started")
	return nil
}

// RequestReplay renders the session's most recent count events to the
// destination identified by kind and identifier.
func (r *Replayer) RequestReplay(ctx context.Context, sessionID, kind, identifier string, count int) error {
	r.mu.Lock()
	path, ok := r.paths[sessionID]
	pub := r.publishers[kind]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s is not watched", sessionID)
	}
	if pub == nil {
		return fmt.Errorf("no publisher for destination kind %q", kind)
	}

	events, err := r.preview.Preview(ctx, &index.Session{SessionID: sessionID, FilePath: path}, count)
	if err != nil {
		return fmt.Errorf("replay read: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "replay of %s (last %d events):\n", sessionID, len(events))
	if len(events) == 0 {
		b.WriteString("(no events)")
	}
	for _, e := range events {
		fmt.Fprintf(&b, "[%s] %s\n", e.Type, e.Text)
	}

	if _, err := pub.SendMessage(ctx, identifier, b.String(), nil); err != nil {
		return fmt.Errorf("post replay: %w", err)
	}
	return nil
}
