// Package ports defines the narrow interfaces sessionhub consumes from its
// external collaborators: the session tailer that delivers events, the
// preview provider, and the chat publishers.
package ports

import (
	"context"

	"github.com/sessionhub/sessionhub/internal/index"
)

// SessionTailer is the event-delivery collaborator. Implementations
// typically begin tailing the session file on start and replay recent
// events on request.
type SessionTailer interface {
	// OnSessionStart is invoked on the first destination attach for a
	// session and again for each persisted session on startup restore.
	OnSessionStart(ctx context.Context, sessionID, path string) error

	// RequestReplay asks for the most recent count events to be delivered
	// to one destination.
	RequestReplay(ctx context.Context, sessionID, kind, identifier string, count int) error
}

// PreviewEvent is one rendered event from the tail of a session.
type PreviewEvent struct {
	Type string `json:"type"` // "user", "assistant", or "tool_call"
	Text string `json:"text,omitempty"`
}

// PreviewProvider returns a short ordered list of recent events for a
// session.
type PreviewProvider interface {
	Preview(ctx context.Context, s *index.Session, limit int) ([]PreviewEvent, error)
}

// Button is one interactive control attached to a chat message.
type Button struct {
	Text string
	// Data is the callback payload. Surfaces with tight payload limits use
	// a compact grammar here.
	Data string
	// Disabled buttons are rendered but acknowledged with no action.
	Disabled bool
}

// MessagePublisher posts and edits messages on one chat surface.
type MessagePublisher interface {
	// SendMessage posts text with optional button rows to a channel (or
	// "chat[:thread]" for threaded surfaces) and returns an opaque handle
	// for later edits.
	SendMessage(ctx context.Context, channel, text string, buttons [][]Button) (handle string, err error)

	// UpdateMessage replaces a previously posted message in place.
	UpdateMessage(ctx context.Context, channel, handle, text string, buttons [][]Button) error
}

// ResponsePoster posts a payload to a callback URL. Used by surfaces with an
// immediate-response contract where results arrive after the acknowledgement.
type ResponsePoster interface {
	Post(ctx context.Context, url string, payload any) error
}
