// Package preview renders the tail of a session log as a short list of
// human-readable events.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sessionhub/sessionhub/internal/domain/ports"
	"github.com/sessionhub/sessionhub/internal/index"
	"github.com/sessionhub/sessionhub/internal/jsonl"
)

const (
	// maxLineBytes matches the indexer's cap; oversized records are skipped.
	maxLineBytes = 10 * 1024 * 1024

	// maxTextLen truncates event text for chat and API rendering.
	maxTextLen = 200
)

// FileProvider reads preview events straight from the session file. It
// implements ports.PreviewProvider.
type FileProvider struct{}

// NewFileProvider returns a provider reading session files on demand.
func NewFileProvider() *FileProvider {
	return &FileProvider{}
}

// record is the subset of a session line the preview cares about.
type record struct {
	Type    string `json:"type"`
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentBlock is one element of an array-valued message content.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// Preview returns up to limit events from the end of the session file, in
// file order. Records that are not user or assistant turns are ignored.
func (p *FileProvider) Preview(ctx context.Context, s *index.Session, limit int) ([]ports.PreviewEvent, error) {
	if s == nil {
		return nil, fmt.Errorf("nil session")
	}
	if limit <= 0 {
		limit = 5
	}

	f, err := os.Open(s.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var events []ports.PreviewEvent
	r := jsonl.NewReader(f, maxLineBytes)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.Next()
		if err != nil {
			break
		}
		if line.TooLong || len(line.Data) == 0 {
			continue
		}
		events = append(events, parseEvents(line.Data)...)
	}

	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// parseEvents extracts zero or more preview events from one session record.
// A single assistant record can carry both text and tool-call blocks.
func parseEvents(data []byte) []ports.PreviewEvent {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	if rec.Type != "user" && rec.Type != "assistant" {
		return nil
	}

	// String-valued content is a plain turn.
	var text string
	if err := json.Unmarshal(rec.Message.Content, &text); err == nil {
		if text = strings.TrimSpace(text); text == "" {
			return nil
		}
		return []ports.PreviewEvent{{Type: rec.Type, Text: truncate(text)}}
	}

	var blocks []contentBlock
	if err := json.Unmarshal(rec.Message.Content, &blocks); err != nil {
		return nil
	}

	var events []ports.PreviewEvent
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				events = append(events, ports.PreviewEvent{Type: rec.Type, Text: truncate(t)})
			}
		case "tool_use":
			events = append(events, ports.PreviewEvent{Type: "tool_call", Text: b.Name})
		}
	}
	return events
}

func truncate(s string) string {
	if len(s) <= maxTextLen {
		return s
	}
	cut := s[:maxTextLen]
	// Do not split a multi-byte rune.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}
