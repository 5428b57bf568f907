// Package telegram implements the threaded chat surface: /search commands in
// chats or forum topics, inline-keyboard callbacks, and in-place page edits.
//
// Callback payloads are limited to 64 bytes by the surface, so buttons carry
// a compact grammar: w:<i> (watch), p:<i> (preview), s:n / s:p / s:r
// (next, prev, refresh), noop, stop.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sessionhub/sessionhub/internal/destinations"
	"github.com/sessionhub/sessionhub/internal/domain/ports"
	"github.com/sessionhub/sessionhub/internal/index"
	"github.com/sessionhub/sessionhub/internal/ratelimit"
	"github.com/sessionhub/sessionhub/internal/search"
	"github.com/sessionhub/sessionhub/internal/searchstate"
)

const (
	// PageSize is how many results one message shows.
	PageSize = 5

	rateLimit         = 10 // per minute per chat key
	replayCount       = 5
	expiredMessage    = "search expired — please re-run"
	maxCallbackLength = 64
)

// Handler processes telegram commands and callbacks.
type Handler struct {
	engine  *search.Engine
	states  *searchstate.Store
	limiter *ratelimit.Limiter
	manager *destinations.Manager
	preview ports.PreviewProvider
	tailer  ports.SessionTailer
	pub     ports.MessagePublisher
}

// New creates a Handler with its own 10/min limiter.
func New(engine *search.Engine, states *searchstate.Store, manager *destinations.Manager, preview ports.PreviewProvider, tailer ports.SessionTailer, pub ports.MessagePublisher) *Handler {
	return &Handler{
		engine:  engine,
		states:  states,
		limiter: ratelimit.New(rateLimit, time.Minute),
		manager: manager,
		preview: preview,
		tailer:  tailer,
		pub:     pub,
	}
}

// HandleSearchCommand runs a /search command. threadID is empty outside forum
// topics. The results message is posted to the chat and its handle saved so
// navigation callbacks can edit it in place.
func (h *Handler) HandleSearchCommand(ctx context.Context, chatID, threadID, text string) error {
	chatKey := searchstate.ChatKey(chatID, threadID)

	if allowed, retry := h.limiter.Check("telegram:" + chatKey); !allowed {
		_, err := h.pub.SendMessage(ctx, chatKey,
			fmt.Sprintf("too many searches — try again in %ds", retry), nil)
		return err
	}

	q := search.Parse(text)
	q.Limit = search.MaxResults
	resp, err := h.engine.Search(q)
	if err != nil {
		_, serr := h.pub.SendMessage(ctx, chatKey, searchErrorText(err), nil)
		if serr != nil {
			return serr
		}
		return nil
	}

	state := &searchstate.State{
		Query:   resp.Query,
		Filters: resp.Filters,
		Sort:    resp.Sort,
		Results: resp.Results,
	}

	text, buttons := renderPage(state)
	handle, err := h.pub.SendMessage(ctx, chatKey, text, buttons)
	if err != nil {
		return fmt.Errorf("post results: %w", err)
	}
	state.MessageHandle = handle
	h.states.Save(chatKey, state)

	log.Debug().
		Str("chat_key", chatKey).
		Str("query", state.Query).
		Int("results", len(state.Results)).
		Msg("telegram search posted")
	return nil
}

// HandleCallback dispatches one inline-keyboard callback.
func (h *Handler) HandleCallback(ctx context.Context, chatID, threadID, data string) error {
	chatKey := searchstate.ChatKey(chatID, threadID)

	switch {
	case data == "noop" || data == "stop":
		return nil

	case strings.HasPrefix(data, "w:"):
		return h.handleWatch(ctx, chatKey, data[len("w:"):])

	case strings.HasPrefix(data, "p:"):
		return h.handlePreview(ctx, chatKey, data[len("p:"):])

	case data == "s:n":
		return h.handleNav(ctx, chatKey, PageSize)

	case data == "s:p":
		return h.handleNav(ctx, chatKey, -PageSize)

	case data == "s:r":
		return h.handleRefresh(ctx, chatKey)

	default:
		log.Debug().Str("data", data).Msg("unrecognised telegram callback")
		return nil
	}
}

// sessionAt resolves a page-relative index against the current state.
func sessionAt(state *searchstate.State, arg string) (*index.Session, bool) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 0 || i >= PageSize {
		return nil, false
	}
	abs := state.CurrentOffset + i
	if abs >= len(state.Results) {
		return nil, false
	}
	return state.Results[abs], true
}

func (h *Handler) handleWatch(ctx context.Context, chatKey, arg string) error {
	state, ok := h.states.Get(chatKey)
	if !ok {
		_, err := h.pub.SendMessage(ctx, chatKey, expiredMessage, nil)
		return err
	}
	sess, ok := sessionAt(state, arg)
	if !ok {
		return nil
	}

	attached, err := h.manager.Attach(ctx, sess.SessionID, sess.FilePath, destinations.KindTelegram, chatKey)
	if err != nil {
		_, serr := h.pub.SendMessage(ctx, chatKey, "could not attach: "+err.Error(), nil)
		return serr
	}

	if err := h.tailer.RequestReplay(ctx, sess.SessionID, string(destinations.KindTelegram), chatKey, replayCount); err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("replay request failed")
	}

	confirm := fmt.Sprintf("watching %s — %s", sess.SessionID, sessionTitle(sess))
	if !attached {
		confirm = fmt.Sprintf("already watching %s", sess.SessionID)
	}
	_, err = h.pub.SendMessage(ctx, chatKey, confirm, nil)
	return err
}

func (h *Handler) handlePreview(ctx context.Context, chatKey, arg string) error {
	state, ok := h.states.Get(chatKey)
	if !ok {
		_, err := h.pub.SendMessage(ctx, chatKey, expiredMessage, nil)
		return err
	}
	sess, ok := sessionAt(state, arg)
	if !ok {
		return nil
	}

	events, err := h.preview.Preview(ctx, sess, replayCount)
	if err != nil {
		_, serr := h.pub.SendMessage(ctx, chatKey, "preview unavailable: "+err.Error(), nil)
		return serr
	}

	var b strings.Builder
	fmt.Fprintf(&b, "preview of %s:\n", sessionTitle(sess))
	if len(events) == 0 {
		b.WriteString("(no events)")
	}
	for _, e := range events {
		fmt.Fprintf(&b, "[%s] %s\n", e.Type, e.Text)
	}
	_, err = h.pub.SendMessage(ctx, chatKey, b.String(), nil)
	return err
}

func (h *Handler) handleNav(ctx context.Context, chatKey string, delta int) error {
	state, ok := h.states.Get(chatKey)
	if !ok {
		_, err := h.pub.SendMessage(ctx, chatKey, expiredMessage, nil)
		return err
	}

	offset := state.CurrentOffset + delta
	if offset >= len(state.Results) {
		return nil // next on the last page
	}
	state, ok = h.states.UpdateOffset(chatKey, offset)
	if !ok {
		_, err := h.pub.SendMessage(ctx, chatKey, expiredMessage, nil)
		return err
	}

	text, buttons := renderPage(state)
	return h.pub.UpdateMessage(ctx, chatKey, state.MessageHandle, text, buttons)
}

// handleRefresh re-runs the saved query against the current index and resets
// pagination.
func (h *Handler) handleRefresh(ctx context.Context, chatKey string) error {
	state, ok := h.states.Get(chatKey)
	if !ok {
		_, err := h.pub.SendMessage(ctx, chatKey, expiredMessage, nil)
		return err
	}

	q := search.Query{
		Query:   state.Query,
		Terms:   strings.Fields(state.Query),
		Filters: state.Filters,
		Sort:    state.Sort,
		Limit:   search.MaxResults,
	}
	resp, err := h.engine.Search(q)
	if err != nil {
		_, serr := h.pub.SendMessage(ctx, chatKey, searchErrorText(err), nil)
		return serr
	}

	fresh := &searchstate.State{
		Query:         resp.Query,
		Filters:       resp.Filters,
		Sort:          resp.Sort,
		Results:       resp.Results,
		MessageHandle: state.MessageHandle,
	}
	h.states.Save(chatKey, fresh)

	text, buttons := renderPage(fresh)
	return h.pub.UpdateMessage(ctx, chatKey, fresh.MessageHandle, text, buttons)
}

// renderPage builds the message text and inline keyboard for the state's
// current page.
func renderPage(state *searchstate.State) (string, [][]ports.Button) {
	total := len(state.Results)
	start := state.CurrentOffset
	if start > total {
		start = total
	}
	end := start + PageSize
	if end > total {
		end = total
	}
	page := state.Results[start:end]

	var b strings.Builder
	if state.Query == "" {
		fmt.Fprintf(&b, "sessions %d–%d of %d\n", start+1, end, total)
	} else {
		fmt.Fprintf(&b, "results %d–%d of %d for %q\n", start+1, end, total, state.Query)
	}
	if total == 0 {
		b.Reset()
		b.WriteString("no sessions matched")
	}
	for i, s := range page {
		fmt.Fprintf(&b, "%d. %s · %s · %s\n",
			i+1, sessionTitle(s), s.ProjectDisplayName, s.ModifiedAt.Format("2006-01-02"))
	}

	var buttons [][]ports.Button
	var watchRow, previewRow []ports.Button
	for i := range page {
		watchRow = append(watchRow, ports.Button{
			Text: fmt.Sprintf("▶ %d", i+1),
			Data: fmt.Sprintf("w:%d", i),
		})
		previewRow = append(previewRow, ports.Button{
			Text: fmt.Sprintf("👁 %d", i+1),
			Data: fmt.Sprintf("p:%d", i),
		})
	}
	if len(watchRow) > 0 {
		buttons = append(buttons, watchRow, previewRow)
	}

	if total > PageSize {
		prev := ports.Button{Text: "⟨ prev", Data: "s:p"}
		if start == 0 {
			prev = ports.Button{Text: "⟨ prev", Data: "noop", Disabled: true}
		}
		next := ports.Button{Text: "next ⟩", Data: "s:n"}
		if end >= total {
			next = ports.Button{Text: "next ⟩", Data: "noop", Disabled: true}
		}
		indicator := ports.Button{
			Text:     fmt.Sprintf("%d/%d", start/PageSize+1, (total+PageSize-1)/PageSize),
			Data:     "noop",
			Disabled: true,
		}
		buttons = append(buttons, []ports.Button{prev, indicator, next})
	}
	if total > 0 {
		buttons = append(buttons, []ports.Button{
			{Text: "↻ refresh", Data: "s:r"},
			{Text: "✕ close", Data: "stop"},
		})
	}
	return b.String(), buttons
}

func sessionTitle(s *index.Session) string {
	if s.Summary != "" {
		return s.Summary
	}
	return s.SessionID
}

func searchErrorText(err error) string {
	var rl *ratelimit.Error
	if errors.As(err, &rl) {
		return fmt.Sprintf("index is refreshing — try again in %ds", rl.RetryAfterSeconds)
	}
	return "search failed: " + err.Error()
}
