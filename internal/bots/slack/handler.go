// Package slack implements the non-threaded chat surface: a /sessions slash
// command with an immediate acknowledgement, async result posting to the
// command's response URL, and interactive button actions.
//
// The surface has loose payload limits, so actions carry verbose ids:
// watch_<i>, preview_<i>, nav_next, nav_prev, nav_refresh, noop.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
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

	rateLimit      = 10 // per minute per user
	replayCount    = 5
	expiredMessage = "search expired — please re-run"

	// asyncTimeout bounds the background search-and-post task. The webhook
	// context is gone by the time the task runs.
	asyncTimeout = 30 * time.Second
)

// Command is one slash-command invocation.
type Command struct {
	UserID      string
	ChannelID   string
	Text        string
	ResponseURL string
}

// Ack is the synchronous reply to a slash command or action, returned within
// the surface's response deadline.
type Ack struct {
	ResponseType string `json:"response_type"` // "ephemeral" or "in_channel"
	Text         string `json:"text,omitempty"`
}

// Message is the payload posted to a response URL.
type Message struct {
	ResponseType    string   `json:"response_type"`
	ReplaceOriginal bool     `json:"replace_original,omitempty"`
	Text            string   `json:"text"`
	Actions         []Action `json:"actions,omitempty"`
}

// Action is one interactive button on a message.
type Action struct {
	ActionID string `json:"action_id"`
	Text     string `json:"text"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Handler processes slack slash commands and block actions.
type Handler struct {
	engine  *search.Engine
	states  *searchstate.Store
	limiter *ratelimit.Limiter
	manager *destinations.Manager
	preview ports.PreviewProvider
	tailer  ports.SessionTailer
	poster  ports.ResponsePoster

	wg sync.WaitGroup
}

// New creates a Handler with its own 10/min per-user limiter.
func New(engine *search.Engine, states *searchstate.Store, manager *destinations.Manager, preview ports.PreviewProvider, tailer ports.SessionTailer, poster ports.ResponsePoster) *Handler {
	return &Handler{
		engine:  engine,
		states:  states,
		limiter: ratelimit.New(rateLimit, time.Minute),
		manager: manager,
		preview: preview,
		tailer:  tailer,
		poster:  poster,
	}
}

// Wait blocks until all background posting tasks finish. Used on shutdown
// and by tests.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleSlashCommand returns the immediate acknowledgement; the search runs
// in the background and its result is posted to the command's response URL.
func (h *Handler) HandleSlashCommand(cmd Command) Ack {
	if allowed, retry := h.limiter.Check("slack:" + cmd.UserID); !allowed {
		return Ack{
			ResponseType: "ephemeral",
			Text:         fmt.Sprintf("too many searches — try again in %ds", retry),
		}
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		h.runSearch(ctx, cmd)
	}()

	return Ack{ResponseType: "ephemeral", Text: "searching…"}
}

// runSearch executes the command and posts the first page. Failures are
// posted back as ephemeral errors; posting failures are only logged.
func (h *Handler) runSearch(ctx context.Context, cmd Command) {
	q := search.Parse(cmd.Text)
	q.Limit = search.MaxResults
	resp, err := h.engine.Search(q)
	if err != nil {
		h.postEphemeral(ctx, cmd.ResponseURL, searchErrorText(err))
		return
	}

	state := &searchstate.State{
		Query:         resp.Query,
		Filters:       resp.Filters,
		Sort:          resp.Sort,
		Results:       resp.Results,
		MessageHandle: cmd.ResponseURL,
	}
	h.states.Save(cmd.ChannelID, state)

	msg := renderPage(state, false)
	if err := h.poster.Post(ctx, cmd.ResponseURL, msg); err != nil {
		log.Warn().Err(err).Str("channel", cmd.ChannelID).Msg("failed to post search results")
	}
}

// HandleAction dispatches one button action. responseURL is the action's own
// callback URL, used for in-place edits and ephemeral replies.
func (h *Handler) HandleAction(ctx context.Context, userID, channelID, responseURL, actionID string) error {
	switch {
	case actionID == "noop":
		return nil

	case strings.HasPrefix(actionID, "watch_"):
		return h.handleWatch(ctx, channelID, responseURL, actionID[len("watch_"):])

	case strings.HasPrefix(actionID, "preview_"):
		return h.handlePreview(ctx, channelID, responseURL, actionID[len("preview_"):])

	case actionID == "nav_next":
		return h.handleNav(ctx, channelID, responseURL, PageSize)

	case actionID == "nav_prev":
		return h.handleNav(ctx, channelID, responseURL, -PageSize)

	case actionID == "nav_refresh":
		return h.handleRefresh(ctx, channelID, responseURL)

	default:
		log.Debug().Str("action_id", actionID).Msg("unrecognised slack action")
		return nil
	}
}

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

func (h *Handler) handleWatch(ctx context.Context, channelID, responseURL, arg string) error {
	state, ok := h.states.Get(channelID)
	if !ok {
		h.postEphemeral(ctx, responseURL, expiredMessage)
		return nil
	}
	sess, ok := sessionAt(state, arg)
	if !ok {
		return nil
	}

	attached, err := h.manager.Attach(ctx, sess.SessionID, sess.FilePath, destinations.KindSlack, channelID)
	if err != nil {
		h.postEphemeral(ctx, responseURL, "could not attach: "+err.Error())
		return nil
	}

	if err := h.tailer.RequestReplay(ctx, sess.SessionID, string(destinations.KindSlack), channelID, replayCount); err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("replay request failed")
	}

	confirm := fmt.Sprintf("watching %s — %s", sess.SessionID, sessionTitle(sess))
	if !attached {
		confirm = fmt.Sprintf("already watching %s", sess.SessionID)
	}
	return h.poster.Post(ctx, responseURL, Message{ResponseType: "in_channel", Text: confirm})
}

func (h *Handler) handlePreview(ctx context.Context, channelID, responseURL, arg string) error {
	state, ok := h.states.Get(channelID)
	if !ok {
		h.postEphemeral(ctx, responseURL, expiredMessage)
		return nil
	}
	sess, ok := sessionAt(state, arg)
	if !ok {
		return nil
	}

	events, err := h.preview.Preview(ctx, sess, replayCount)
	if err != nil {
		h.postEphemeral(ctx, responseURL, "preview unavailable: "+err.Error())
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "preview of %s:\n", sessionTitle(sess))
	if len(events) == 0 {
		b.WriteString("(no events)")
	}
	for _, e := range events {
		fmt.Fprintf(&b, "[%s] %s\n", e.Type, e.Text)
	}
	h.postEphemeral(ctx, responseURL, b.String())
	return nil
}

func (h *Handler) handleNav(ctx context.Context, channelID, responseURL string, delta int) error {
	state, ok := h.states.Get(channelID)
	if !ok {
		h.postEphemeral(ctx, responseURL, expiredMessage)
		return nil
	}

	offset := state.CurrentOffset + delta
	if offset >= len(state.Results) {
		return nil // next on the last page
	}
	state, ok = h.states.UpdateOffset(channelID, offset)
	if !ok {
		h.postEphemeral(ctx, responseURL, expiredMessage)
		return nil
	}

	return h.poster.Post(ctx, responseURL, renderPage(state, true))
}

func (h *Handler) handleRefresh(ctx context.Context, channelID, responseURL string) error {
	state, ok := h.states.Get(channelID)
	if !ok {
		h.postEphemeral(ctx, responseURL, expiredMessage)
		return nil
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
		h.postEphemeral(ctx, responseURL, searchErrorText(err))
		return nil
	}

	fresh := &searchstate.State{
		Query:         resp.Query,
		Filters:       resp.Filters,
		Sort:          resp.Sort,
		Results:       resp.Results,
		MessageHandle: state.MessageHandle,
	}
	h.states.Save(channelID, fresh)

	return h.poster.Post(ctx, responseURL, renderPage(fresh, true))
}

func (h *Handler) postEphemeral(ctx context.Context, url, text string) {
	if err := h.poster.Post(ctx, url, Message{ResponseType: "ephemeral", Text: text}); err != nil {
		log.Warn().Err(err).Msg("failed to post ephemeral message")
	}
}

// renderPage builds the message for the state's current page. replace makes
// the surface swap the original message instead of posting a new one.
func renderPage(state *searchstate.State, replace bool) Message {
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
	if total == 0 {
		b.WriteString("no sessions matched")
	} else if state.Query == "" {
		fmt.Fprintf(&b, "sessions %d–%d of %d\n", start+1, end, total)
	} else {
		fmt.Fprintf(&b, "results %d–%d of %d for %q\n", start+1, end, total, state.Query)
	}
	for i, s := range page {
		fmt.Fprintf(&b, "%d. %s · %s · %s\n",
			i+1, sessionTitle(s), s.ProjectDisplayName, s.ModifiedAt.Format("2006-01-02"))
	}

	var actions []Action
	for i := range page {
		actions = append(actions,
			Action{ActionID: fmt.Sprintf("watch_%d", i), Text: fmt.Sprintf("▶ %d", i+1)},
			Action{ActionID: fmt.Sprintf("preview_%d", i), Text: fmt.Sprintf("👁 %d", i+1)},
		)
	}
	if total > PageSize {
		prev := Action{ActionID: "nav_prev", Text: "⟨ prev"}
		if start == 0 {
			prev = Action{ActionID: "noop", Text: "⟨ prev", Disabled: true}
		}
		next := Action{ActionID: "nav_next", Text: "next ⟩"}
		if end >= total {
			next = Action{ActionID: "noop", Text: "next ⟩", Disabled: true}
		}
		indicator := Action{
			ActionID: "noop",
			Text:     fmt.Sprintf("%d/%d", start/PageSize+1, (total+PageSize-1)/PageSize),
			Disabled: true,
		}
		actions = append(actions, prev, indicator, next)
	}
	if total > 0 {
		actions = append(actions, Action{ActionID: "nav_refresh", Text: "↻ refresh"})
	}

	return Message{
		ResponseType:    "in_channel",
		ReplaceOriginal: replace,
		Text:            b.String(),
		Actions:         actions,
	}
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
