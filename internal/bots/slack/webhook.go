package slack

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// SlashCommandHandler serves the slash-command webhook. The acknowledgement
// is written within the surface's response deadline; results arrive later on
// the command's response URL.
func (h *Handler) SlashCommandHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		ack := h.HandleSlashCommand(Command{
			UserID:      r.PostFormValue("user_id"),
			ChannelID:   r.PostFormValue("channel_id"),
			Text:        r.PostFormValue("text"),
			ResponseURL: r.PostFormValue("response_url"),
		})

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ack); err != nil {
			log.Error().Err(err).Msg("failed to encode ack")
		}
	}
}

// actionPayload is the subset of an interactivity payload the handler needs.
type actionPayload struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	ResponseURL string `json:"response_url"`
	Actions     []struct {
		ActionID string `json:"action_id"`
	} `json:"actions"`
}

// ActionsHandler serves the interactivity webhook. Payloads arrive as a
// form-encoded "payload" field holding JSON.
func (h *Handler) ActionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		var p actionPayload
		if err := json.Unmarshal([]byte(r.PostFormValue("payload")), &p); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		if len(p.Actions) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}

		if err := h.HandleAction(r.Context(), p.User.ID, p.Channel.ID, p.ResponseURL, p.Actions[0].ActionID); err != nil {
			log.Warn().Err(err).Str("action_id", p.Actions[0].ActionID).Msg("action failed")
		}
		w.WriteHeader(http.StatusOK)
	}
}
