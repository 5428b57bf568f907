package telegram

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// update is the subset of a Bot API update the webhook consumes.
type update struct {
	Message *struct {
		MessageThreadID int64 `json:"message_thread_id"`
		Chat            struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`

	CallbackQuery *struct {
		ID      string `json:"id"`
		Data    string `json:"data"`
		Message *struct {
			MessageThreadID int64 `json:"message_thread_id"`
			Chat            struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

// WebhookHandler serves Bot API webhook updates: /search commands and inline
// keyboard callbacks. Callback queries are acknowledged in the webhook
// response itself, saving the extra answerCallbackQuery round trip.
func (h *Handler) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}

		switch {
		case u.Message != nil:
			text, ok := commandTail(u.Message.Text)
			if !ok {
				break
			}
			chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
			threadID := ""
			if u.Message.MessageThreadID != 0 {
				threadID = strconv.FormatInt(u.Message.MessageThreadID, 10)
			}
			if err := h.HandleSearchCommand(r.Context(), chatID, threadID, text); err != nil {
				log.Warn().Err(err).Str("chat_id", chatID).Msg("search command failed")
			}

		case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
			chatID := strconv.FormatInt(u.CallbackQuery.Message.Chat.ID, 10)
			threadID := ""
			if u.CallbackQuery.Message.MessageThreadID != 0 {
				threadID = strconv.FormatInt(u.CallbackQuery.Message.MessageThreadID, 10)
			}
			if err := h.HandleCallback(r.Context(), chatID, threadID, u.CallbackQuery.Data); err != nil {
				log.Warn().Err(err).Str("chat_id", chatID).Msg("callback failed")
			}

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"method":            "answerCallbackQuery",
				"callback_query_id": u.CallbackQuery.ID,
			})
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// commandTail extracts the argument text of a /search command, accepting the
// /search@BotName form used in group chats.
func commandTail(text string) (string, bool) {
	if !strings.HasPrefix(text, "/search") {
		return "", false
	}
	rest := text[len("/search"):]
	if strings.HasPrefix(rest, "@") {
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			rest = rest[i:]
		} else {
			rest = ""
		}
	}
	if rest != "" && rest[0] != ' ' {
		return "", false // e.g. /searchfoo
	}
	return strings.TrimSpace(rest), true
}
