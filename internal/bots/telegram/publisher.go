package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sessionhub/sessionhub/internal/domain/ports"
	"github.com/sessionhub/sessionhub/internal/searchstate"
)

// DefaultAPIBase is the production Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// Publisher posts and edits messages through the Bot API. It implements
// ports.MessagePublisher; channels are "chat[:thread]" keys.
type Publisher struct {
	token   string
	apiBase string
	client  *http.Client
}

// NewPublisher creates a Publisher for the bot token. apiBase of "" means
// DefaultAPIBase.
func NewPublisher(token, apiBase string) *Publisher {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Publisher{
		token:   token,
		apiBase: apiBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// inlineButton is one Bot API inline keyboard button.
type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendMessage posts to the chat (and topic, when the key carries one) and
// returns the message id as the edit handle.
func (p *Publisher) SendMessage(ctx context.Context, channel, text string, buttons [][]ports.Button) (string, error) {
	chatID, threadID := searchstate.SplitChatKey(channel)

	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if threadID != "" {
		body["message_thread_id"] = threadID
	}
	if markup := toMarkup(buttons); markup != nil {
		body["reply_markup"] = markup
	}

	resp, err := p.call(ctx, "sendMessage", body)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.Result.MessageID, 10), nil
}

// UpdateMessage edits a previously sent message in place.
func (p *Publisher) UpdateMessage(ctx context.Context, channel, handle, text string, buttons [][]ports.Button) error {
	chatID, _ := searchstate.SplitChatKey(channel)

	messageID, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return fmt.Errorf("bad message handle %q: %w", handle, err)
	}

	body := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if markup := toMarkup(buttons); markup != nil {
		body["reply_markup"] = markup
	}

	_, err = p.call(ctx, "editMessageText", body)
	return err
}

// toMarkup converts button rows, dropping disabled buttons to noop data so
// taps are acknowledged without effect.
func toMarkup(buttons [][]ports.Button) *replyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	m := &replyMarkup{}
	for _, row := range buttons {
		var out []inlineButton
		for _, b := range row {
			data := b.Data
			if b.Disabled {
				data = "noop"
			}
			out = append(out, inlineButton{Text: b.Text, CallbackData: data})
		}
		m.InlineKeyboard = append(m.InlineKeyboard, out)
	}
	return m
}

func (p *Publisher) call(ctx context.Context, method string, body map[string]any) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/bot%s/%s", p.apiBase, p.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram %s: %s", method, resp.Description)
	}
	return &resp, nil
}
