package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sessionhub/sessionhub/internal/domain/ports"
)

// DefaultAPIBase is the production Web API endpoint.
const DefaultAPIBase = "https://slack.com/api"

// APIPublisher posts and edits channel messages through the Web API. It
// implements ports.MessagePublisher; handles are message timestamps.
type APIPublisher struct {
	token   string
	apiBase string
	client  *http.Client
}

// NewAPIPublisher creates a publisher for the bot token. apiBase of "" means
// DefaultAPIBase.
func NewAPIPublisher(token, apiBase string) *APIPublisher {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &APIPublisher{
		token:   token,
		apiBase: apiBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type apiResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// SendMessage posts text to a channel and returns the message timestamp.
// Buttons are flattened into the text; interactive messages go through the
// response-URL path instead.
func (p *APIPublisher) SendMessage(ctx context.Context, channel, text string, _ [][]ports.Button) (string, error) {
	res, err := p.call(ctx, "chat.postMessage", map[string]any{
		"channel": channel,
		"text":    text,
	})
	if err != nil {
		return "", err
	}
	return res.TS, nil
}

// UpdateMessage edits a previously posted message in place.
func (p *APIPublisher) UpdateMessage(ctx context.Context, channel, handle, text string, _ [][]ports.Button) error {
	_, err := p.call(ctx, "chat.update", map[string]any{
		"channel": channel,
		"ts":      handle,
		"text":    text,
	})
	return err
}

func (p *APIPublisher) call(ctx context.Context, method string, body map[string]any) (*apiResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	var res apiResult
	if err := json.NewDecoder(httpResp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("slack %s: decode response: %w", method, err)
	}
	if !res.OK {
		return nil, fmt.Errorf("slack %s: %s", method, res.Error)
	}
	return &res, nil
}
