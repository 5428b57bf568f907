package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPPoster posts JSON payloads to slack response URLs. It implements
// ports.ResponsePoster.
type HTTPPoster struct {
	client *http.Client
}

// NewHTTPPoster creates a poster with a bounded request timeout.
func NewHTTPPoster() *HTTPPoster {
	return &HTTPPoster{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post sends payload to url as JSON.
func (p *HTTPPoster) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to response url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("response url returned %d", resp.StatusCode)
	}
	return nil
}
