package ipwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/scraperwall/ipwatch/data"
)

// Notifier posts embeds to a Discord compatible webhook
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// NewNotifier creates a Notifier for webhookURL. Every post is bounded by client's timeout
func NewNotifier(webhookURL string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     client,
	}
}

// Send posts a single embed. There are no retries
func (n *Notifier) Send(ctx context.Context, embed data.Embed) error {
	body, err := json.Marshal(data.WebhookMessage{Embeds: []data.Embed{embed}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook responded with HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	return nil
}
