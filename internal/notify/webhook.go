// Package notify delivers the high-value keyword side alert. The alert is
// independent of the reply path: it targets operators, not the end user, and
// its failures never touch the reply.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/httpx"
)

// WebhookNotifier posts a Slack-compatible payload to a configured webhook
// URL (Slack, Discord, or anything accepting the same shape).
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: httpx.SharedClient(timeout),
		logger:     logger,
	}
}

func (n *WebhookNotifier) HighValueAlert(ctx context.Context, userID, text, keyword string) error {
	payload := map[string]any{
		"text": fmt.Sprintf("🎯 高價值客戶警報!\n關鍵字: %s\n用戶ID: %s\n訊息: %s", keyword, userID, text),
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*🎯 高價值客戶警報!*\n• 關鍵字: `%s`\n• 用戶ID: `%s`\n• 訊息: %s", keyword, userID, text),
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
