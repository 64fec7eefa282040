package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
	"github.com/lgscvb/line-webhook-gateway/internal/httpx"
)

const (
	defaultAPIBase = "https://api.line.me"
	// maxMessagesPerCall is a Messaging API limit; extra messages are dropped.
	maxMessagesPerCall = 5
)

// ClientConfig configures the Messaging API client.
type ClientConfig struct {
	AccessToken string
	APIBase     string // override for tests; defaults to the public API
	Timeout     time.Duration
	MaxRetries  int // applied to push only; reply is never retried
	Logger      *slog.Logger
}

// Client calls the LINE Messaging API. Reply consumes a single-use token;
// Push targets a user ID and can be called at any time.
type Client struct {
	accessToken string
	apiBase     string
	maxRetries  int
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a Messaging API client with a pooled transport.
func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		accessToken: cfg.AccessToken,
		apiBase:     cfg.APIBase,
		maxRetries:  cfg.MaxRetries,
		httpClient:  httpx.SharedClient(cfg.Timeout),
		logger:      cfg.Logger,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textMessages(texts []string) []textMessage {
	if len(texts) > maxMessagesPerCall {
		texts = texts[:maxMessagesPerCall]
	}
	msgs := make([]textMessage, 0, len(texts))
	for _, t := range texts {
		msgs = append(msgs, textMessage{Type: "text", Text: t})
	}
	return msgs
}

// Reply sends texts using the event's reply token. The token is single-use
// and short-lived, so the call is made exactly once: a retry after an
// ambiguous transport failure could consume the token twice. A 400 from the
// platform means the token is expired or already used and maps to
// domain.ErrTokenExpired.
func (c *Client) Reply(ctx context.Context, replyToken string, texts ...string) error {
	if c.accessToken == "" {
		return fmt.Errorf("line: channel access token not configured")
	}
	if len(texts) > maxMessagesPerCall {
		c.logger.Warn("reply truncated to API limit", "given", len(texts), "limit", maxMessagesPerCall)
	}

	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   textMessages(texts),
	}
	resp, err := c.post(ctx, "/v2/bot/message/reply", payload)
	if err != nil {
		return fmt.Errorf("line reply: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("reply token rejected", "body", string(body))
		return domain.ErrTokenExpired
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("line reply: HTTP %d: %s", resp.StatusCode, body)
	}
}

// Push sends texts to a user identity. No token involved; transient failures
// are retried within the configured budget. Push messages consume quota.
func (c *Client) Push(ctx context.Context, userID string, texts ...string) error {
	if c.accessToken == "" {
		return fmt.Errorf("line: channel access token not configured")
	}

	payload := map[string]any{
		"to":       userID,
		"messages": textMessages(texts),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("line push: marshal: %w", err)
	}

	resp, err := httpx.DoWithRetry(ctx, c.httpClient, c.maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.apiBase+"/v2/bot/message/push", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)
		return req, nil
	}, c.logger)
	if err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("line push: HTTP %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	return c.httpClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
}
