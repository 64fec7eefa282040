// Package forwarder delivers verified events to the configured backends in
// one of three delegation modes and reports a single BackendResult per event.
package forwarder

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

// Config wires the forwarder.
type Config struct {
	Mode       domain.ReplyMode
	LegacyURL  string // legacy backend webhook endpoint (raw relay)
	ModernURL  string // modern backend webhook endpoint (raw relay)
	QueryBase  string // modern backend API base for capability queries
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// Forwarder sends events to backends with timeout, bounded retry, and
// exponential backoff. Only idempotent failures (transport errors, timeouts,
// 5xx) are retried; 4xx is surfaced immediately as Rejected.
type Forwarder struct {
	mode       domain.ReplyMode
	legacyURL  string
	modernURL  string
	queryBase  string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Forwarder{
		mode:       cfg.Mode,
		legacyURL:  cfg.LegacyURL,
		modernURL:  cfg.ModernURL,
		queryBase:  cfg.QueryBase,
		maxRetries: cfg.MaxRetries,
		httpClient: httpx.SharedClient(cfg.Timeout),
		logger:     cfg.Logger,
	}
}

// Forward dispatches one event according to the configured reply mode and
// the router's destination.
//
//   - unified: the gateway owns the reply. Text messages for the modern
//     backend become capability queries; everything else is relayed raw and
//     the backend answers with {reply_text} in the response body.
//   - delegate_old: events routed to the legacy backend are relayed raw,
//     reply token included, and the legacy system replies itself
//     (BackendDelegated). Other events fall back to unified handling.
//   - delegate_new: the mirror image for the modern backend.
//
// rawBody and headers are the original verified webhook call, re-emitted
// byte-for-byte in the delegation paths.
func (f *Forwarder) Forward(ctx context.Context, ev *domain.InboundEvent, decision domain.RoutingDecision, rawBody []byte, headers http.Header) domain.BackendResult {
	if decision.Destination == domain.DestinationNone {
		return domain.BackendResult{Status: domain.BackendSkipped, Target: domain.DestinationNone, Detail: "unroutable event"}
	}

	switch f.mode {
	case domain.ReplyModeDelegateOld:
		if decision.Destination == domain.DestinationLegacy {
			return f.delegate(ctx, f.legacyURL, domain.DestinationLegacy, rawBody, headers)
		}
	case domain.ReplyModeDelegateNew:
		if decision.Destination == domain.DestinationModern {
			return f.delegate(ctx, f.modernURL, domain.DestinationModern, rawBody, headers)
		}
	}

	// Unified handling: the gateway queries the backend and replies itself.
	if decision.Destination == domain.DestinationModern && ev.IsText() {
		return f.query(ctx, ev)
	}
	return f.relayForReply(ctx, decision.Destination, rawBody, headers)
}

// delegate re-emits the raw webhook to a backend that takes over the reply.
// Whatever the backend returns in its response body is ignored: the reply is
// its responsibility now, and replying here too would burn the token twice.
func (f *Forwarder) delegate(ctx context.Context, url string, target domain.Destination, rawBody []byte, headers http.Header) domain.BackendResult {
	if url == "" {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: target,
			Detail: fmt.Sprintf("no %s backend URL configured", target),
		}
	}

	resp, err := f.post(ctx, url, rawBody, headers)
	if err != nil {
		f.logger.Error("delegation forward failed", "target", target, "error", err)
		return domain.BackendResult{Status: domain.BackendUnavailable, Target: target, Detail: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: target,
			Detail: fmt.Sprintf("%s backend returned HTTP %d", target, resp.StatusCode),
		}
	}
	return domain.BackendResult{
		Status: domain.BackendDelegated,
		Target: target,
		Detail: fmt.Sprintf("%s backend owns the reply", target),
	}
}

// relayResponse is what a backend answers when the gateway owns the reply.
type relayResponse struct {
	ReplyText string `json:"reply_text"`
}

// relayForReply re-emits the raw webhook and expects the backend to answer
// with the text the gateway should reply with.
func (f *Forwarder) relayForReply(ctx context.Context, dest domain.Destination, rawBody []byte, headers http.Header) domain.BackendResult {
	url := f.modernURL
	if dest == domain.DestinationLegacy {
		url = f.legacyURL
	}
	if url == "" {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: dest,
			Detail: fmt.Sprintf("no %s backend URL configured", dest),
		}
	}

	resp, err := f.post(ctx, url, rawBody, headers)
	if err != nil {
		f.logger.Error("forward failed", "target", dest, "error", err)
		return domain.BackendResult{Status: domain.BackendUnavailable, Target: dest, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: dest,
			Detail: fmt.Sprintf("%s backend returned HTTP %d", dest, resp.StatusCode),
		}
	}

	var rr relayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rr); err != nil || rr.ReplyText == "" {
		return domain.BackendResult{
			Status: domain.BackendRejected,
			Target: dest,
			Detail: fmt.Sprintf("%s backend returned no reply text", dest),
		}
	}
	return domain.BackendResult{Status: domain.BackendOk, Target: dest, ReplyText: rr.ReplyText}
}

// post sends rawBody with the original headers, filtered, retrying
// transient failures within the budget.
func (f *Forwarder) post(ctx context.Context, url string, rawBody []byte, headers http.Header) (*http.Response, error) {
	return httpx.DoWithRetry(ctx, f.httpClient, f.maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(rawBody))
		if err != nil {
			return nil, err
		}
		copyHeaders(req.Header, headers)
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}, f.logger)
}

// skipHeaders are hop-by-hop or recomputed headers that must not be
// forwarded with the relayed webhook.
var skipHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if skipHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
