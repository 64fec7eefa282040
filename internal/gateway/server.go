// Package gateway is the HTTP edge of the relay: the signed webhook ingress,
// the push pass-through for backends, health probes, and metrics.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
	"github.com/lgscvb/line-webhook-gateway/internal/line"
	"github.com/lgscvb/line-webhook-gateway/internal/metrics"
)

const maxBodyBytes = 1 << 20 // LINE batches are small; 1MB is already generous

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	WebhookPath     string
	ChannelSecret   string
	PushToken       string // bearer token for /api/push; empty disables auth
	MetricsEnabled  bool
	MetricsEndpoint string
	Logger          *slog.Logger
}

// Server accepts webhook calls, verifies them, and hands events to the
// pipeline. The 200 ack is sent as soon as events are enqueued; reply
// completion is never on the ack path.
type Server struct {
	host            string
	port            int
	webhookPath     string
	channelSecret   string
	pushToken       string
	metricsEnabled  bool
	metricsEndpoint string

	pipeline *Pipeline
	pusher   domain.LineClient
	metrics  metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

func NewServer(cfg ServerConfig, pipeline *Pipeline, pusher domain.LineClient, m metrics.Metrics) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		webhookPath:     cfg.WebhookPath,
		channelSecret:   cfg.ChannelSecret,
		pushToken:       cfg.PushToken,
		metricsEnabled:  cfg.MetricsEnabled,
		metricsEndpoint: cfg.MetricsEndpoint,
		pipeline:        pipeline,
		pusher:          pusher,
		metrics:         m,
		logger:          cfg.Logger,
	}
}

// Start runs the HTTP server until ctx is canceled, then shuts down
// gracefully and drains the pipeline.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.webhookPath, s.handleWebhook)
	mux.HandleFunc("/api/push", s.handlePush)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	if s.metricsEnabled {
		endpoint := s.metricsEndpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		mux.Handle(endpoint, metrics.Handler())
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.pipeline.Start()
	s.logger.Info("gateway server starting", "addr", s.server.Addr, "webhook", s.webhookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("gateway server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.server.Shutdown(shutdownCtx)
		s.pipeline.Close()
		return err
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	}
}

// handleWebhook is the single entry point for platform events. Non-2xx
// triggers platform-side redelivery, so it is reserved for auth failures;
// everything after verification acks 200 no matter how processing goes.
func (s *Server) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var events []domain.InboundEvent
	if s.channelSecret != "" {
		events, err = line.ParseRequest(body, r.Header.Get(line.SignatureHeader), s.channelSecret)
	} else {
		// No secret configured (local development): parse without verifying.
		events, err = line.ParseBody(body)
	}
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidSignature):
		s.logger.Warn("webhook signature verification failed", "remote", r.RemoteAddr)
		s.metrics.IncWebhookRejected("signature")
		http.Error(rw, "Invalid signature", http.StatusForbidden)
		return
	default:
		s.logger.Error("webhook payload rejected", "error", err)
		s.metrics.IncWebhookRejected("payload")
		http.Error(rw, "Invalid payload", http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		s.metrics.IncEventsReceived(ev.Type)
		s.pipeline.Enqueue(ev, body, r.Header.Clone())
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

// pushRequest is the backend-facing out-of-band push contract. It targets a
// user identity, not a reply token, and is valid at any time.
type pushRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// handlePush is a pass-through to the platform push API for backends (e.g. a
// payment-due notice). Basic validation only: no routing, no dedup.
func (s *Server) handlePush(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pushToken != "" {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(s.pushToken)) != 1 {
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var req pushRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Text == "" {
		http.Error(rw, "user_id and text are required", http.StatusBadRequest)
		return
	}

	if err := s.pusher.Push(r.Context(), req.UserID, req.Text); err != nil {
		s.logger.Error("push delivery failed", "user_id", req.UserID, "error", err)
		s.metrics.IncPushMessages("error")
		http.Error(rw, "Push failed", http.StatusBadGateway)
		return
	}
	s.metrics.IncPushMessages("ok")

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "sent"})
}

func (s *Server) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleRoot(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok", "service": "line-webhook-gateway"})
}
