package line

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(url string, retries int) *Client {
	return NewClient(ClientConfig{
		AccessToken: "test-token",
		APIBase:     url,
		MaxRetries:  retries,
		Logger:      discardLogger(),
	})
}

type replyPayload struct {
	ReplyToken string `json:"replyToken"`
	Messages   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"messages"`
}

func TestReply_SendsTokenAndMessages(t *testing.T) {
	var got replyPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/message/reply" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	if err := c.Reply(context.Background(), "rt-1", "first", "second"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got.ReplyToken != "rt-1" {
		t.Errorf("reply token = %q", got.ReplyToken)
	}
	if len(got.Messages) != 2 || got.Messages[0].Text != "first" || got.Messages[0].Type != "text" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestReply_TruncatesToAPILimit(t *testing.T) {
	var got replyPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	texts := []string{"1", "2", "3", "4", "5", "6", "7"}
	if err := c.Reply(context.Background(), "rt-1", texts...); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(got.Messages) != 5 {
		t.Errorf("want 5 messages after truncation, got %d", len(got.Messages))
	}
}

func TestReply_BadRequestMeansTokenExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Invalid reply token"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	err := c.Reply(context.Background(), "stale", "text")
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("want ErrTokenExpired, got %v", err)
	}
}

func TestReply_NeverRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "flaky", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	if err := c.Reply(context.Background(), "rt-1", "text"); err == nil {
		t.Fatal("want error on 500")
	}
	if hits.Load() != 1 {
		t.Errorf("reply must be attempted exactly once, got %d calls", hits.Load())
	}
}

func TestNewClient_NilLoggerDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient(ClientConfig{AccessToken: "tok", APIBase: srv.URL})
	// Seven messages trip the truncation warning, which logs.
	if err := c.Reply(context.Background(), "rt", "1", "2", "3", "4", "5", "6", "7"); err != nil {
		t.Fatalf("Reply with defaulted logger: %v", err)
	}
}

func TestReply_NoAccessToken(t *testing.T) {
	c := NewClient(ClientConfig{Logger: discardLogger()})
	if err := c.Reply(context.Background(), "rt", "text"); err == nil {
		t.Error("want error without an access token")
	}
}

func TestPush_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path != "/v2/bot/message/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var payload struct {
			To string `json:"to"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.To != "Ualice" {
			t.Errorf("to = %q", payload.To)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2)
	if err := c.Push(context.Background(), "Ualice", "提醒您繳費"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("want one retry after the 503, got %d calls", hits.Load())
	}
}

func TestPush_ClientErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid user", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2)
	if err := c.Push(context.Background(), "nobody", "text"); err == nil {
		t.Error("want error on 400")
	}
}
