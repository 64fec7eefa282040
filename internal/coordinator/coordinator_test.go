package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
	"github.com/lgscvb/line-webhook-gateway/internal/guard"
)

type fakeLine struct {
	mu       sync.Mutex
	replies  []string
	replyErr error
}

func (f *fakeLine) Reply(_ context.Context, _ string, texts ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies = append(f.replies, texts...)
	return nil
}

func (f *fakeLine) Push(_ context.Context, _ string, texts ...string) error {
	return nil
}

func (f *fakeLine) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

type failingGuard struct{}

func (failingGuard) Acquire(context.Context, string) (bool, error) {
	return false, errors.New("guard store down")
}
func (failingGuard) Close() error { return nil }

func testEvent() *domain.InboundEvent {
	return &domain.InboundEvent{
		EventID:     "ev-1",
		Type:        "message",
		MessageType: "text",
		Text:        "hello",
		UserID:      "Ualice",
		ReplyToken:  "rt-1",
	}
}

func newTestCoordinator(t *testing.T, line domain.LineClient) *Coordinator {
	t.Helper()
	g := guard.NewMemory(time.Hour)
	t.Cleanup(func() { g.Close() })
	return New(Config{
		Guard:  g,
		Line:   line,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func okForward(text string) func(context.Context) domain.BackendResult {
	return func(context.Context) domain.BackendResult {
		return domain.BackendResult{Status: domain.BackendOk, Target: domain.DestinationModern, ReplyText: text}
	}
}

func TestResolve_BackendOkReplies(t *testing.T) {
	line := &fakeLine{}
	c := newTestCoordinator(t, line)

	res := c.Resolve(context.Background(), testEvent(), okForward("answer"))
	if res.State != domain.RepliedByCoordinator {
		t.Fatalf("state = %q, want replied", res.State)
	}
	if !res.Intent.Delivered || res.Intent.Text != "answer" {
		t.Errorf("intent = %+v", res.Intent)
	}
	if res.Intent.Source != domain.SourceUnifiedBackend {
		t.Errorf("source = %q", res.Intent.Source)
	}
	if got := line.sent(); len(got) != 1 || got[0] != "answer" {
		t.Errorf("replies sent = %v", got)
	}
}

func TestResolve_DelegatedNeverReplies(t *testing.T) {
	tests := []struct {
		target domain.Destination
		source domain.ReplySource
	}{
		{domain.DestinationLegacy, domain.SourceLegacyDelegated},
		{domain.DestinationModern, domain.SourceModernDelegated},
	}
	for _, tt := range tests {
		line := &fakeLine{}
		c := newTestCoordinator(t, line)

		res := c.Resolve(context.Background(), testEvent(), func(context.Context) domain.BackendResult {
			return domain.BackendResult{Status: domain.BackendDelegated, Target: tt.target}
		})
		if res.State != domain.DelegatedExternally {
			t.Errorf("%s: state = %q, want delegated", tt.target, res.State)
		}
		if res.Intent.Source != tt.source {
			t.Errorf("%s: source = %q, want %q", tt.target, res.Intent.Source, tt.source)
		}
		if len(line.sent()) != 0 {
			t.Errorf("%s: delegation must not call the reply API", tt.target)
		}
	}
}

func TestResolve_FallbackOnBackendFailure(t *testing.T) {
	for _, status := range []domain.BackendStatus{domain.BackendRejected, domain.BackendUnavailable} {
		line := &fakeLine{}
		c := newTestCoordinator(t, line)

		res := c.Resolve(context.Background(), testEvent(), func(context.Context) domain.BackendResult {
			return domain.BackendResult{Status: status, Target: domain.DestinationModern, Detail: "boom"}
		})
		if res.State != domain.FailedTerminal {
			t.Errorf("%s: state = %q, want failed even though fallback was delivered", status, res.State)
		}
		if !res.Intent.Delivered {
			t.Errorf("%s: fallback reply should have been delivered", status)
		}
		if res.Intent.Source != domain.SourceFallbackError {
			t.Errorf("%s: source = %q", status, res.Intent.Source)
		}
		if got := line.sent(); len(got) != 1 || got[0] != DefaultFallbackText {
			t.Errorf("%s: replies = %v", status, got)
		}
	}
}

func TestResolve_SkippedIsTerminalAndSilent(t *testing.T) {
	line := &fakeLine{}
	c := newTestCoordinator(t, line)

	res := c.Resolve(context.Background(), testEvent(), func(context.Context) domain.BackendResult {
		return domain.BackendResult{Status: domain.BackendSkipped}
	})
	if res.State != domain.FailedTerminal {
		t.Errorf("state = %q", res.State)
	}
	if len(line.sent()) != 0 {
		t.Error("skipped forward must not produce a reply")
	}
}

func TestResolve_ExpiredTokenIsTerminal(t *testing.T) {
	line := &fakeLine{replyErr: domain.ErrTokenExpired}
	c := newTestCoordinator(t, line)

	res := c.Resolve(context.Background(), testEvent(), okForward("late"))
	if res.State != domain.FailedTerminal {
		t.Errorf("state = %q, want failed", res.State)
	}
	if res.Intent.Delivered {
		t.Error("reply on an expired token must not count as delivered")
	}
}

func TestResolve_NoReplyTokenDropsText(t *testing.T) {
	line := &fakeLine{}
	c := newTestCoordinator(t, line)

	ev := testEvent()
	ev.ReplyToken = ""
	res := c.Resolve(context.Background(), ev, okForward("orphan"))
	if res.State != domain.FailedTerminal {
		t.Errorf("state = %q", res.State)
	}
	if len(line.sent()) != 0 {
		t.Error("no token means no reply call")
	}
}

func TestResolve_DuplicateDeliverySuppressed(t *testing.T) {
	line := &fakeLine{}
	c := newTestCoordinator(t, line)
	ev := testEvent()

	first := c.Resolve(context.Background(), ev, okForward("once"))
	if first.State != domain.RepliedByCoordinator {
		t.Fatalf("first delivery state = %q", first.State)
	}

	var forwarded atomic.Bool
	second := c.Resolve(context.Background(), ev, func(context.Context) domain.BackendResult {
		forwarded.Store(true)
		return domain.BackendResult{Status: domain.BackendOk, ReplyText: "twice"}
	})
	if !second.Duplicate {
		t.Error("second delivery should be reported as duplicate")
	}
	if forwarded.Load() {
		t.Error("duplicate delivery must not forward at all")
	}
	if got := line.sent(); len(got) != 1 {
		t.Errorf("exactly one reply expected, got %v", got)
	}
}

func TestResolve_ConcurrentDuplicatesSingleReply(t *testing.T) {
	line := &fakeLine{}
	c := newTestCoordinator(t, line)
	ev := testEvent()

	const n = 20
	var (
		start = make(chan struct{})
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c.Resolve(context.Background(), ev, okForward("answer"))
		}()
	}
	close(start)
	wg.Wait()

	if got := line.sent(); len(got) != 1 {
		t.Errorf("%d concurrent deliveries produced %d replies, want 1", n, len(got))
	}
}

func TestResolve_GuardFailureStillReplies(t *testing.T) {
	line := &fakeLine{}
	c := New(Config{
		Guard:  failingGuard{},
		Line:   line,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	res := c.Resolve(context.Background(), testEvent(), okForward("answer"))
	if res.State != domain.RepliedByCoordinator {
		t.Errorf("guard outage must not silence the user, state = %q", res.State)
	}
	if len(line.sent()) != 1 {
		t.Error("reply should still be delivered when the guard store is down")
	}
}

func TestResolve_CustomFallbackText(t *testing.T) {
	line := &fakeLine{}
	g := guard.NewMemory(time.Hour)
	defer g.Close()
	c := New(Config{
		Guard:        g,
		Line:         line,
		FallbackText: "請稍候",
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	c.Resolve(context.Background(), testEvent(), func(context.Context) domain.BackendResult {
		return domain.BackendResult{Status: domain.BackendUnavailable}
	})
	if got := line.sent(); len(got) != 1 || got[0] != "請稍候" {
		t.Errorf("replies = %v", got)
	}
}
