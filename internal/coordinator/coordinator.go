// Package coordinator owns the one-shot reply credential for an event. It
// guarantees that at most one reply is ever delivered per event ID, no matter
// how many concurrent workers or platform redeliveries are in flight, and
// that every handled event reaches a terminal state.
package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
)

// DefaultFallbackText is sent when the backend rejects or is unreachable.
const DefaultFallbackText = "抱歉，系統暫時無法處理您的訊息，請稍後再試。"

// Config wires the coordinator.
type Config struct {
	Guard        domain.ReplyGuard
	Line         domain.LineClient
	FallbackText string
	Logger       *slog.Logger
}

// Coordinator drives an event from Pending to exactly one of
// RepliedByCoordinator, DelegatedExternally, or FailedTerminal. Audit
// persistence belongs to the caller; the Resolution carries what it needs.
type Coordinator struct {
	guard        domain.ReplyGuard
	line         domain.LineClient
	fallbackText string
	logger       *slog.Logger
}

func New(cfg Config) *Coordinator {
	if cfg.FallbackText == "" {
		cfg.FallbackText = DefaultFallbackText
	}
	return &Coordinator{
		guard:        cfg.Guard,
		line:         cfg.Line,
		fallbackText: cfg.FallbackText,
		logger:       cfg.Logger,
	}
}

// Resolution is the coordinator's terminal verdict for one delivery of an event.
type Resolution struct {
	State domain.ReplyState
	// Intent is the reply that was (or was attempted to be) delivered.
	// Zero-valued when no reply belongs to this event.
	Intent domain.ReplyIntent
	// Duplicate is set when another delivery of the same event already holds
	// the guard; this delivery did nothing.
	Duplicate bool
}

// Resolve acquires the per-event guard, runs the forward function, and
// settles the reply. The guard is taken before forwarding: in delegate modes
// the forward itself hands the reply token to a backend, so forwarding twice
// would be a double reply.
//
// A timed-out or failed backend still lands in FailedTerminal with a
// fallback reply delivered; an event never stays Pending.
func (c *Coordinator) Resolve(ctx context.Context, ev *domain.InboundEvent, forward func(context.Context) domain.BackendResult) Resolution {
	won, err := c.guard.Acquire(ctx, ev.EventID)
	if err != nil {
		// Guard unreachable: proceed without dedup rather than go silent.
		c.logger.Error("reply guard unavailable, proceeding without dedup", "event_id", ev.EventID, "error", err)
	} else if !won {
		c.logger.Info("duplicate delivery suppressed", "event_id", ev.EventID)
		return Resolution{State: domain.ReplyPending, Duplicate: true}
	}

	result := forward(ctx)

	switch result.Status {
	case domain.BackendDelegated:
		return settleDelegated(ev, result)
	case domain.BackendOk:
		return c.settleReply(ctx, ev, result.ReplyText, domain.SourceUnifiedBackend)
	case domain.BackendSkipped:
		// Nothing was forwarded and nothing owes the user a reply.
		return Resolution{State: domain.FailedTerminal}
	default: // Rejected, Unavailable
		c.logger.Warn("backend failed, sending fallback",
			"event_id", ev.EventID, "status", result.Status, "detail", result.Detail)
		return c.settleFallback(ctx, ev)
	}
}

func settleDelegated(ev *domain.InboundEvent, result domain.BackendResult) Resolution {
	src := domain.SourceLegacyDelegated
	if result.Target == domain.DestinationModern {
		src = domain.SourceModernDelegated
	}
	return Resolution{
		State:  domain.DelegatedExternally,
		Intent: domain.ReplyIntent{EventID: ev.EventID, Source: src, Delivered: true},
	}
}

func (c *Coordinator) settleReply(ctx context.Context, ev *domain.InboundEvent, text string, src domain.ReplySource) Resolution {
	intent := domain.ReplyIntent{EventID: ev.EventID, Text: text, Source: src}
	if !ev.ReplyEligible() {
		// No token was ever issued; there is no reply channel for this event.
		c.logger.Debug("no reply token, dropping reply text", "event_id", ev.EventID)
		return Resolution{State: domain.FailedTerminal, Intent: intent}
	}

	if err := c.line.Reply(ctx, ev.ReplyToken, text); err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			// Terminal: no compensating action exists on the reply channel.
			c.logger.Warn("reply token expired", "event_id", ev.EventID)
		} else {
			c.logger.Error("reply delivery failed", "event_id", ev.EventID, "error", err)
		}
		return Resolution{State: domain.FailedTerminal, Intent: intent}
	}

	intent.Delivered = true
	return Resolution{State: domain.RepliedByCoordinator, Intent: intent}
}

func (c *Coordinator) settleFallback(ctx context.Context, ev *domain.InboundEvent) Resolution {
	res := c.settleReply(ctx, ev, c.fallbackText, domain.SourceFallbackError)
	// The terminal state stays failed even when the fallback went out.
	res.State = domain.FailedTerminal
	return res
}
