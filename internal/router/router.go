// Package router classifies inbound events into a destination decision using
// the configured keyword sets. Pure and synchronous; it never touches the
// network or the store.
package router

import (
	"fmt"
	"strings"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
)

// Router holds the keyword configuration, loaded once at startup and never
// mutated afterwards.
type Router struct {
	legacyKeywords    []string
	highValueKeywords []string
}

// New creates a router. Keyword order is priority: the first legacy keyword
// contained in a message decides the destination.
func New(legacyKeywords, highValueKeywords []string) *Router {
	return &Router{
		legacyKeywords:    legacyKeywords,
		highValueKeywords: highValueKeywords,
	}
}

// Classify decides where an event goes.
//
// Non-message events (follow, unfollow, join...) have nothing to route and
// get destination "none". Non-text messages (stickers, images) go to the
// modern backend. Text messages go legacy on the first matching delegation
// keyword, otherwise modern. High-value detection is an orthogonal flag: it
// fires alongside either destination and never changes it.
func (r *Router) Classify(ev *domain.InboundEvent) domain.RoutingDecision {
	if ev.Type != "message" && ev.Type != "postback" {
		return domain.RoutingDecision{
			Destination: domain.DestinationNone,
			Reason:      fmt.Sprintf("event type %q is not routable", ev.Type),
		}
	}

	if !ev.IsText() && ev.Type == "message" {
		return domain.RoutingDecision{
			Destination: domain.DestinationModern,
			Reason:      fmt.Sprintf("non-text message (type=%s), modern backend handles it", ev.MessageType),
		}
	}

	decision := domain.RoutingDecision{
		Destination: domain.DestinationModern,
		Reason:      "no delegation keyword matched, default modern backend",
	}

	for _, kw := range r.legacyKeywords {
		if strings.Contains(ev.Text, kw) {
			decision.Destination = domain.DestinationLegacy
			decision.MatchedKeyword = kw
			decision.Reason = fmt.Sprintf("delegation keyword %q matched", kw)
			break
		}
	}

	// High-value scan is independent of the destination chosen above.
	for _, kw := range r.highValueKeywords {
		if strings.Contains(ev.Text, kw) {
			decision.IsHighValue = true
			if decision.MatchedKeyword == "" {
				decision.MatchedKeyword = kw
			}
			break
		}
	}

	return decision
}
