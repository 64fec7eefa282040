package domain

import "time"

// InboundEvent is one verified LINE webhook event. A single webhook call may
// carry several of them. Immutable after parsing; downstream stages only read.
type InboundEvent struct {
	EventID     string
	Type        string // "message" | "postback" | "follow" | ...
	UserID      string
	ChannelID   string // webhook destination (bot user ID)
	MessageType string // "text" | "image" | "sticker" | ... (empty for non-message events)
	Text        string // message text; empty for non-text events
	ReplyToken  string // single-use reply credential; empty when not reply-eligible
	Raw         []byte // the original event object, for delegation and audit
	ReceivedAt  time.Time
}

// IsText reports whether the event carries routable text.
func (e *InboundEvent) IsText() bool {
	return e.Type == "message" && e.MessageType == "text" && e.Text != ""
}

// ReplyEligible reports whether the platform issued a reply token for this event.
func (e *InboundEvent) ReplyEligible() bool {
	return e.ReplyToken != ""
}

// Destination is where the router sends an event.
type Destination string

const (
	DestinationLegacy Destination = "legacy"
	DestinationModern Destination = "modern"
	DestinationNone   Destination = "none"
)

// RoutingDecision is the router's classification of one event.
// Derived per event; never persisted on its own.
type RoutingDecision struct {
	Destination    Destination
	MatchedKeyword string // delegation keyword that decided the destination, if any
	IsHighValue    bool   // fires a side-channel alert, independent of destination
	Reason         string // human-readable explanation, recorded for audit
}
