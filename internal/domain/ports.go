package domain

import "context"

// ReplyGuard is the per-event "already handled" marker. Acquire is an atomic
// check-and-set keyed on event ID: exactly one caller across all concurrent
// workers (and, with the Redis implementation, across all gateway instances)
// wins. The winner proceeds to the reply-producing side effect; losers drop
// the duplicate delivery.
type ReplyGuard interface {
	Acquire(ctx context.Context, eventID string) (bool, error)
	Close() error
}

// LineClient sends outbound messages to the chat platform. Reply consumes the
// event's single-use token; Push targets a user identity and needs no token.
type LineClient interface {
	Reply(ctx context.Context, replyToken string, texts ...string) error
	Push(ctx context.Context, userID string, texts ...string) error
}

// Notifier delivers the high-value keyword side alert. Fire-and-forget;
// failures are logged, never surfaced to the reply path.
type Notifier interface {
	HighValueAlert(ctx context.Context, userID, text, keyword string) error
}
