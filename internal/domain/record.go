package domain

import (
	"context"
	"time"
)

// DeliveryRecord is the durable audit row for one event: the inbound payload,
// the routing decision, and (once known) the final reply. Created on ingress,
// updated once when the reply is known, never deleted by the gateway.
type DeliveryRecord struct {
	ID          string // row UUID
	EventID     string // platform event ID, the idempotency key
	UserID      string
	EventType   string
	MessageType string
	Text        string
	ReplyToken  string
	RawEvent    []byte
	Destination string
	RouteReason string
	ReplyText   string
	ReplySource string
	ReceivedAt  time.Time
	RepliedAt   time.Time // zero until a reply is attached
}

// EventStore durably records every verified event and its eventual reply.
// Writes are best-effort: callers log failures and carry on, so the reply
// path never waits on the store.
type EventStore interface {
	// Record upserts on EventID. The platform redelivers webhooks on
	// timeout, so a second Record for the same event must not duplicate.
	Record(ctx context.Context, rec *DeliveryRecord) error
	// AttachReply sets the reply fields on an existing record.
	AttachReply(ctx context.Context, eventID, replyText, source string) error
	// UserHistory returns the most recent records for a user, newest first.
	UserHistory(ctx context.Context, userID string, limit int) ([]DeliveryRecord, error)
	Close() error
}
