package line

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
)

// webhookBody is the envelope LINE posts: a destination (the bot user ID)
// and a batch of events.
type webhookBody struct {
	Destination string            `json:"destination"`
	Events      []json.RawMessage `json:"events"`
}

type webhookEvent struct {
	Type           string `json:"type"`
	WebhookEventID string `json:"webhookEventId"`
	Timestamp      int64  `json:"timestamp"` // milliseconds since epoch
	ReplyToken     string `json:"replyToken"`
	Source         struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
	Postback struct {
		Data string `json:"data"`
	} `json:"postback"`
}

// ParseRequest verifies the signature and parses the body into events.
// Returns domain.ErrInvalidSignature on HMAC mismatch and
// domain.ErrMalformedPayload when the verified body does not decode.
// No I/O: the store and backends are only reached after this succeeds.
func ParseRequest(body []byte, signature, channelSecret string) ([]domain.InboundEvent, error) {
	if !VerifySignature(body, signature, channelSecret) {
		return nil, domain.ErrInvalidSignature
	}
	return ParseBody(body)
}

// ParseBody decodes a verified webhook body into zero or more events.
func ParseBody(body []byte) ([]domain.InboundEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	now := time.Now()
	events := make([]domain.InboundEvent, 0, len(wb.Events))
	for _, raw := range wb.Events {
		var we webhookEvent
		if err := json.Unmarshal(raw, &we); err != nil {
			return nil, fmt.Errorf("%w: event: %v", domain.ErrMalformedPayload, err)
		}
		if we.Type == "" {
			return nil, fmt.Errorf("%w: event missing type", domain.ErrMalformedPayload)
		}

		ev := domain.InboundEvent{
			EventID:    eventID(&we),
			Type:       we.Type,
			UserID:     we.Source.UserID,
			ChannelID:  wb.Destination,
			ReplyToken: we.ReplyToken,
			Raw:        append([]byte(nil), raw...),
			ReceivedAt: now,
		}
		if we.Timestamp > 0 {
			ev.ReceivedAt = time.UnixMilli(we.Timestamp)
		}
		if we.Type == "message" {
			ev.MessageType = we.Message.Type
			if we.Message.Type == "text" {
				ev.Text = we.Message.Text
			}
		}
		if we.Type == "postback" {
			ev.Text = we.Postback.Data
		}
		events = append(events, ev)
	}
	return events, nil
}

// eventID picks the platform idempotency key. Newer webhook payloads carry
// webhookEventId; older ones at least have a message ID.
func eventID(we *webhookEvent) string {
	if we.WebhookEventID != "" {
		return we.WebhookEventID
	}
	if we.Message.ID != "" {
		return "msg-" + we.Message.ID
	}
	return fmt.Sprintf("%s-%s-%d", we.Type, we.Source.UserID, we.Timestamp)
}
