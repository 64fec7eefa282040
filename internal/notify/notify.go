package notify

import (
	"context"

	"github.com/lgscvb/line-webhook-gateway/internal/domain"
)

// Noop is used when no alert channel is configured.
type Noop struct{}

func (Noop) HighValueAlert(context.Context, string, string, string) error { return nil }

// Multi fans an alert out to every configured channel. One channel failing
// does not stop the others; the first error is returned for logging.
type Multi []domain.Notifier

func (m Multi) HighValueAlert(ctx context.Context, userID, text, keyword string) error {
	var first error
	for _, n := range m {
		if err := n.HighValueAlert(ctx, userID, text, keyword); err != nil && first == nil {
			first = err
		}
	}
	return first
}
