package domain

import "errors"

var (
	// ErrInvalidSignature means the webhook HMAC did not match. The request
	// is rejected before any parsing or side effect.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload means the body verified but could not be parsed
	// into events.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrTokenExpired means the platform refused the reply token (expired or
	// already consumed). Terminal: no compensating action exists on the
	// reply channel.
	ErrTokenExpired = errors.New("reply token expired or already used")
)
