package billing

import "errors"

var (
	ErrMissingAPIKey         = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret  = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment    = errors.New("invalid billing provider environment")
	ErrVerificationFailed    = errors.New("webhook signature verification failed")
	ErrSubscriptionNotFound  = errors.New("provider subscription not found")
	ErrSessionNotFound       = errors.New("checkout session not found")
	ErrMalformedPayload      = errors.New("malformed webhook payload")
	ErrMissingSubscriptionID = errors.New("webhook payload has no subscription id")
)
