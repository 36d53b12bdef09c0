package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

// GetSubscription retrieves the canonical subscription object from Paddle.
func (p *PaddleProvider) GetSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionRef,
	})
	if err != nil {
		return nil, errors.Join(ErrSubscriptionNotFound, err)
	}

	out := &Subscription{
		Ref:         sub.ID,
		CustomerRef: sub.CustomerID,
		Status:      string(sub.Status),
	}

	if len(sub.Items) > 0 {
		out.PriceRef = sub.Items[0].Price.ID
	}
	if sub.CurrentBillingPeriod != nil {
		out.PeriodStart = paddleTimeMillis(sub.CurrentBillingPeriod.StartsAt)
		out.PeriodEnd = paddleTimeMillis(sub.CurrentBillingPeriod.EndsAt)
	}
	// A scheduled cancel or pause maps onto cancel-at-period-end.
	if sub.ScheduledChange != nil {
		switch sub.ScheduledChange.Action {
		case paddle.ScheduledChangeActionCancel, paddle.ScheduledChangeActionPause:
			out.CancelAtPeriodEnd = true
		}
	}
	if sub.StartedAt != nil {
		out.StartedAt = paddleTimeMillis(*sub.StartedAt)
	}
	if out.StartedAt == 0 {
		out.StartedAt = paddleTimeMillis(sub.CreatedAt)
	}
	if sub.CustomData != nil {
		if owner, ok := sub.CustomData["owner_ref"].(string); ok {
			out.OwnerRef = owner
		}
	}

	return out, nil
}

// CancelAtPeriodEnd schedules the subscription to end with the current
// billing period. Paddle treats a repeated scheduled cancel as a no-op,
// which keeps the deferred task retryable.
func (p *PaddleProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error {
	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionRef,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
	})
	if err != nil {
		return fmt.Errorf("failed to schedule paddle cancellation: %w", err)
	}
	return nil
}

// Resume removes a scheduled cancellation or pause from the subscription.
func (p *PaddleProvider) Resume(ctx context.Context, subscriptionRef string) error {
	_, err := p.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:  subscriptionRef,
		ScheduledChange: paddle.NewNullPatchField[*paddle.SubscriptionScheduledChange](),
	})
	if err != nil {
		return fmt.Errorf("failed to clear paddle scheduled change: %w", err)
	}
	return nil
}

// UpdatePrice moves the subscription onto a different catalog price with
// immediate prorated billing.
func (p *PaddleProvider) UpdatePrice(ctx context.Context, subscriptionRef, priceRef string) error {
	item := paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
		PriceID:  priceRef,
		Quantity: 1,
	})

	_, err := p.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       subscriptionRef,
		Items:                paddle.NewPatchField([]paddle.UpdateSubscriptionItems{*item}),
		ProrationBillingMode: paddle.NewPatchField(paddle.ProrationBillingModeProratedImmediately),
	})
	if err != nil {
		return fmt.Errorf("failed to update paddle subscription price: %w", err)
	}
	return nil
}

// GetCheckoutSession retrieves a completed checkout transaction from Paddle.
// Paddle models checkouts as transactions; the subscription id appears on
// the transaction once the first payment settles.
func (p *PaddleProvider) GetCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSession, error) {
	txn, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: sessionRef,
	})
	if err != nil {
		return nil, errors.Join(ErrSessionNotFound, err)
	}

	session := &CheckoutSession{
		Ref:         txn.ID,
		CustomerRef: derefString(txn.CustomerID),
	}
	if txn.SubscriptionID != nil {
		session.SubscriptionRef = *txn.SubscriptionID
	}
	if len(txn.Items) > 0 {
		session.PriceRef = txn.Items[0].Price.ID
	}
	if txn.BillingPeriod != nil {
		session.PeriodStart = paddleTimeMillis(txn.BillingPeriod.StartsAt)
		session.PeriodEnd = paddleTimeMillis(txn.BillingPeriod.EndsAt)
	}
	if txn.CustomData != nil {
		if owner, ok := txn.CustomData["owner_ref"].(string); ok {
			session.OwnerRef = owner
		}
		if mt, ok := txn.CustomData["membership_type"].(string); ok {
			session.MembershipType = mt
		}
	}

	return session, nil
}

// ParseWebhook verifies the Paddle signature and normalizes the payload
// into the closed event union.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}
	if !valid {
		return nil, ErrVerificationFailed
	}

	return normalizePaddleEvent(payload)
}

// paddleEnvelope is the outer shape every Paddle webhook shares.
type paddleEnvelope struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	OccurredAt string         `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

// normalizePaddleEvent maps a raw Paddle payload onto the internal event
// union. Unknown event types come back as EventIgnored so the caller can
// acknowledge them without touching local state.
func normalizePaddleEvent(payload []byte) (*WebhookEvent, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if env.EventID == "" {
		return nil, errors.Join(ErrMalformedPayload, errors.New("missing event_id"))
	}

	event := &WebhookEvent{
		EventID:       env.EventID,
		Kind:          mapPaddleEventKind(env.EventType),
		ProviderEvent: env.EventType,
	}
	if ts, err := time.Parse(time.RFC3339, env.OccurredAt); err == nil {
		event.OccurredAt = ts
	}
	if event.Kind == EventIgnored {
		return event, nil
	}

	if subID, ok := env.Data["id"].(string); ok {
		event.SubscriptionRef = subID
	}
	if event.SubscriptionRef == "" {
		return nil, ErrMissingSubscriptionID
	}
	if customerID, ok := env.Data["customer_id"].(string); ok {
		event.CustomerRef = customerID
	}
	if status, ok := env.Data["status"].(string); ok {
		event.Status = status
	}

	// Period bounds are optional: not every subscription event carries
	// them, and the reconciler only merges what is present.
	if period, ok := env.Data["current_billing_period"].(map[string]any); ok {
		if start := parsePaddleTimestamp(period["starts_at"]); start != nil {
			event.PeriodStart = start
		}
		if end := parsePaddleTimestamp(period["ends_at"]); end != nil {
			event.PeriodEnd = end
		}
	}

	// scheduled_change is present (cancel/pause pending) or explicitly
	// null (none); absence means the event does not speak to it.
	if raw, exists := env.Data["scheduled_change"]; exists {
		pending := false
		if change, ok := raw.(map[string]any); ok {
			if action, ok := change["action"].(string); ok {
				pending = action == "cancel" || action == "pause"
			}
		}
		event.CancelAtPeriodEnd = &pending
	}

	if customData, ok := env.Data["custom_data"].(map[string]any); ok {
		if owner, ok := customData["owner_ref"].(string); ok {
			event.OwnerRef = owner
		}
		if mt, ok := customData["membership_type"].(string); ok {
			event.MembershipType = mt
		}
	}

	if items, ok := env.Data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			if price, ok := item["price"].(map[string]any); ok {
				if priceID, ok := price["id"].(string); ok {
					event.PriceRef = priceID
				}
			}
		}
	}

	return event, nil
}

// mapPaddleEventKind maps Paddle event names onto the internal closed set.
func mapPaddleEventKind(providerEvent string) EventKind {
	switch providerEvent {
	case "subscription.created", "subscription.activated":
		return EventSubscriptionActivated
	case "subscription.updated":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCancelled
	case "subscription.resumed":
		return EventSubscriptionResumed
	case "subscription.past_due":
		return EventPaymentFailed
	}
	return EventIgnored
}

// parsePaddleTimestamp converts an RFC3339 value from a raw payload into
// epoch millis, or nil if absent or unparseable.
func parsePaddleTimestamp(v any) *int64 {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	millis := ts.UnixMilli()
	return &millis
}

// paddleTimeMillis parses an SDK timestamp string into epoch millis,
// returning 0 when unset.
func paddleTimeMillis(s string) int64 {
	if s == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return ts.UnixMilli()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
