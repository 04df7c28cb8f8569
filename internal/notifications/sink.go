package notifications

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderConfirmation is the payload for a post-checkout message.
type OrderConfirmation struct {
	To          string
	Name        string
	OrderNumber string
	Total       decimal.Decimal
	Currency    string
}

// Sink delivers outbound customer messages. Callers treat every send as
// best-effort; a failed send never rolls back the operation that
// triggered it.
type Sink interface {
	SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error
	SendNewsletterWelcome(ctx context.Context, email string) error
}

// NoopSink drops every message. Used in dev and tests.
type NoopSink struct{}

func (NoopSink) SendOrderConfirmation(context.Context, OrderConfirmation) error { return nil }
func (NoopSink) SendNewsletterWelcome(context.Context, string) error            { return nil }
