package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
)

// Intent is the slice of a Stripe PaymentIntent the checkout flow cares about.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountMinor  int64
	Currency     string
}

// Gateway creates and inspects payment intents for card checkouts.
type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
}

type gateway struct {
	api *stripe.Client
}

// NewGateway wraps the initialized Stripe client as a payment gateway.
func NewGateway(api *Client) Gateway {
	if api == nil || api.API() == nil {
		return nil
	}
	return &gateway{api: api.API()}
}

// CreateIntent opens a payment intent for the given major-unit amount.
// Stripe takes minor units, so the amount is scaled by 100 before sending.
func (g *gateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Intent, error) {
	if amount.IsNegative() {
		return nil, errors.New("intent amount cannot be negative")
	}
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(amount.Mul(decimal.NewFromInt(100)).IntPart()),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	return fromStripe(pi), nil
}

// RetrieveIntent fetches the current state of an existing intent.
func (g *gateway) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("intent id is required")
	}
	pi, err := g.api.V1PaymentIntents.Retrieve(ctx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, err
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
	}
}

// Succeeded reports whether the intent has completed payment.
func (i *Intent) Succeeded() bool {
	return i != nil && i.Status == string(stripe.PaymentIntentStatusSucceeded)
}
