package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/velora-commerce/storefront-backend/pkg/config"
	"github.com/velora-commerce/storefront-backend/pkg/logger"
)

const mailSendPath = "/v3/mail/send"

// EmailSink delivers messages through a SendGrid-compatible HTTP API.
type EmailSink struct {
	http    *http.Client
	baseURL string
	apiKey  string
	from    string
	logger  *logger.Logger
}

// NewEmailSink builds the sink from config. Returns an error when the
// API key or sender address is missing so boot fails fast in prod.
func NewEmailSink(cfg config.EmailConfig, logg *logger.Logger) (*EmailSink, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("email api key is required")
	}
	if strings.TrimSpace(cfg.DefaultFrom) == "" {
		return nil, errors.New("email sender address is required")
	}
	return &EmailSink{
		http:    &http.Client{Timeout: cfg.SendTimeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.DefaultFrom,
		logger:  logg,
	}, nil
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailPersonalization struct {
	To []mailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailPayload struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	Subject          string                `json:"subject"`
	Content          []mailContent         `json:"content"`
}

// SendOrderConfirmation emails the order summary to the buyer.
func (s *EmailSink) SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("recipient address is required")
	}
	subject := fmt.Sprintf("Order %s confirmed", msg.OrderNumber)
	body := fmt.Sprintf(
		"Hi %s,\n\nThanks for your purchase. Order %s has been placed for %s %s.\nWe will let you know when it ships.",
		msg.Name, msg.OrderNumber, strings.ToUpper(msg.Currency), msg.Total.StringFixed(2),
	)
	return s.send(ctx, msg.To, msg.Name, subject, body)
}

// SendNewsletterWelcome emails a subscription acknowledgement.
func (s *EmailSink) SendNewsletterWelcome(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("recipient address is required")
	}
	return s.send(ctx, email, "", "You're on the list",
		"Thanks for subscribing. Expect product drops and offers in your inbox.")
}

func (s *EmailSink) send(ctx context.Context, to, name, subject, body string) error {
	payload := mailPayload{
		Personalizations: []mailPersonalization{{To: []mailAddress{{Email: to, Name: name}}}},
		From:             mailAddress{Email: s.from},
		Subject:          subject,
		Content:          []mailContent{{Type: "text/plain", Value: body}},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+mailSendPath, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail provider returned %d", resp.StatusCode)
	}
	return nil
}
