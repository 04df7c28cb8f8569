package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velora-commerce/storefront-backend/pkg/config"
)

func newSinkAgainst(t *testing.T, server *httptest.Server) *EmailSink {
	t.Helper()
	sink, err := NewEmailSink(config.EmailConfig{
		APIKey:      "sg-test-key",
		BaseURL:     server.URL,
		DefaultFrom: "orders@velora.example",
		SendTimeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return sink
}

func TestSendOrderConfirmationPostsMailPayload(t *testing.T) {
	var captured mailPayload
	var authHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, mailSendPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := newSinkAgainst(t, server)
	err := sink.SendOrderConfirmation(context.Background(), OrderConfirmation{
		To:          "shopper@example.com",
		Name:        "Asha",
		OrderNumber: "ORD-1722000000-A1B2C3",
		Total:       decimal.RequireFromString("1350"),
		Currency:    "inr",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sg-test-key", authHeader)
	require.Len(t, captured.Personalizations, 1)
	require.Len(t, captured.Personalizations[0].To, 1)
	assert.Equal(t, "shopper@example.com", captured.Personalizations[0].To[0].Email)
	assert.Equal(t, "orders@velora.example", captured.From.Email)
	assert.Contains(t, captured.Subject, "ORD-1722000000-A1B2C3")
	require.Len(t, captured.Content, 1)
	assert.Contains(t, captured.Content[0].Value, "1350.00")
}

func TestSendSurfacesProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := newSinkAgainst(t, server)
	err := sink.SendNewsletterWelcome(context.Background(), "shopper@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestNewEmailSinkRequiresCredentials(t *testing.T) {
	_, err := NewEmailSink(config.EmailConfig{BaseURL: "https://api.sendgrid.com"}, nil)
	require.Error(t, err)
}
