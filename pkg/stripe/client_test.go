package stripe

import (
	"context"
	"testing"

	"github.com/velora-commerce/storefront-backend/pkg/config"
)

func TestNewClientCarriesSigningSecret(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey: "sk_test_abc123",
		Secret: "  whsec_topsecret  ",
		Env:    "test",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Environment() != "test" {
		t.Fatalf("expected test environment, got %q", client.Environment())
	}
	if client.SigningSecret() != "whsec_topsecret" {
		t.Fatalf("expected trimmed signing secret, got %q", client.SigningSecret())
	}
	if client.API() == nil {
		t.Fatalf("expected initialized api client")
	}
}

func TestNewClientRejectsKeyEnvMismatch(t *testing.T) {
	if _, err := NewClient(context.Background(), config.StripeConfig{
		APIKey: "sk_live_abc123",
		Env:    "test",
	}, nil); err == nil {
		t.Fatalf("expected error for live key in test env")
	}

	if _, err := NewClient(context.Background(), config.StripeConfig{
		APIKey: "sk_test_abc123",
		Env:    "live",
	}, nil); err == nil {
		t.Fatalf("expected error for test key in live env")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(context.Background(), config.StripeConfig{Env: "test"}, nil); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestNewGatewayRequiresClient(t *testing.T) {
	if gw := NewGateway(nil); gw != nil {
		t.Fatalf("expected nil gateway for nil client")
	}
}
