package env

import "testing"

func TestGet(t *testing.T) {
	t.Setenv("STOREFRONT_ENV_TEST", "value")
	if got := Get("STOREFRONT_ENV_TEST", "fallback"); got != "value" {
		t.Fatalf("expected set value, got %q", got)
	}

	t.Setenv("STOREFRONT_ENV_TEST", "   ")
	if got := Get("STOREFRONT_ENV_TEST", "fallback"); got != "fallback" {
		t.Fatalf("whitespace value should fall back, got %q", got)
	}

	if got := Get("STOREFRONT_ENV_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("unset variable should fall back, got %q", got)
	}
}
