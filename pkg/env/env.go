package env

import (
	"os"
	"strings"
)

// Get reads an environment variable, falling back when the variable is
// unset or holds only whitespace.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
