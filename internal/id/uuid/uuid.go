// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// articleNamespace scopes URL-derived article IDs.
var articleNamespace = uuid.MustParse("6f2c1f0e-7f4e-4d7a-9a63-0b7c3e2f1a55")

// Generator creates UUID v7 strings for runs and new rows.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// ForURL returns a stable UUIDv5 for a normalized article URL, so every store
// assigns the same ID to the same page.
func ForURL(url string) string {
	return uuid.NewSHA1(articleNamespace, []byte(url)).String()
}
