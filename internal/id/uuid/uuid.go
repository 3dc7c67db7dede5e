// Package uuid mints time-ordered identifiers for crawl runs and requests.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 identifiers.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string, used for request ids.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRunID returns a UUID7 in the binary form carried by progress events.
func (Generator) NewRunID() ([16]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate uuid7: %w", err)
	}
	return [16]byte(id), nil
}

// Format renders a binary run id as a canonical UUID string.
func Format(runID [16]byte) string {
	return uuid.UUID(runID).String()
}
