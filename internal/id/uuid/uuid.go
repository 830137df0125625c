// Package uuid generates job ids.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 job ids, so ids sort by submission.
type Generator struct {
	source func() (uuid.UUID, error)
}

// New creates a Generator backed by uuid.NewV7.
func New() *Generator {
	return &Generator{source: uuid.NewV7}
}

// NewID returns a new job id.
func (g *Generator) NewID() (string, error) {
	id, err := g.source()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}
