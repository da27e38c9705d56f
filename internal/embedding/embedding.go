// Package embedding attaches an opaque vector to legal-text records. The
// vector is produced by an external model; this package only batches texts,
// checks dimensions and stores the result as a new column.
package embedding

import (
	"context"
	"fmt"
)

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "hash".
	Provider   string
	Model      string
	BaseURL    string
	Token      string
	Dimensions int
}

// New builds the configured provider.
func New(cfg Config) (Embedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding: dimensions must be positive, got %d", cfg.Dimensions)
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg)
	case "hash":
		return NewHash(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}
