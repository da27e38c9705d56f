package embedding

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI embeds through an OpenAI-compatible /embeddings endpoint, e.g. a
// local server hosting all-MiniLM-L6-v2.
type OpenAI struct {
	embedder embeddings.Embedder
	dims     int
	logger   *slog.Logger
}

// NewOpenAI builds the client. Local servers that need no authentication
// still get a placeholder token because the client insists on one.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	token := cfg.Token
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &OpenAI{
		embedder: emb,
		dims:     cfg.Dimensions,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

// Dimensions returns the configured vector length.
func (o *OpenAI) Dimensions() int { return o.dims }

// EmbedTexts embeds texts in one request.
func (o *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	o.logger.Debug("generating embeddings", "count", len(texts))

	vecs, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		o.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	return vecs, nil
}
