package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pberga/coursemind/config"
)

// Batch is the result of embedding an ordered list of texts. Vectors always
// has one entry per input, in input order. Failed lists the indexes whose
// embedding call failed and was replaced by a zero vector, so callers can
// surface the quality loss instead of silently indexing it.
type Batch struct {
	Vectors [][]float32
	Failed  []int
}

func (b *Batch) Degraded() bool {
	return len(b.Failed) > 0
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) (*Batch, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	GoogleAPIKey  string
	GeminiBaseURL string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Timeout time.Duration
}

func NewEmbedder(cfg config.Config, logger *slog.Logger) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		GoogleAPIKey:  cfg.GoogleAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		Timeout:       cfg.RequestTimeout,
	}

	switch opts.Provider {
	case config.ProviderGemini:
		if opts.GoogleAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but GOOGLE_API_KEY not set")
		}
		return NewGeminiEmbedder(opts, logger), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}
