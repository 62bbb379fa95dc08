package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type geminiEmbedder struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	logger    *slog.Logger
}

type geminiEmbedRequest struct {
	Model    string        `json:"model"`
	Content  geminiContent `json:"content"`
	TaskType string        `json:"taskType"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewGeminiEmbedder(opts Options, logger *slog.Logger) Embedder {
	baseURL := strings.TrimRight(opts.GeminiBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &geminiEmbedder{
		baseURL:   baseURL,
		apiKey:    opts.GoogleAPIKey,
		model:     opts.Model,
		dimension: opts.Dimension,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Embed calls the embedding endpoint once per text. A per-item failure does
// not abort the batch: the slot gets a zero vector of the configured dimension
// and its index is recorded in Batch.Failed.
func (e *geminiEmbedder) Embed(ctx context.Context, texts []string) (*Batch, error) {
	batch := &Batch{Vectors: make([][]float32, 0, len(texts))}

	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("embedding failed, substituting zero vector", "index", i, "error", err)
			batch.Vectors = append(batch.Vectors, make([]float32, e.dimension))
			batch.Failed = append(batch.Failed, i)
			continue
		}
		batch.Vectors = append(batch.Vectors, vec)
	}

	return batch, nil
}

func (e *geminiEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent?key=%s", e.baseURL, e.model, e.apiKey)

	reqBody, err := json.Marshal(geminiEmbedRequest{
		Model:    "models/" + e.model,
		Content:  geminiContent{Parts: []geminiPart{{Text: text}}},
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	var payload geminiEmbedResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if resp.StatusCode >= 300 {
		msg := payload.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, msg)
	}

	vec := make([]float32, len(payload.Embedding.Values))
	for i, value := range payload.Embedding.Values {
		vec[i] = float32(value)
	}

	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(vec))
	}

	return vec, nil
}

var _ Embedder = (*geminiEmbedder)(nil)
