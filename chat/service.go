package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pberga/coursemind/embeddings"
	"github.com/pberga/coursemind/llm"
	"github.com/pberga/coursemind/vectorindex"
)

const (
	// DefaultTopK is how many chunks back an answer unless the caller asks
	// for more; MaxTopK is the hard cap.
	DefaultTopK = 3
	MaxTopK     = 10

	previewLength = 200
)

// ErrEmptyQuestion rejects blank questions and search queries.
var ErrEmptyQuestion = errors.New("question cannot be empty")

type Service struct {
	index    vectorindex.Index
	embedder embeddings.Embedder
	llm      llm.Client
	logger   *slog.Logger
}

func NewService(index vectorindex.Index, embedder embeddings.Embedder, llmClient llm.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		index:    index,
		embedder: embedder,
		llm:      llmClient,
		logger:   logger,
	}
}

// Ask answers a question from the owner's indexed course materials. Zero
// matches produce a fixed no-information answer; a language model failure
// degrades to a fixed apology while the sources are still reported.
func (s *Service) Ask(ctx context.Context, ownerID, question string, topK int) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	matches, err := s.retrieve(ctx, ownerID, question, topK)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return &Response{Answer: noContextAnswer, Sources: []Source{}, HasContext: false}, nil
	}

	prompt := buildAnswerPrompt(question, buildContext(matches))

	answer, err := s.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			s.logger.Error("language model call failed", "error", err)
		}
		answer = apologyAnswer
	}

	sources := make([]Source, 0, len(matches))
	for _, match := range matches {
		sources = append(sources, Source{
			Filename: match.Metadata.Filename,
			Score:    match.Score,
			Preview:  preview(match.Metadata.Text),
		})
	}

	return &Response{
		Answer:     strings.TrimSpace(answer),
		Sources:    sources,
		HasContext: true,
		ChunksUsed: len(matches),
	}, nil
}

// Search returns raw ranked chunk matches without language-model synthesis.
func (s *Service) Search(ctx context.Context, ownerID, query string, topK int) ([]vectorindex.Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuestion
	}
	return s.retrieve(ctx, ownerID, query, topK)
}

// GeneralChat answers a question with the tutoring persona and no document
// context. It must never claim document-backed authority.
func (s *Service) GeneralChat(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyQuestion
	}

	answer, err := s.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: tutorPersona},
		{Role: llm.RoleUser, Content: message},
	})
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			s.logger.Error("language model call failed", "error", err)
		}
		return generalChatFallback, nil
	}

	return strings.TrimSpace(answer), nil
}

func (s *Service) retrieve(ctx context.Context, ownerID, query string, topK int) ([]vectorindex.Match, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	if err := s.index.EnsureReady(ctx); err != nil {
		return nil, err
	}

	batch, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(batch.Vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one question", len(batch.Vectors))
	}
	// A degraded question embedding would search with a zero vector and
	// return noise; refuse instead.
	if batch.Degraded() {
		return nil, fmt.Errorf("embed question: embedding service degraded")
	}

	matches, err := s.index.Query(ctx, batch.Vectors[0], ownerID, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	return matches, nil
}

func preview(text string) string {
	if len(text) <= previewLength {
		return text
	}
	cut := previewLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
