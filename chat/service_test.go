package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pberga/coursemind/embeddings"
	"github.com/pberga/coursemind/llm"
	"github.com/pberga/coursemind/vectorindex"
)

type stubIndex struct {
	matches  []vectorindex.Match
	queryErr error
	readyErr error

	lastOwner string
	lastTopK  int
}

func (s *stubIndex) EnsureReady(ctx context.Context) error { return s.readyErr }

func (s *stubIndex) Upsert(ctx context.Context, entries []vectorindex.Entry) error { return nil }

func (s *stubIndex) Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]vectorindex.Match, error) {
	s.lastOwner = ownerID
	s.lastTopK = topK
	return s.matches, s.queryErr
}

func (s *stubIndex) DeleteDocument(ctx context.Context, ownerID, documentID string) error { return nil }

var _ vectorindex.Index = (*stubIndex)(nil)

type stubEmbedder struct {
	degraded bool
	err      error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) (*embeddings.Batch, error) {
	if s.err != nil {
		return nil, s.err
	}
	batch := &embeddings.Batch{Vectors: make([][]float32, len(texts))}
	for i := range texts {
		batch.Vectors[i] = []float32{0.5, 0.5, 0.5}
	}
	if s.degraded {
		batch.Failed = []int{0}
	}
	return batch, nil
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

type stubLLM struct {
	answer string
	err    error

	calls    int
	messages [][]llm.Message
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	s.calls++
	s.messages = append(s.messages, messages)
	return s.answer, s.err
}

var _ llm.Client = (*stubLLM)(nil)

func match(filename, text string, score float64) vectorindex.Match {
	return vectorindex.Match{
		Score: score,
		Metadata: vectorindex.Metadata{
			OwnerID:  "alice",
			Filename: filename,
			Text:     text,
		},
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	svc := NewService(&stubIndex{}, &stubEmbedder{}, &stubLLM{}, nil)

	for _, question := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Ask(context.Background(), "alice", question, 3); !errors.Is(err, ErrEmptyQuestion) {
			t.Fatalf("question %q: expected ErrEmptyQuestion, got %v", question, err)
		}
	}
}

func TestAskRequiresOwner(t *testing.T) {
	svc := NewService(&stubIndex{}, &stubEmbedder{}, &stubLLM{}, nil)

	if _, err := svc.Ask(context.Background(), "", "what is a limit?", 3); err == nil {
		t.Fatal("expected error for missing owner id")
	}
}

func TestAskWithoutMatchesReturnsFixedAnswer(t *testing.T) {
	model := &stubLLM{answer: "should not be used"}
	svc := NewService(&stubIndex{}, &stubEmbedder{}, model, nil)

	resp, err := svc.Ask(context.Background(), "alice", "what is a limit?", 3)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if resp.Answer != noContextAnswer {
		t.Fatalf("expected the fixed no-context answer, got %q", resp.Answer)
	}
	if resp.HasContext {
		t.Fatal("HasContext must be false without matches")
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(resp.Sources))
	}
	if model.calls != 0 {
		t.Fatal("the language model must not be called without context")
	}
}

func TestAskAnswersFromContext(t *testing.T) {
	index := &stubIndex{matches: []vectorindex.Match{
		match("calculus.pdf", "A limit describes the value a function approaches.", 0.92),
		match("week2.pdf", "Limits underpin the definition of the derivative.", 0.85),
	}}
	model := &stubLLM{answer: "A limit is the value a function approaches."}
	svc := NewService(index, &stubEmbedder{}, model, nil)

	resp, err := svc.Ask(context.Background(), "alice", "what is a limit?", 3)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if resp.Answer != model.answer {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if !resp.HasContext || resp.ChunksUsed != 2 {
		t.Fatalf("expected HasContext with 2 chunks, got %+v", resp)
	}
	if len(resp.Sources) != 2 || resp.Sources[0].Filename != "calculus.pdf" {
		t.Fatalf("unexpected sources: %+v", resp.Sources)
	}
	if resp.Sources[0].Score != 0.92 {
		t.Fatalf("source should carry the match score, got %v", resp.Sources[0].Score)
	}

	if model.calls != 1 {
		t.Fatalf("expected 1 model call, got %d", model.calls)
	}
	prompt := model.messages[0][0].Content
	if !strings.Contains(prompt, "From calculus.pdf:") || !strings.Contains(prompt, "From week2.pdf:") {
		t.Fatal("prompt should cite each source filename")
	}
	if !strings.Contains(prompt, "what is a limit?") {
		t.Fatal("prompt should contain the question")
	}
}

func TestAskDegradesToApologyOnModelFailure(t *testing.T) {
	index := &stubIndex{matches: []vectorindex.Match{match("calculus.pdf", "some chunk", 0.9)}}
	model := &stubLLM{err: errors.New("model overloaded")}
	svc := NewService(index, &stubEmbedder{}, model, nil)

	resp, err := svc.Ask(context.Background(), "alice", "what is a limit?", 3)
	if err != nil {
		t.Fatalf("a model failure must not fail the request: %v", err)
	}

	if resp.Answer != apologyAnswer {
		t.Fatalf("expected the apology answer, got %q", resp.Answer)
	}
	if !resp.HasContext {
		t.Fatal("HasContext stays true: retrieval succeeded")
	}
	if len(resp.Sources) != 1 {
		t.Fatal("sources are still reported on model failure")
	}
}

func TestAskDegradesToApologyOnEmptyModelAnswer(t *testing.T) {
	index := &stubIndex{matches: []vectorindex.Match{match("calculus.pdf", "some chunk", 0.9)}}
	svc := NewService(index, &stubEmbedder{}, &stubLLM{answer: "   "}, nil)

	resp, err := svc.Ask(context.Background(), "alice", "what is a limit?", 3)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != apologyAnswer {
		t.Fatalf("expected the apology answer, got %q", resp.Answer)
	}
}

func TestAskTruncatesSourcePreviews(t *testing.T) {
	long := strings.Repeat("x", 500)
	index := &stubIndex{matches: []vectorindex.Match{match("calculus.pdf", long, 0.9)}}
	svc := NewService(index, &stubEmbedder{}, &stubLLM{answer: "ok"}, nil)

	resp, err := svc.Ask(context.Background(), "alice", "what is a limit?", 3)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	preview := resp.Sources[0].Preview
	if len(preview) != previewLength+len("...") {
		t.Fatalf("expected %d-char preview plus ellipsis, got %d", previewLength, len(preview))
	}
	if !strings.HasSuffix(preview, "...") {
		t.Fatal("truncated preview should end with an ellipsis")
	}
}

func TestAskPreviewKeepsRunesIntact(t *testing.T) {
	long := strings.Repeat("微積分の基礎", 50)
	index := &stubIndex{matches: []vectorindex.Match{match("notes.pdf", long, 0.9)}}
	svc := NewService(index, &stubEmbedder{}, &stubLLM{answer: "ok"}, nil)

	resp, err := svc.Ask(context.Background(), "alice", "何ですか", 3)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	preview := resp.Sources[0].Preview
	if !utf8.ValidString(preview) {
		t.Fatalf("preview splits a multi-byte rune: %q", preview)
	}
	if !strings.HasSuffix(preview, "...") {
		t.Fatal("truncated preview should end with an ellipsis")
	}
	if len(preview) > previewLength+len("...") {
		t.Fatalf("preview too long: %d bytes", len(preview))
	}
}

func TestAskClampsTopK(t *testing.T) {
	cases := []struct {
		name string
		topK int
		want int
	}{
		{"zero defaults", 0, DefaultTopK},
		{"negative defaults", -5, DefaultTopK},
		{"capped", 50, MaxTopK},
		{"passed through", 7, 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			index := &stubIndex{}
			svc := NewService(index, &stubEmbedder{}, &stubLLM{}, nil)

			if _, err := svc.Ask(context.Background(), "alice", "question", tc.topK); err != nil {
				t.Fatalf("Ask: %v", err)
			}
			if index.lastTopK != tc.want {
				t.Fatalf("expected topK %d, got %d", tc.want, index.lastTopK)
			}
		})
	}
}

func TestAskRefusesDegradedQuestionEmbedding(t *testing.T) {
	index := &stubIndex{matches: []vectorindex.Match{match("calculus.pdf", "chunk", 0.9)}}
	svc := NewService(index, &stubEmbedder{degraded: true}, &stubLLM{}, nil)

	if _, err := svc.Ask(context.Background(), "alice", "question", 3); err == nil {
		t.Fatal("a degraded question embedding must refuse instead of searching with noise")
	}
}

func TestAskPropagatesIndexUnavailable(t *testing.T) {
	index := &stubIndex{readyErr: vectorindex.ErrUnavailable}
	svc := NewService(index, &stubEmbedder{}, &stubLLM{}, nil)

	if _, err := svc.Ask(context.Background(), "alice", "question", 3); !errors.Is(err, vectorindex.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSearchReturnsRawMatches(t *testing.T) {
	index := &stubIndex{matches: []vectorindex.Match{match("calculus.pdf", "chunk", 0.9)}}
	model := &stubLLM{}
	svc := NewService(index, &stubEmbedder{}, model, nil)

	matches, err := svc.Search(context.Background(), "alice", "limits", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].Metadata.Filename != "calculus.pdf" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if index.lastOwner != "alice" {
		t.Fatalf("search must filter by owner, got %q", index.lastOwner)
	}
	if model.calls != 0 {
		t.Fatal("search must not call the language model")
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	svc := NewService(&stubIndex{}, &stubEmbedder{}, &stubLLM{}, nil)

	if _, err := svc.Search(context.Background(), "alice", "  ", 5); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestGeneralChatUsesTutorPersona(t *testing.T) {
	model := &stubLLM{answer: "Gladly, let's go step by step."}
	svc := NewService(&stubIndex{}, &stubEmbedder{}, model, nil)

	answer, err := svc.GeneralChat(context.Background(), "explain recursion")
	if err != nil {
		t.Fatalf("GeneralChat: %v", err)
	}
	if answer != model.answer {
		t.Fatalf("unexpected answer: %q", answer)
	}

	messages := model.messages[0]
	if len(messages) != 2 || messages[0].Role != llm.RoleSystem {
		t.Fatalf("expected system persona plus user message, got %+v", messages)
	}
	if messages[0].Content != tutorPersona {
		t.Fatal("system message should carry the tutor persona")
	}
	if messages[1].Content != "explain recursion" {
		t.Fatalf("unexpected user message: %q", messages[1].Content)
	}
}

func TestGeneralChatFallsBackOnModelFailure(t *testing.T) {
	model := &stubLLM{err: errors.New("model down")}
	svc := NewService(&stubIndex{}, &stubEmbedder{}, model, nil)

	answer, err := svc.GeneralChat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("a model failure degrades to a fallback, not an error: %v", err)
	}
	if answer != generalChatFallback {
		t.Fatalf("expected the fallback answer, got %q", answer)
	}
}

func TestGeneralChatRejectsEmptyMessage(t *testing.T) {
	svc := NewService(&stubIndex{}, &stubEmbedder{}, &stubLLM{}, nil)

	if _, err := svc.GeneralChat(context.Background(), "  "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}
