package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pberga/coursemind/chat"
	"github.com/pberga/coursemind/database"
	"github.com/pberga/coursemind/ingestion"
	"github.com/pberga/coursemind/vectorindex"
)

// Ingestor runs the document ingestion pipeline and document deletion.
type Ingestor interface {
	Ingest(ctx context.Context, req ingestion.Request) (*ingestion.Result, error)
	Delete(ctx context.Context, ownerID, documentID string) (*database.Document, error)
}

// Answerer serves question answering, raw search, and the context-free chat.
type Answerer interface {
	Ask(ctx context.Context, ownerID, question string, topK int) (*chat.Response, error)
	Search(ctx context.Context, ownerID, query string, topK int) ([]vectorindex.Match, error)
	GeneralChat(ctx context.Context, message string) (string, error)
}

// DocumentLister lists a user's uploaded course materials.
type DocumentLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]database.Document, error)
}

// Server exposes the HTTP API. All collaborators are injected once at
// construction; handlers never build their own clients.
type Server struct {
	ingestor  Ingestor
	answerer  Answerer
	documents DocumentLister
	identity  Identity
	logger    *slog.Logger
	handler   http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	Message       string   `json:"message"`
	CourseID      string   `json:"course_id"`
	DocumentID    string   `json:"document_id"`
	ChunksCreated int      `json:"chunks_created"`
	Filename      string   `json:"filename"`
	Warnings      []string `json:"warnings,omitempty"`
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type askResponse struct {
	Answer     string       `json:"answer"`
	Sources    []sourceJSON `json:"sources"`
	HasContext bool         `json:"has_context"`
	ChunksUsed int          `json:"chunks_used,omitempty"`
}

type sourceJSON struct {
	Filename       string  `json:"filename"`
	RelevanceScore float64 `json:"relevance_score"`
	Preview        string  `json:"preview"`
}

type searchResponse struct {
	Query        string            `json:"query"`
	Results      []searchMatchJSON `json:"results"`
	TotalResults int               `json:"total_results"`
}

type searchMatchJSON struct {
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunk_index"`
}

type documentJSON struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	UploadDate  string `json:"upload_date"`
	FileSize    int64  `json:"file_size"`
	TotalChunks int    `json:"total_chunks"`
	Status      string `json:"status"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type deleteResponse struct {
	Message           string `json:"message"`
	DeletedDocumentID string `json:"deleted_document_id"`
}

func New(ingestor Ingestor, answerer Answerer, documents DocumentLister, identity Identity, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if identity == nil {
		identity = HeaderIdentity{}
	}

	s := &Server{
		ingestor:  ingestor,
		answerer:  answerer,
		documents: documents,
		identity:  identity,
		logger:    logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/courses/upload", s.handleUpload)
	mux.HandleFunc("POST /v1/courses/ask", s.handleAsk)
	mux.HandleFunc("GET /v1/courses/search", s.handleSearch)
	mux.HandleFunc("GET /v1/courses/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /v1/courses/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /v1/chat", s.handleGeneralChat)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	// Leave headroom for the multipart framing around a max-size document.
	r.Body = http.MaxBytesReader(w, r.Body, ingestion.MaxUploadBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read uploaded file: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read uploaded file: %w", err))
		return
	}

	courseID := strings.TrimSpace(r.FormValue("course_id"))
	if courseID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("course_id is required"))
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), ingestion.Request{
		OwnerID:  owner,
		CourseID: courseID,
		Filename: header.Filename,
		Data:     data,
	})
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Message:       fmt.Sprintf("Document %q processed successfully", result.Filename),
		CourseID:      courseID,
		DocumentID:    result.DocumentID,
		ChunksCreated: result.ChunkCount,
		Filename:      result.Filename,
		Warnings:      result.Warnings,
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	resp, err := s.answerer.Ask(r.Context(), owner, req.Question, req.TopK)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	sources := make([]sourceJSON, 0, len(resp.Sources))
	for _, src := range resp.Sources {
		sources = append(sources, sourceJSON{
			Filename:       src.Filename,
			RelevanceScore: src.Score,
			Preview:        src.Preview,
		})
	}

	s.writeJSON(w, http.StatusOK, askResponse{
		Answer:     resp.Answer,
		Sources:    sources,
		HasContext: resp.HasContext,
		ChunksUsed: resp.ChunksUsed,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("query")
	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("top_k must be an integer"))
			return
		}
		topK = parsed
	}

	matches, err := s.answerer.Search(r.Context(), owner, query, topK)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	results := make([]searchMatchJSON, 0, len(matches))
	for _, match := range matches {
		results = append(results, searchMatchJSON{
			Filename:   match.Metadata.Filename,
			Text:       match.Metadata.Text,
			Score:      match.Score,
			ChunkIndex: match.Metadata.ChunkIndex,
		})
	}

	s.writeJSON(w, http.StatusOK, searchResponse{
		Query:        query,
		Results:      results,
		TotalResults: len(results),
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	docs, err := s.documents.ListByOwner(r.Context(), owner)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	payload := make([]documentJSON, 0, len(docs))
	for _, doc := range docs {
		payload = append(payload, documentJSON{
			ID:          doc.ID,
			Filename:    doc.Filename,
			UploadDate:  doc.UploadedAt.UTC().Format(time.RFC3339),
			FileSize:    doc.FileSize,
			TotalChunks: doc.ChunkCount,
			Status:      doc.Status(),
		})
	}

	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	documentID := r.PathValue("id")
	doc, err := s.ingestor.Delete(r.Context(), owner, documentID)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, deleteResponse{
		Message:           fmt.Sprintf("Document %q deleted successfully", doc.Filename),
		DeletedDocumentID: doc.ID,
	})
}

func (s *Server) handleGeneralChat(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.owner(w, r); !ok {
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	answer, err := s.answerer.GeneralChat(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{Response: answer})
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := s.identity.OwnerID(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return "", false
	}
	return owner, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ingestion.ErrEmptyFile),
		errors.Is(err, ingestion.ErrFileTooLarge),
		errors.Is(err, ingestion.ErrUnsupportedType),
		errors.Is(err, ingestion.ErrNoText),
		errors.Is(err, chat.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, vectorindex.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("api error", "status", status, "error", err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
