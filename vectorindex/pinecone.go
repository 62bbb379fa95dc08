package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// serverlessSpecs are tried in order when the index has to be created. The
// first region that accepts the request wins.
var serverlessSpecs = []pineconeServerlessSpec{
	{Cloud: "aws", Region: "us-east-1"},
	{Cloud: "gcp", Region: "us-central1"},
	{Cloud: "aws", Region: "us-west-2"},
}

// PineconeIndex talks to a Pinecone-compatible service over REST: a control
// plane for listing/creating indexes and a per-index data plane host for
// vector operations.
type PineconeIndex struct {
	controlURL string
	apiKey     string
	indexName  string
	dimension  int
	client     *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	dataURL string
}

type pineconeServerlessSpec struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
}

type pineconeCreateRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Spec      struct {
		Serverless pineconeServerlessSpec `json:"serverless"`
	} `json:"spec"`
}

type pineconeVector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata pineconeVectorMeta `json:"metadata"`
}

type pineconeVectorMeta struct {
	OwnerID    string `json:"owner_id"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	IngestedAt string `json:"ingested_at"`
}

type pineconeUpsertRequest struct {
	Vectors []pineconeVector `json:"vectors"`
}

type pineconeQueryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string             `json:"id"`
		Score    float64            `json:"score"`
		Metadata pineconeVectorMeta `json:"metadata"`
	} `json:"matches"`
}

type pineconeDeleteRequest struct {
	Filter map[string]any `json:"filter"`
}

func NewPineconeIndex(opts Options, logger *slog.Logger) *PineconeIndex {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &PineconeIndex{
		controlURL: strings.TrimRight(opts.PineconeControlURL, "/"),
		apiKey:     opts.PineconeAPIKey,
		indexName:  opts.PineconeIndexName,
		dimension:  opts.Dimension,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// EnsureReady lists existing indexes, creates the configured one when absent,
// and resolves its data plane host. Safe to call from concurrent requests.
func (p *PineconeIndex) EnsureReady(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dataURL != "" {
		return nil
	}

	names, err := p.listIndexNames(ctx)
	if err != nil {
		return fmt.Errorf("%w: list indexes: %v", ErrUnavailable, err)
	}

	exists := false
	for _, name := range names {
		if name == p.indexName {
			exists = true
			break
		}
	}

	if !exists {
		if err := p.createIndex(ctx); err != nil {
			return err
		}
		p.logger.Info("created vector index", "index", p.indexName)
	}

	host, err := p.describeHost(ctx)
	if err != nil {
		return fmt.Errorf("%w: resolve index host: %v", ErrUnavailable, err)
	}
	p.dataURL = host

	return nil
}

func (p *PineconeIndex) createIndex(ctx context.Context) error {
	var lastErr error
	for _, spec := range serverlessSpecs {
		req := pineconeCreateRequest{
			Name:      p.indexName,
			Dimension: p.dimension,
			Metric:    "cosine",
		}
		req.Spec.Serverless = spec

		status, body, err := p.do(ctx, http.MethodPost, p.controlURL+"/indexes", req)
		if err != nil {
			lastErr = err
			continue
		}
		// 409 means another process created it first; that is fine.
		if status < 300 || status == http.StatusConflict {
			return nil
		}
		lastErr = fmt.Errorf("create index in %s/%s: status %d: %s", spec.Cloud, spec.Region, status, truncate(string(body), 200))
		p.logger.Warn("index creation attempt failed", "cloud", spec.Cloud, "region", spec.Region, "status", status)
	}

	return fmt.Errorf("%w: create index: %v", ErrUnavailable, lastErr)
}

func (p *PineconeIndex) listIndexNames(ctx context.Context) ([]string, error) {
	status, body, err := p.do(ctx, http.MethodGet, p.controlURL+"/indexes", nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("list indexes: status %d: %s", status, truncate(string(body), 200))
	}
	return parseIndexList(body)
}

func (p *PineconeIndex) describeHost(ctx context.Context) (string, error) {
	status, body, err := p.do(ctx, http.MethodGet, p.controlURL+"/indexes/"+p.indexName, nil)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("describe index: status %d: %s", status, truncate(string(body), 200))
	}

	var desc struct {
		Host string `json:"host"`
	}
	if err := json.Unmarshal(body, &desc); err != nil {
		return "", fmt.Errorf("decode describe response: %w", err)
	}
	if desc.Host == "" {
		return "", fmt.Errorf("describe response has no host")
	}
	if strings.Contains(desc.Host, "://") {
		return strings.TrimRight(desc.Host, "/"), nil
	}
	return "https://" + desc.Host, nil
}

func (p *PineconeIndex) Upsert(ctx context.Context, entries []Entry) error {
	dataURL, err := p.dataPlane()
	if err != nil {
		return err
	}

	for start := 0; start < len(entries); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		req := pineconeUpsertRequest{Vectors: make([]pineconeVector, 0, end-start)}
		for _, entry := range entries[start:end] {
			req.Vectors = append(req.Vectors, pineconeVector{
				ID:     entry.ID,
				Values: entry.Vector,
				Metadata: pineconeVectorMeta{
					OwnerID:    entry.Metadata.OwnerID,
					DocumentID: entry.Metadata.DocumentID,
					Filename:   entry.Metadata.Filename,
					ChunkIndex: entry.Metadata.ChunkIndex,
					Text:       entry.Metadata.Text,
					IngestedAt: entry.Metadata.IngestedAt.UTC().Format(time.RFC3339),
				},
			})
		}

		status, body, err := p.do(ctx, http.MethodPost, dataURL+"/vectors/upsert", req)
		if err != nil {
			return fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		if status >= 300 {
			return fmt.Errorf("upsert batch at %d: status %d: %s", start, status, truncate(string(body), 200))
		}
	}

	return nil
}

func (p *PineconeIndex) Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error) {
	dataURL, err := p.dataPlane()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 3
	}

	req := pineconeQueryRequest{
		Vector:          vector,
		TopK:            topK,
		Filter:          map[string]any{"owner_id": map[string]any{"$eq": ownerID}},
		IncludeMetadata: true,
	}

	status, body, err := p.do(ctx, http.MethodPost, dataURL+"/query", req)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("query index: status %d: %s", status, truncate(string(body), 200))
	}

	var resp pineconeQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		// Defence in depth: the filter should already guarantee this.
		if m.Metadata.OwnerID != ownerID {
			continue
		}
		ingestedAt, _ := time.Parse(time.RFC3339, m.Metadata.IngestedAt)
		matches = append(matches, Match{
			Score: m.Score,
			Metadata: Metadata{
				OwnerID:    m.Metadata.OwnerID,
				DocumentID: m.Metadata.DocumentID,
				Filename:   m.Metadata.Filename,
				ChunkIndex: m.Metadata.ChunkIndex,
				Text:       m.Metadata.Text,
				IngestedAt: ingestedAt,
			},
		})
	}

	return matches, nil
}

func (p *PineconeIndex) DeleteDocument(ctx context.Context, ownerID, documentID string) error {
	dataURL, err := p.dataPlane()
	if err != nil {
		return err
	}

	req := pineconeDeleteRequest{
		Filter: map[string]any{
			"owner_id":    map[string]any{"$eq": ownerID},
			"document_id": map[string]any{"$eq": documentID},
		},
	}

	status, body, err := p.do(ctx, http.MethodPost, dataURL+"/vectors/delete", req)
	if err != nil {
		return fmt.Errorf("delete document vectors: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("delete document vectors: status %d: %s", status, truncate(string(body), 200))
	}

	return nil
}

func (p *PineconeIndex) dataPlane() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dataURL == "" {
		return "", ErrUnavailable
	}
	return p.dataURL, nil
}

func (p *PineconeIndex) do(ctx context.Context, method, url string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Api-Key", p.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

// parseIndexList tolerates the reply shapes the service has used across API
// revisions: an object holding an "indexes" array, a bare array, and index
// entries that are either plain names or objects with a "name" field. All of
// them normalize to a list of names.
func parseIndexList(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode index list: %w", err)
		}
	} else {
		var wrapper struct {
			Indexes []json.RawMessage `json:"indexes"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("decode index list: %w", err)
		}
		raw = wrapper.Indexes
	}

	names := make([]string, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			if name != "" {
				names = append(names, name)
			}
			continue
		}

		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("decode index list entry: %w", err)
		}
		if obj.Name != "" {
			names = append(names, obj.Name)
		}
	}

	return names, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Index = (*PineconeIndex)(nil)
