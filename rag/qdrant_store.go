package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QdrantConfig configures the Qdrant Backend implementation.
//
// Notes:
// - Qdrant point IDs are UUIDs; DocPilot derives a stable UUID from StoredDocument.ID.
// - Document content/metadata are stored in payload (best-effort JSON).
type QdrantConfig struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key,omitempty"`
	Collection string        `json:"collection"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	Distance             string `json:"distance,omitempty"`    // Cosine (default), Dot, Euclid
	VectorSize           int    `json:"vector_size,omitempty"` // Optional override; defaults to len(embedding)
	PayloadContentField  string `json:"payload_content_field"` // Payload key for document content (default "content")
	PayloadMetadataField string `json:"payload_metadata_field"`
	PayloadIDField       string `json:"payload_id_field"` // Payload key for original document ID (default "doc_id")
}

// QdrantBackend implements Backend using Qdrant's REST API.
type QdrantBackend struct {
	cfg QdrantConfig

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantBackend creates a Qdrant-backed vector store backend.
func NewQdrantBackend(cfg QdrantConfig, logger *zap.Logger) *QdrantBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if cfg.PayloadContentField == "" {
		cfg.PayloadContentField = "content"
	}
	if cfg.PayloadMetadataField == "" {
		cfg.PayloadMetadataField = "metadata"
	}
	if cfg.PayloadIDField == "" {
		cfg.PayloadIDField = "doc_id"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}

	return &QdrantBackend{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_backend")),
	}
}

func (s *QdrantBackend) Name() string { return "qdrant" }

var qdrantNamespace = uuid.MustParse("2f1c7c6e-9a34-4d1b-b7e3-6c0d5a8f9b21")

func qdrantPointID(docID string) string {
	// Stable UUID derived from document ID (supports any string input).
	return uuid.NewSHA1(qdrantNamespace, []byte(docID)).String()
}

func (s *QdrantBackend) ensureCollection(ctx context.Context, vectorSize int) error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}
	if vectorSize <= 0 {
		return fmt.Errorf("qdrant vector size must be > 0")
	}

	s.ensureOnce.Do(func() {
		// Collection creation is idempotent via the exists check.
		path := fmt.Sprintf("/collections/%s/exists", url.PathEscape(s.cfg.Collection))
		var existsResp struct {
			Result struct {
				Exists bool `json:"exists"`
			} `json:"result"`
		}
		if err := s.doJSON(ctx, http.MethodGet, path, nil, &existsResp); err != nil {
			s.ensureErr = err
			return
		}
		if existsResp.Result.Exists {
			return
		}

		body := map[string]any{
			"vectors": map[string]any{
				"size":     vectorSize,
				"distance": s.cfg.Distance,
			},
		}
		createPath := fmt.Sprintf("/collections/%s", url.PathEscape(s.cfg.Collection))
		if err := s.doJSON(ctx, http.MethodPut, createPath, body, nil); err != nil {
			s.ensureErr = err
			return
		}
		s.logger.Info("qdrant collection created",
			zap.String("collection", s.cfg.Collection),
			zap.Int("vector_size", vectorSize))
	})
	return s.ensureErr
}

func (s *QdrantBackend) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		// Qdrant convention.
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantBackend) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Upsert writes documents as Qdrant points, waiting for completion.
func (s *QdrantBackend) Upsert(ctx context.Context, docs []StoredDocument) error {
	if len(docs) == 0 {
		return nil
	}

	// Validate embeddings and determine vector size.
	vectorSize := s.cfg.VectorSize
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document[%d] has no embedding", i)
		}
		if vectorSize == 0 {
			vectorSize = len(doc.Embedding)
		}
		if len(doc.Embedding) != vectorSize {
			return fmt.Errorf("document[%d] embedding dimension mismatch: got=%d want=%d", i, len(doc.Embedding), vectorSize)
		}
	}

	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}

	points := make([]point, 0, len(docs))
	for _, doc := range docs {
		payload := map[string]any{
			s.cfg.PayloadIDField:      doc.ID,
			s.cfg.PayloadContentField: doc.Content,
		}
		if doc.Metadata != nil {
			payload[s.cfg.PayloadMetadataField] = doc.Metadata
		}
		points = append(points, point{
			ID:      qdrantPointID(doc.ID),
			Vector:  doc.Embedding,
			Payload: payload,
		})
	}

	req := struct {
		Points []point `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(docs)))
	return nil
}

// Query searches the collection. The score threshold is applied server-side
// via the search request.
func (s *QdrantBackend) Query(ctx context.Context, embedding []float64, topK int, scoreThreshold float64) ([]SearchResult, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}

	req := struct {
		Vector         []float64 `json:"vector"`
		Limit          int       `json:"limit"`
		ScoreThreshold float64   `json:"score_threshold,omitempty"`
		WithPayload    bool      `json:"with_payload"`
		WithVector     bool      `json:"with_vector"`
	}{
		Vector:         embedding,
		Limit:          topK,
		ScoreThreshold: scoreThreshold,
		WithPayload:    true,
		WithVector:     false,
	}

	type qdrantResult struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	var resp struct {
		Result []qdrantResult `json:"result"`
		Status string         `json:"status"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		doc := StoredDocument{}

		// Recover original doc ID from payload (preferred).
		if r.Payload != nil {
			if v, ok := r.Payload[s.cfg.PayloadIDField]; ok {
				if str, ok := v.(string); ok {
					doc.ID = str
				}
			}
			if v, ok := r.Payload[s.cfg.PayloadContentField]; ok {
				if str, ok := v.(string); ok {
					doc.Content = str
				}
			}
			if v, ok := r.Payload[s.cfg.PayloadMetadataField]; ok {
				if m, ok := v.(map[string]any); ok {
					doc.Metadata = m
				}
			}
		}

		if doc.ID == "" {
			// Fallback to point ID if payload does not include doc_id.
			doc.ID = fmt.Sprint(r.ID)
		}

		out = append(out, SearchResult{
			Document: doc,
			Score:    r.Score,
			Distance: 1.0 - r.Score,
		})
	}

	return out, nil
}

// Clear removes every point in the collection but keeps the collection itself.
func (s *QdrantBackend) Clear(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}

	req := map[string]any{
		"filter": map[string]any{},
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(s.cfg.Collection))
	return s.doJSON(ctx, http.MethodPost, path, req, nil)
}

// Count returns the exact number of points.
func (s *QdrantBackend) Count(ctx context.Context) (int, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return 0, fmt.Errorf("qdrant collection is required")
	}

	req := struct {
		Exact bool `json:"exact"`
	}{Exact: true}

	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// HealthCheck probes the collections endpoint to verify connectivity.
func (s *QdrantBackend) HealthCheck(ctx context.Context) error {
	return s.doJSON(ctx, http.MethodGet, "/collections", nil, nil)
}
