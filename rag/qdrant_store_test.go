package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// qdrantFake captures requests and serves canned Qdrant REST responses.
type qdrantFake struct {
	mux        *http.ServeMux
	upserted   []map[string]any
	searchReqs []map[string]any
	exists     bool
	created    bool
}

func newQdrantFake(t *testing.T) (*qdrantFake, *httptest.Server) {
	f := &qdrantFake{mux: http.NewServeMux(), exists: false}

	f.mux.HandleFunc("GET /collections", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"collections": []any{}}})
	})
	f.mux.HandleFunc("GET /collections/docs/exists", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"exists": f.exists}})
	})
	f.mux.HandleFunc("PUT /collections/docs", func(w http.ResponseWriter, r *http.Request) {
		f.created = true
		f.exists = true
		json.NewEncoder(w).Encode(map[string]any{"result": true})
	})
	f.mux.HandleFunc("PUT /collections/docs/points", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []map[string]any `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.upserted = append(f.upserted, body.Points...)
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})
	})
	f.mux.HandleFunc("POST /collections/docs/points/search", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.searchReqs = append(f.searchReqs, req)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"result": []map[string]any{
				{
					"id":    "uuid-1",
					"score": 0.92,
					"payload": map[string]any{
						"doc_id":   "chunk-1",
						"content":  "first chunk",
						"metadata": map[string]any{"heading_path": "Guide > Auth"},
					},
				},
				{
					"id":      "uuid-2",
					"score":   0.61,
					"payload": map[string]any{"doc_id": "chunk-2", "content": "second chunk"},
				},
			},
		})
	})
	f.mux.HandleFunc("POST /collections/docs/points/count", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"count": len(f.upserted)}})
	})
	f.mux.HandleFunc("POST /collections/docs/points/delete", func(w http.ResponseWriter, r *http.Request) {
		f.upserted = nil
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})
	})

	server := httptest.NewServer(f.mux)
	t.Cleanup(server.Close)
	return f, server
}

func testQdrantBackend(serverURL string) *QdrantBackend {
	return NewQdrantBackend(QdrantConfig{
		BaseURL:    serverURL,
		Collection: "docs",
	}, zap.NewNop())
}

func TestQdrantBackend_UpsertCreatesCollection(t *testing.T) {
	fake, server := newQdrantFake(t)
	backend := testQdrantBackend(server.URL)

	ctx := context.Background()
	err := backend.Upsert(ctx, []StoredDocument{
		{ID: "chunk-1", Content: "first chunk", Embedding: []float64{0.1, 0.2, 0.3}},
	})
	require.NoError(t, err)

	assert.True(t, fake.created)
	require.Len(t, fake.upserted, 1)

	point := fake.upserted[0]
	// Point IDs are UUIDs derived from the document ID.
	assert.Equal(t, qdrantPointID("chunk-1"), point["id"])
	payload := point["payload"].(map[string]any)
	assert.Equal(t, "chunk-1", payload["doc_id"])
	assert.Equal(t, "first chunk", payload["content"])
}

func TestQdrantBackend_UpsertValidation(t *testing.T) {
	_, server := newQdrantFake(t)
	backend := testQdrantBackend(server.URL)

	ctx := context.Background()
	assert.Error(t, backend.Upsert(ctx, []StoredDocument{{Content: "no id", Embedding: []float64{1}}}))
	assert.Error(t, backend.Upsert(ctx, []StoredDocument{{ID: "x"}}))
	assert.Error(t, backend.Upsert(ctx, []StoredDocument{
		{ID: "a", Embedding: []float64{1, 2}},
		{ID: "b", Embedding: []float64{1}},
	}))

	// Empty input is a no-op.
	assert.NoError(t, backend.Upsert(ctx, nil))
}

func TestQdrantBackend_QueryParsesPayload(t *testing.T) {
	fake, server := newQdrantFake(t)
	backend := testQdrantBackend(server.URL)

	results, err := backend.Query(context.Background(), []float64{0.1, 0.2, 0.3}, 5, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 阈值随请求下发，由服务端过滤
	require.Len(t, fake.searchReqs, 1)
	assert.Equal(t, 0.7, fake.searchReqs[0]["score_threshold"])
	assert.Equal(t, float64(5), fake.searchReqs[0]["limit"])

	assert.Equal(t, "chunk-1", results[0].Document.ID)
	assert.Equal(t, "first chunk", results[0].Document.Content)
	assert.Equal(t, "Guide > Auth", results[0].Document.Metadata["heading_path"])
	assert.InDelta(t, 0.92, results[0].Score, 1e-9)
	assert.InDelta(t, 0.08, results[0].Distance, 1e-9)

	assert.Equal(t, "chunk-2", results[1].Document.ID)
	assert.Nil(t, results[1].Document.Metadata)
}

func TestQdrantBackend_QueryEdgeCases(t *testing.T) {
	_, server := newQdrantFake(t)
	backend := testQdrantBackend(server.URL)

	ctx := context.Background()

	results, err := backend.Query(ctx, []float64{1}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = backend.Query(ctx, nil, 5, 0)
	assert.Error(t, err)
}

func TestQdrantBackend_CountAndClear(t *testing.T) {
	fake, server := newQdrantFake(t)
	fake.exists = true
	backend := testQdrantBackend(server.URL)

	ctx := context.Background()
	require.NoError(t, backend.Upsert(ctx, []StoredDocument{
		{ID: "a", Embedding: []float64{1}},
		{ID: "b", Embedding: []float64{2}},
	}))

	count, err := backend.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, backend.Clear(ctx))
	count, err = backend.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestQdrantBackend_HealthCheck(t *testing.T) {
	_, server := newQdrantFake(t)
	backend := testQdrantBackend(server.URL)

	assert.NoError(t, backend.HealthCheck(context.Background()))

	down := NewQdrantBackend(QdrantConfig{BaseURL: "http://127.0.0.1:1", Collection: "docs"}, zap.NewNop())
	assert.Error(t, down.HealthCheck(context.Background()))
}

func TestQdrantBackend_ServerErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"wrong vector size"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	backend := testQdrantBackend(server.URL)
	_, err := backend.Query(context.Background(), []float64{1}, 5, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
}

func TestQdrantPointID_Stable(t *testing.T) {
	assert.Equal(t, qdrantPointID("doc-1"), qdrantPointID("doc-1"))
	assert.NotEqual(t, qdrantPointID("doc-1"), qdrantPointID("doc-2"))
	// Valid UUID shape.
	assert.Len(t, qdrantPointID("anything"), 36)
}
