package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// fakeQdrant is an in-memory stand-in for the subset of the Qdrant REST API
// the store uses.
type fakeQdrant struct {
	mu      sync.Mutex
	size    int
	exists  bool
	points  map[string]qdrantPoint
	indexed []string
	apiKey  string
	// failNext makes the next n requests answer 503.
	failNext atomic.Int32
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{points: make(map[string]qdrantPoint), apiKey: "secret"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"title": "qdrant"})
	})
	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		reply(w, map[string]any{
			"points_count": len(f.points),
			"config": map[string]any{"params": map[string]any{
				"vectors": map[string]any{"size": f.size, "distance": "Cosine"},
			}},
		})
	})
	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.exists, f.size = true, body.Vectors.Size
		f.mu.Unlock()
		reply(w, true)
	})
	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.exists = false
		f.points = make(map[string]qdrantPoint)
		f.mu.Unlock()
		reply(w, true)
	})
	mux.HandleFunc("PUT /collections/{name}/index", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FieldName string `json:"field_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.indexed = append(f.indexed, body.FieldName)
		f.mu.Unlock()
		reply(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		f.mu.Unlock()
		reply(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vector []float32     `json:"vector"`
			Limit  int           `json:"limit"`
			Filter *qdrantFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		var out []qdrantScoredPoint
		for _, p := range f.matching(body.Filter) {
			out = append(out, qdrantScoredPoint{ID: p.ID, Score: cosineSim(body.Vector, p.Vector), Payload: p.Payload})
		}
		f.mu.Unlock()
		sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		if len(out) > body.Limit {
			out = out[:body.Limit]
		}
		reply(w, out)
	})
	mux.HandleFunc("POST /collections/{name}/points/count", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filter *qdrantFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		n := len(f.matching(body.Filter))
		f.mu.Unlock()
		reply(w, map[string]any{"count": n})
	})
	mux.HandleFunc("POST /collections/{name}/points/delete", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filter *qdrantFilter `json:"filter"`
			Points []string      `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		if body.Filter != nil {
			for _, p := range f.matching(body.Filter) {
				delete(f.points, p.ID)
			}
		}
		for _, id := range body.Points {
			delete(f.points, id)
		}
		f.mu.Unlock()
		reply(w, map[string]any{"status": "completed"})
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != f.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if f.failNext.Load() > 0 {
			f.failNext.Add(-1)
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) snapshot() (exists bool, points int, indexed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, len(f.points), append([]string(nil), f.indexed...)
}

// matching must be called with mu held.
func (f *fakeQdrant) matching(filter *qdrantFilter) []qdrantPoint {
	var out []qdrantPoint
	for _, p := range f.points {
		ok := true
		if filter != nil {
			for _, c := range filter.Must {
				if p.Payload[c.Key] != c.Match.Value {
					ok = false
				}
			}
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}

func reply(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func cosineSim(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func newTestQdrant(t *testing.T, srv *httptest.Server, key string) *QdrantStore {
	t.Helper()
	store, err := NewQdrantStore(QdrantOptions{
		URL:        srv.URL,
		APIKey:     key,
		Collection: "test",
		Retry:      rag.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, AttemptTimeout: time.Second},
	})
	if err != nil {
		t.Fatalf("NewQdrantStore: %v", err)
	}
	return store
}

func TestQdrantStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeQdrant(t)
	store := newTestQdrant(t, srv, "secret")

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := store.EnsureSchema(ctx, testDims); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, _, indexed := fake.snapshot(); len(indexed) != 1 || indexed[0] != "source" {
		t.Errorf("expected keyword index on source, got %v", indexed)
	}

	entries := []Entry{
		entry("chunk-a", "a.md", "qdrant stores vectors for search", 0),
		entry("chunk-b", "a.md", "qdrant filters on payload fields", 1),
		entry("chunk-c", "b.md", "an unrelated paragraph about cooking", 0),
	}
	if err := store.Upsert(ctx, entries); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := store.Search(ctx, deterministicVector(entries[0].Text), 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != "chunk-a" {
		t.Errorf("best hit: got %s, want chunk-a", hits[0].ID)
	}
	if hits[0].Text != entries[0].Text {
		t.Errorf("text: got %q", hits[0].Text)
	}
	if _, ok := hits[0].Metadata[payloadTextKey]; ok {
		t.Error("text must not leak into metadata")
	}

	hits, err = store.Search(ctx, deterministicVector("cooking"), 5, map[string]string{"source": "b.md"})
	if err != nil {
		t.Fatalf("filtered Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "chunk-c" {
		t.Errorf("filtered search: got %+v", hits)
	}

	n, err := store.DeleteByFilter(ctx, "source", "a.md")
	if err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted: got %d, want 2", n)
	}

	if err := store.DeleteIDs(ctx, []string{"chunk-c"}); err != nil {
		t.Fatalf("DeleteIDs: %v", err)
	}
	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.DocumentCount != 0 {
		t.Errorf("DocumentCount: got %d, want 0", st.DocumentCount)
	}
	if st.Dimension != testDims {
		t.Errorf("Dimension: got %d, want %d", st.Dimension, testDims)
	}
}

func TestQdrantStore_SchemaMismatch(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeQdrant(t)

	if err := newTestQdrant(t, srv, "secret").EnsureSchema(ctx, 8); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	err := newTestQdrant(t, srv, "secret").EnsureSchema(ctx, 16)
	if !errors.Is(err, rag.ErrSchemaMismatch) {
		t.Errorf("expected schema mismatch, got %v", err)
	}
}

func TestQdrantStore_RetriesUnavailable(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeQdrant(t)
	store := newTestQdrant(t, srv, "secret")

	fake.failNext.Store(2)
	if err := store.EnsureSchema(ctx, testDims); err != nil {
		t.Fatalf("EnsureSchema after transient failures: %v", err)
	}
}

func TestQdrantStore_UnauthorizedIsFatal(t *testing.T) {
	_, srv := newFakeQdrant(t)
	store := newTestQdrant(t, srv, "wrong")

	err := store.EnsureSchema(context.Background(), testDims)
	if err == nil {
		t.Fatal("expected error")
	}
	if rag.IsTransient(err) {
		t.Error("401 must not be transient")
	}
	if !rag.IsKind(err, rag.KindIndex) {
		t.Errorf("expected index error, got %v", err)
	}
}

func TestQdrantStore_Reset(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeQdrant(t)
	store := newTestQdrant(t, srv, "secret")

	if err := store.EnsureSchema(ctx, testDims); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := store.Upsert(ctx, []Entry{entry("x", "s", "text", 0)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if exists, points, _ := fake.snapshot(); !exists || points != 0 {
		t.Errorf("expected recreated empty collection, exists=%v points=%d", exists, points)
	}
}

func TestPointID(t *testing.T) {
	u := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	if got := pointID(u); got != u {
		t.Errorf("uuid ids must pass through, got %s", got)
	}
	if pointID("doc_1") != pointID("doc_1") {
		t.Error("derived ids must be stable")
	}
	if pointID("doc_1") == pointID("doc_2") {
		t.Error("derived ids must differ")
	}
}
