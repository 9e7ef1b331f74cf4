package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

const (
	payloadTextKey = "text"
	payloadIDKey   = "chunk_id"
)

// pointNamespace maps non-UUID entry ids onto Qdrant point ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragpipe:qdrant-point"))

// QdrantOptions configures a QdrantStore.
type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Retry      rag.RetryPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// QdrantStore implements Index against a Qdrant server over its REST API.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	retry      rag.RetryPolicy
	httpClient *http.Client
	logger     *slog.Logger
	dim        int
}

// NewQdrantStore creates a client for the given collection. No request is
// made until EnsureSchema or Ping.
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	if opts.URL == "" {
		return nil, rag.ConfigError("qdrant url is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, rag.ConfigError("invalid qdrant url %q: %v", opts.URL, err)
	}
	if opts.Collection == "" {
		opts.Collection = "rag_documents"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		retry:      opts.Retry,
		httpClient: client,
		logger:     logger.With("component", "vectordb", "backend", "qdrant"),
	}, nil
}

type qdrantResponse struct {
	Result json.RawMessage `json:"result"`
	Status any             `json:"status"`
}

type qdrantCollectionInfo struct {
	PointsCount int `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantScoredPoint struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

func buildFilter(filter map[string]string) *qdrantFilter {
	if len(filter) == 0 {
		return nil
	}
	f := &qdrantFilter{}
	for k, v := range filter {
		c := qdrantCondition{Key: k}
		c.Match.Value = v
		f.Must = append(f.Must, c)
	}
	return f
}

// pointID returns id when it is already a UUID, otherwise a stable UUID
// derived from it.
func pointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

// call performs one request with retries. A non-nil out receives the
// response's result field.
func (s *QdrantStore) call(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return rag.IndexErr(op, false, fmt.Errorf("marshal request: %w", err))
		}
	}

	return rag.Retry(ctx, s.retry, s.logger, func(ctx context.Context) error {
		return s.do(ctx, op, method, path, payload, out)
	})
}

func (s *QdrantStore) do(ctx context.Context, op, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return rag.IndexErr(op, false, fmt.Errorf("create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		transient := rag.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded)
		return rag.IndexErr(op, transient, fmt.Errorf("qdrant request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &rag.Error{
			Kind:      rag.KindIndex,
			Op:        op,
			Transient: rag.TransientStatus(resp.StatusCode),
			Err:       &httpStatusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))},
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var envelope qdrantResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return rag.IndexErr(op, false, fmt.Errorf("decode response: %w", err))
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return rag.IndexErr(op, false, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("qdrant returned status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *httpStatusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

func (s *QdrantStore) info(ctx context.Context) (*qdrantCollectionInfo, error) {
	var info qdrantCollectionInfo
	if err := s.call(ctx, "describe", http.MethodGet, s.collectionPath(""), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// EnsureSchema creates the collection with cosine distance and a keyword
// index on source when it does not exist yet.
func (s *QdrantStore) EnsureSchema(ctx context.Context, dim int) error {
	if dim <= 0 {
		return rag.ConfigError("index dimension must be positive, got %d", dim)
	}

	info, err := s.info(ctx)
	switch {
	case err == nil:
		if size := info.Config.Params.Vectors.Size; size != dim {
			return rag.IndexErr("schema", false,
				fmt.Errorf("%w: collection %s holds %d-dimensional vectors, embedder produces %d", rag.ErrSchemaMismatch, s.collection, size, dim))
		}
		s.dim = dim
		return nil
	case !isNotFound(err):
		return err
	}

	return s.create(ctx, dim)
}

func (s *QdrantStore) create(ctx context.Context, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if err := s.call(ctx, "create", http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		return err
	}
	index := map[string]any{"field_name": "source", "field_schema": "keyword"}
	if err := s.call(ctx, "create", http.MethodPut, s.collectionPath("/index?wait=true"), index, nil); err != nil {
		return err
	}
	s.dim = dim
	s.logger.Info("collection created", "collection", s.collection, "dimension", dim)
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]qdrantPoint, len(entries))
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return rag.IndexErr("upsert", false, fmt.Errorf("entry %s has no vector", e.ID))
		}
		if s.dim > 0 && len(e.Vector) != s.dim {
			return rag.IndexErr("upsert", false,
				fmt.Errorf("%w: entry %s has %d dimensions, index expects %d", rag.ErrDimensionMismatch, e.ID, len(e.Vector), s.dim))
		}
		payload := make(map[string]any, len(e.Metadata)+2)
		for k, v := range e.Metadata {
			payload[k] = v
		}
		payload[payloadTextKey] = e.Text
		payload[payloadIDKey] = e.ID
		points[i] = qdrantPoint{ID: pointID(e.ID), Vector: e.Vector, Payload: payload}
	}
	return s.call(ctx, "upsert", http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (s *QdrantStore) Search(ctx context.Context, vec []float32, k int, filter map[string]string) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       vec,
		"limit":        k,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}

	var points []qdrantScoredPoint
	if err := s.call(ctx, "search", http.MethodPost, s.collectionPath("/points/search"), body, &points); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		h := Hit{ID: fmt.Sprint(p.ID), Score: p.Score, Metadata: make(map[string]any, len(p.Payload))}
		for k, v := range p.Payload {
			switch k {
			case payloadTextKey:
				h.Text, _ = v.(string)
			case payloadIDKey:
				if id, ok := v.(string); ok && id != "" {
					h.ID = id
				}
			default:
				h.Metadata[k] = v
			}
		}
		hits = append(hits, h)
	}
	sortHits(hits)
	return hits, nil
}

func (s *QdrantStore) count(ctx context.Context, filter *qdrantFilter) (int, error) {
	body := map[string]any{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}
	var res struct {
		Count int `json:"count"`
	}
	if err := s.call(ctx, "count", http.MethodPost, s.collectionPath("/points/count"), body, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (s *QdrantStore) DeleteByFilter(ctx context.Context, field, value string) (int, error) {
	if field == "" {
		return 0, rag.IndexErr("delete", false, errors.New("filter field is empty"))
	}
	filter := buildFilter(map[string]string{field: value})

	n, err := s.count(ctx, filter)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	body := map[string]any{"filter": filter}
	if err := s.call(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *QdrantStore) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = pointID(id)
	}
	err := s.call(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": points}, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: "qdrant", Dimension: s.dim}
	info, err := s.info(ctx)
	if err != nil {
		if isNotFound(err) {
			return st, nil
		}
		return st, err
	}
	st.DocumentCount = info.PointsCount
	st.Dimension = info.Config.Params.Vectors.Size
	st.SizeBytes = int64(st.DocumentCount) * int64(st.Dimension) * 4
	return st, nil
}

// Reset drops and recreates the collection.
func (s *QdrantStore) Reset(ctx context.Context) error {
	err := s.call(ctx, "reset", http.MethodDelete, s.collectionPath(""), nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	if s.dim > 0 {
		return s.create(ctx, s.dim)
	}
	return nil
}

func (s *QdrantStore) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", http.MethodGet, "/", nil, nil)
}

func (s *QdrantStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
