package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/retriever"
)

// maxUploadBytes bounds multipart uploads to /ingest/upload.
const maxUploadBytes = 64 << 20

func (s *Server) registerRoutes(r chi.Router) {
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Post("/query", s.handleQuery)
	r.Post("/query/batch", s.handleBatchQuery)
	r.Post("/query/with-context", s.handleQueryWithContext)
	r.Get("/suggestions", s.handleSuggestions)
	r.Post("/suggestions", s.handleSuggestions)
	r.Post("/analyze-query", s.handleAnalyzeQuery)

	r.Post("/ingest/text", s.handleIngestText)
	r.Post("/ingest/files", s.handleIngestFiles)
	r.Post("/ingest/upload", s.handleUpload)
	r.Post("/ingest/directory", s.handleIngestDirectory)

	r.Get("/sources", s.handleListSources)
	r.Delete("/sources/{name}", s.handleRemoveSource)
	r.Post("/reset", s.handleReset)
}

type queryRequest struct {
	Question       string `json:"question"`
	TopK           int    `json:"top_k"`
	IncludeSources *bool  `json:"include_sources"`
	Source         string `json:"source"`
}

type batchQueryRequest struct {
	Questions []string `json:"questions"`
	TopK      int      `json:"top_k"`
}

type contextQueryRequest struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	TopK     int    `json:"top_k"`
}

type suggestionsRequest struct {
	PartialQuery   string `json:"partial_query"`
	MaxSuggestions int    `json:"max_suggestions"`
}

type textIngestRequest struct {
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

type filesIngestRequest struct {
	FilePaths   []string `json:"file_paths"`
	SourceNames []string `json:"source_names"`
}

type directoryIngestRequest struct {
	DirectoryPath string `json:"directory_path"`
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "ragpipe API",
		"version": s.cfg.Version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.HealthCheck(r.Context()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.pipeline.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	includeSources := req.IncludeSources == nil || *req.IncludeSources

	writeJSON(w, http.StatusOK, s.pipeline.Search(r.Context(), retriever.Request{
		Query:          req.Question,
		TopK:           req.TopK,
		IncludeSources: includeSources,
		Source:         req.Source,
	}))
}

func (s *Server) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	var req batchQueryRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "questions is required")
		return
	}
	results := s.pipeline.BatchQuery(r.Context(), req.Questions, req.TopK)
	writeJSON(w, http.StatusOK, map[string]any{
		"total_queries": len(req.Questions),
		"results":       results,
	})
}

// handleQueryWithContext accepts a JSON body or form fields.
func (s *Server) handleQueryWithContext(w http.ResponseWriter, r *http.Request) {
	var req contextQueryRequest
	if isForm(r) {
		req.Question = r.FormValue("question")
		req.Context = r.FormValue("context")
		req.TopK, _ = strconv.Atoi(r.FormValue("top_k"))
	} else if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Context) == "" {
		writeError(w, http.StatusBadRequest, "question and context are required")
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.QueryWithContext(r.Context(), req.Question, req.Context, req.TopK))
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	req := suggestionsRequest{MaxSuggestions: 5}
	if r.Method == http.MethodGet {
		req.PartialQuery = r.URL.Query().Get("partial_query")
		if v := r.URL.Query().Get("max_suggestions"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				req.MaxSuggestions = n
			}
		}
	} else if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PartialQuery) == "" {
		writeError(w, http.StatusBadRequest, "partial_query is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": s.pipeline.Suggestions(req.PartialQuery, req.MaxSuggestions),
	})
}

// handleAnalyzeQuery reads the query from ?query= or a JSON body.
func (s *Server) handleAnalyzeQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		var body struct {
			Query string `json:"query"`
		}
		if !decode(w, r, &body) {
			return
		}
		query = body.Query
	}
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": s.pipeline.AnalyzeQuery(query)})
}

func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	var req textIngestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Ingest(r.Context(), rag.Document{
		Text:     req.Text,
		Source:   req.Source,
		Metadata: req.Metadata,
	}))
}

func (s *Server) handleIngestFiles(w http.ResponseWriter, r *http.Request) {
	var req filesIngestRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.FilePaths) == 0 {
		writeError(w, http.StatusBadRequest, "file_paths is required")
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.IngestFiles(r.Context(), req.FilePaths, req.SourceNames))
}

// handleUpload stores a multipart upload in a temporary file with the
// original extension, ingests it under the client's filename and removes it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required: "+err.Error())
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	tmp, err := os.CreateTemp("", "ragpipe-upload-*"+filepath.Ext(name))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, file)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("storing upload: %v", err))
		return
	}

	source := r.FormValue("source_name")
	if source == "" {
		source = name
	}
	res := s.pipeline.IngestFileAs(r.Context(), tmp.Name(), name, source, map[string]any{"filename": name})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIngestDirectory(w http.ResponseWriter, r *http.Request) {
	var req directoryIngestRequest
	if v := r.URL.Query().Get("directory_path"); v != "" {
		req.DirectoryPath = v
	} else if !decode(w, r, &req) {
		return
	}
	if req.DirectoryPath == "" {
		writeError(w, http.StatusBadRequest, "directory_path is required")
		return
	}

	res, err := s.pipeline.IngestDirectory(r.Context(), req.DirectoryPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"directory_path": req.DirectoryPath,
		"total_files":    res.TotalFiles,
		"successful":     res.Successful,
		"failed":         res.Failed,
		"results":        res.Results,
		"skipped":        res.Skipped,
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	srcs, err := s.pipeline.Sources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(srcs), "sources": srcs})
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res := s.pipeline.RemoveSource(r.Context(), name)
	if !res.Success {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove source: %s: %s", name, res.Error))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Successfully removed source: " + name,
		"deleted": res.Deleted,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	err := s.pipeline.Reset(r.Context(), req.Confirm)
	switch {
	case errors.Is(err, rag.ErrResetNotConfirmed):
		writeError(w, http.StatusBadRequest, `reset requires {"confirm": true}`)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to reset pipeline: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Pipeline reset successfully"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func isForm(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data")
}
