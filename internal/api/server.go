// Package api exposes the HTTP surface: document management, question
// answering (batch and streaming), conversations, and health/stats.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/scribe/internal/rag"
	"github.com/kalambet/scribe/internal/storage"
	"github.com/kalambet/scribe/internal/vectorstore"
)

const maxRequestBodySize = 1 << 20 // 1MB for JSON bodies

// VectorIndex is the slice of the vector store the API needs.
type VectorIndex interface {
	DeleteByDocument(documentID string) error
	Stats() (vectorstore.Stats, error)
}

// Deps wires the handler's dependencies.
type Deps struct {
	Store          *storage.Store
	Index          VectorIndex
	RAG            *rag.Service
	UploadDir      string
	MaxUploadBytes int64
}

// NewHandler builds the chi router for the service.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/url", handleUploadURL(deps))
			r.Post("/pdf", handleUploadPDF(deps))
			r.Post("/text", handleUploadText(deps))
			r.Get("/", handleListDocuments(deps))
			r.Get("/{id}", handleGetDocument(deps))
			r.Delete("/{id}", handleDeleteDocument(deps))
		})
		r.Route("/chat", func(r chi.Router) {
			r.Post("/ask", handleAsk(deps))
			r.Post("/stream", handleAskStream(deps))
		})
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(deps))
			r.Get("/{id}", handleGetConversation(deps))
			r.Delete("/{id}", handleDeleteConversation(deps))
		})
		r.Get("/stats", handleStats(deps))
	})
	r.Get("/health", handleHealth(deps))

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := deps.Store.DB().PingContext(r.Context()); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.CountDocuments()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting documents: %v", err)
			return
		}
		stats, err := deps.Index.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading index stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"documents":      docs,
			"indexed_chunks": stats.Count,
			"vector_index":   stats.Name,
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
