package api

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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/scribe/internal/ingest"
	"github.com/kalambet/scribe/internal/storage"
)

// DocumentRequest is the JSON body for url, youtube, and text uploads.
type DocumentRequest struct {
	Type     string            `json:"type"`
	URL      string            `json:"url"`
	Text     string            `json:"text"`
	Title    string            `json:"title"`
	Author   string            `json:"author"`
	Metadata map[string]string `json:"metadata"`
}

func handleUploadURL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type != storage.DocTypeURL && req.Type != storage.DocTypeYouTube {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be 'url' or 'youtube' for URL upload")
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		title := req.Title
		if title == "" {
			title = "Processing..."
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			Type:      req.Type,
			Title:     title,
			Author:    req.Author,
			SourceURL: req.URL,
			Metadata:  req.Metadata,
			CreatedAt: time.Now().UTC(),
		}
		createAndEnqueue(w, deps, doc)
	}
}

func handleUploadText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type != "" && req.Type != storage.DocTypeText {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be 'text' for text upload")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text content is required")
			return
		}

		// The raw text rides in metadata until the pipeline picks it up.
		metadata := map[string]string{}
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		metadata["content"] = req.Text

		title := req.Title
		if title == "" {
			title = "Text Document"
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			Type:      storage.DocTypeText,
			Title:     title,
			Author:    req.Author,
			Metadata:  metadata,
			CreatedAt: time.Now().UTC(),
		}
		createAndEnqueue(w, deps, doc)
	}
}

func handleUploadPDF(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)

		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.As(err, new(*http.MaxBytesError)) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds the upload size limit")
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing file field: %v", err)
			return
		}
		defer file.Close()

		if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "only PDF files are allowed")
			return
		}

		if err := os.MkdirAll(deps.UploadDir, 0o755); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating upload dir: %v", err)
			return
		}

		docID := uuid.New().String()
		safeName := sanitizeFilename(header.Filename)
		path := filepath.Join(deps.UploadDir, docID+"_"+safeName)

		out, err := os.Create(path)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving file: %v", err)
			return
		}
		size, err := io.Copy(out, file)
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
			if errors.As(err, new(*http.MaxBytesError)) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds the upload size limit")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "saving file: %v", err)
			return
		}

		doc := storage.Document{
			ID:        docID,
			Type:      storage.DocTypePDF,
			Title:     strings.TrimSuffix(safeName, filepath.Ext(safeName)),
			SourceURL: path,
			Metadata: map[string]string{
				"original_filename": header.Filename,
				"file_size":         strconv.FormatInt(size, 10),
			},
			CreatedAt: time.Now().UTC(),
		}
		createAndEnqueue(w, deps, doc)
	}
}

// createAndEnqueue persists the document record and queues its
// processing job, answering 202 with the queued id.
func createAndEnqueue(w http.ResponseWriter, deps Deps, doc storage.Document) {
	if err := deps.Store.CreateDocument(doc); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to create document: %v", err)
		return
	}

	payload, err := json.Marshal(ingest.ProcessPayload{DocumentID: doc.ID})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
		return
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        ingest.JobTypeProcessDocument,
		PayloadJSON: string(payload),
	}
	if err := deps.Store.EnqueueJob(job); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     doc.ID,
		"status": "queued",
	})
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 100, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListDocuments(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		count, err := deps.Store.CountChunks(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count chunks: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document":     doc,
			"chunks_count": count,
		})
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		if err := deps.Index.DeleteByDocument(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove index entries: %v", err)
			return
		}
		if err := deps.Store.DeleteDocument(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		// Uploaded PDFs live on disk; best effort cleanup.
		if doc.Type == storage.DocTypePDF && doc.SourceURL != "" {
			_ = os.Remove(doc.SourceURL)
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// sanitizeFilename strips path components and characters that do not
// belong in a stored file name.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if out == "" || out == "." {
		return fmt.Sprintf("upload_%d.pdf", time.Now().Unix())
	}
	return out
}
