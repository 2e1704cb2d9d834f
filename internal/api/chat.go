package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/scribe/internal/storage"
)

// AskRequest is the body for both batch and streaming questions.
type AskRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
}

// AskResponse is the batch answer payload.
type AskResponse struct {
	Answer         string                    `json:"answer"`
	Sources        []storage.SourceReference `json:"sources"`
	ConversationID string                    `json:"conversation_id"`
	MessageID      string                    `json:"message_id"`
	CreatedAt      time.Time                 `json:"created_at"`
}

func decodeAsk(w http.ResponseWriter, r *http.Request) (AskRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return AskRequest{}, false
	}
	if strings.TrimSpace(req.Question) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
		return AskRequest{}, false
	}
	return req, true
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAsk(w, r)
		if !ok {
			return
		}

		answer, err := deps.RAG.Answer(r.Context(), req.Question, req.ConversationID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to answer: %v", err)
			return
		}

		sources := answer.Sources
		if sources == nil {
			sources = []storage.SourceReference{}
		}
		writeJSON(w, http.StatusOK, AskResponse{
			Answer:         answer.Text,
			Sources:        sources,
			ConversationID: answer.ConversationID,
			MessageID:      answer.MessageID,
			CreatedAt:      answer.CreatedAt,
		})
	}
}

// handleAskStream answers over SSE: "delta" events carry answer text as
// it is generated, one final "done" event carries the conversation id
// and sources.
func handleAskStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAsk(w, r)
		if !ok {
			return
		}

		flusher, flushable := w.(http.Flusher)
		if !flushable {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		onDelta := func(delta string) error {
			payload, err := json.Marshal(map[string]string{"delta": delta})
			if err != nil {
				return err
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		answer, err := deps.RAG.AnswerStream(r.Context(), req.Question, req.ConversationID, onDelta)
		if err != nil {
			// Headers are out; all that is left is an error event.
			payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
			if marshalErr == nil {
				w.Write([]byte("data: " + string(payload) + "\n\n"))
				flusher.Flush()
			}
			return
		}

		sources := answer.Sources
		if sources == nil {
			sources = []storage.SourceReference{}
		}
		payload, err := json.Marshal(map[string]any{
			"done":            true,
			"conversation_id": answer.ConversationID,
			"message_id":      answer.MessageID,
			"sources":         sources,
		})
		if err != nil {
			return
		}
		w.Write([]byte("data: " + string(payload) + "\n\n"))
		flusher.Flush()
	}
}
