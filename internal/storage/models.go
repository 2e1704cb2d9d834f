package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document types accepted by the ingestion pipeline.
const (
	DocTypeURL     = "url"
	DocTypePDF     = "pdf"
	DocTypeYouTube = "youtube"
	DocTypeText    = "text"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document is an immutable source record. Only the ingestion pipeline
// mutates it, and only to set processing state and enrich metadata.
type Document struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Title           string            `json:"title"`
	Author          string            `json:"author,omitempty"`
	SourceURL       string            `json:"source_url,omitempty"`
	Metadata        map[string]string `json:"metadata"`
	Processed       bool              `json:"processed"`
	ProcessingError string            `json:"processing_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Chunk is one retrievable unit of a document. chunk_index values for a
// document are contiguous from 0 and match vector index insertion order.
type Chunk struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"document_id"`
	Content     string            `json:"content"`
	ChunkIndex  int               `json:"chunk_index"`
	EmbeddingID string            `json:"embedding_id"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Conversation groups messages of one chat thread. UpdatedAt advances on
// every new turn and drives recency ordering.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn half. History is append-only; messages are removed
// only via conversation deletion.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	Sources        []SourceReference `json:"sources"`
	CreatedAt      time.Time         `json:"created_at"`
}

// SourceReference is a per-document citation record surfaced alongside an
// assistant message.
type SourceReference struct {
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title"`
	Type           string  `json:"type"`
	Author         string  `json:"author,omitempty"`
	URL            string  `json:"url,omitempty"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
	PageNumber     int     `json:"page_number,omitempty"`
	Timestamp      string  `json:"timestamp,omitempty"`
}

// Job is one unit of queued background work.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
