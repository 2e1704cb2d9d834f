package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/scribe/internal/rag"
	"github.com/kalambet/scribe/internal/storage"
	"github.com/kalambet/scribe/internal/vectorstore"
)

// stubGenerator returns a fixed answer in both batch and streaming mode.
type stubGenerator struct {
	reply  string
	deltas []string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.reply, nil
}

func (g *stubGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) error {
	for _, d := range g.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return nil
}

// stubEmbedder returns a fixed query vector.
type stubEmbedder struct {
	vec []float32
}

func (e *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

type testServer struct {
	handler http.Handler
	store   *storage.Store
	index   *vectorstore.Index
}

func newTestServer(t *testing.T, gen rag.Generator) *testServer {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index := vectorstore.NewIndex(store.DB())
	retriever := rag.NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, index, 10)
	assembler := rag.NewAssembler(store, 0.3, 5)
	svc := rag.NewService(retriever, assembler, gen, store, 5)

	handler := NewHandler(Deps{
		Store:          store,
		Index:          index,
		RAG:            svc,
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 1 << 20,
	})
	return &testServer{handler: handler, store: store, index: index}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// seedIndexedDocument creates a processed document with one indexed chunk
// aligned with the stub query vector.
func (ts *testServer) seedIndexedDocument(t *testing.T, id, title string) {
	t.Helper()
	doc := storage.Document{
		ID:        id,
		Type:      storage.DocTypeURL,
		Title:     title,
		SourceURL: "https://example.com/" + id,
		CreatedAt: time.Now().UTC(),
	}
	if err := ts.store.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	_, err := ts.index.Upsert(nil,
		[][]float32{{1, 0}},
		[]string{"indexed chunk content for " + title},
		[]map[string]string{{"document_id": id, "title": title}},
	)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Message, body.Error.Type
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUploadTextQueuesProcessing(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	rec := ts.do(t, http.MethodPost, "/api/documents/text",
		`{"text":"Raw notes about the scheduler.","title":"Notes"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "queued" || resp["id"] == "" {
		t.Errorf("response = %v", resp)
	}

	doc, err := ts.store.GetDocument(resp["id"])
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Type != storage.DocTypeText || doc.Metadata["content"] != "Raw notes about the scheduler." {
		t.Errorf("document = %+v", doc)
	}

	job, err := ts.store.ClaimNextJob([]string{"process_document"})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	if !strings.Contains(job.PayloadJSON, resp["id"]) {
		t.Errorf("payload = %s", job.PayloadJSON)
	}
}

func TestUploadURLValidation(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"type":"url"}`},
		{"bad type", `{"type":"pdf","url":"https://example.com"}`},
		{"invalid json", `{nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/documents/url", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if _, errType := decodeError(t, rec); errType != "invalid_request_error" {
				t.Errorf("error type = %q", errType)
			}
		})
	}
}

func TestUploadURLAcceptsYouTube(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	rec := ts.do(t, http.MethodPost, "/api/documents/url",
		`{"type":"youtube","url":"https://www.youtube.com/watch?v=abc123xyz00"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestUploadTextValidation(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	rec := ts.do(t, http.MethodPost, "/api/documents/text", `{"text":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank text accepted: status = %d", rec.Code)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	rec := ts.do(t, http.MethodGet, "/api/documents/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, errType := decodeError(t, rec); errType != "not_found" {
		t.Errorf("error type = %q", errType)
	}
}

func TestListDocumentsEmptyIsArray(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	rec := ts.do(t, http.MethodGet, "/api/documents/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestDeleteDocumentRemovesIndexEntries(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})
	ts.seedIndexedDocument(t, "d1", "Doomed")

	rec := ts.do(t, http.MethodDelete, "/api/documents/d1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if _, err := ts.store.GetDocument("d1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("document still present: %v", err)
	}
	stats, err := ts.index.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count != 0 {
		t.Errorf("index entries left behind: %d", stats.Count)
	}

	rec = ts.do(t, http.MethodDelete, "/api/documents/d1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestAskReturnsAnswerWithSources(t *testing.T) {
	gen := &stubGenerator{reply: "The scheduler multiplexes goroutines [Source: Sched Paper]."}
	ts := newTestServer(t, gen)
	ts.seedIndexedDocument(t, "d1", "Sched Paper")

	rec := ts.do(t, http.MethodPost, "/api/chat/ask", `{"question":"how does scheduling work?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != gen.reply {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Title != "Sched Paper" {
		t.Errorf("sources = %+v", resp.Sources)
	}
	if resp.ConversationID == "" || resp.MessageID == "" {
		t.Errorf("ids missing: %+v", resp)
	}

	// The turn is on record.
	msgs, err := ts.store.GetMessages(resp.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestAskEmptyCorpusStillAnswers(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{reply: "unused"})

	rec := ts.do(t, http.MethodPost, "/api/chat/ask", `{"question":"anything?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Answer, "I don't have enough information") {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Sources == nil || len(resp.Sources) != 0 {
		t.Errorf("sources should be an empty array: %+v", resp.Sources)
	}
}

func TestAskValidation(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	rec := ts.do(t, http.MethodPost, "/api/chat/ask", `{"question":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAskUnknownConversation(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{reply: "x"})
	ts.seedIndexedDocument(t, "d1", "Doc")

	rec := ts.do(t, http.MethodPost, "/api/chat/ask",
		`{"question":"q","conversation_id":"ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAskStreamEmitsDeltasAndDone(t *testing.T) {
	gen := &stubGenerator{deltas: []string{"The ", "answer."}}
	ts := newTestServer(t, gen)
	ts.seedIndexedDocument(t, "d1", "Doc")

	rec := ts.do(t, http.MethodPost, "/api/chat/stream", `{"question":"q"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var deltas []string
	var done struct {
		Done           bool                      `json:"done"`
		ConversationID string                    `json:"conversation_id"`
		Sources        []storage.SourceReference `json:"sources"`
	}
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		raw := strings.TrimPrefix(line, "data: ")
		var event struct {
			Delta string `json:"delta"`
			Done  bool   `json:"done"`
		}
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			t.Fatalf("bad event %q: %v", raw, err)
		}
		if event.Done {
			if err := json.Unmarshal([]byte(raw), &done); err != nil {
				t.Fatal(err)
			}
		} else {
			deltas = append(deltas, event.Delta)
		}
	}

	if strings.Join(deltas, "") != "The answer." {
		t.Errorf("deltas = %v", deltas)
	}
	if !done.Done || done.ConversationID == "" {
		t.Errorf("done event = %+v", done)
	}
	if len(done.Sources) != 1 {
		t.Errorf("sources = %+v", done.Sources)
	}

	// Streamed turn is persisted with the accumulated text.
	msgs, err := ts.store.GetMessages(done.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].Content != "The answer." {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{reply: "first answer"})
	ts.seedIndexedDocument(t, "d1", "Doc")

	rec := ts.do(t, http.MethodPost, "/api/chat/ask", `{"question":"first question"}`)
	var ask AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ask); err != nil {
		t.Fatal(err)
	}

	rec = ts.do(t, http.MethodGet, "/api/conversations/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var convs []storage.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].Title != "first question" {
		t.Errorf("conversations = %+v", convs)
	}

	rec = ts.do(t, http.MethodGet, "/api/conversations/"+ask.ConversationID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var detail struct {
		Conversation storage.Conversation `json:"conversation"`
		Messages     []storage.Message    `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Messages) != 2 {
		t.Errorf("messages = %+v", detail.Messages)
	}

	rec = ts.do(t, http.MethodDelete, "/api/conversations/"+ask.ConversationID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/conversations/"+ask.ConversationID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})
	ts.seedIndexedDocument(t, "d1", "Doc")

	rec := ts.do(t, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats struct {
		Documents     int    `json:"documents"`
		IndexedChunks int    `json:"indexed_chunks"`
		VectorIndex   string `json:"vector_index"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 1 || stats.IndexedChunks != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.VectorIndex != "chunk_vectors" {
		t.Errorf("vector index = %q", stats.VectorIndex)
	}
}
