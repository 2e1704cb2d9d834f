package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/scribe/internal/storage"
	"github.com/kalambet/scribe/internal/vectorstore"
)

// fakeGenerator returns canned replies and records the prompt it saw.
type fakeGenerator struct {
	reply  string
	deltas []string
	err    error

	prompt        string
	generateCalls int
	streamCalls   int
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.generateCalls++
	g.prompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) error {
	g.streamCalls++
	g.prompt = prompt
	for _, d := range g.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return g.err
}

type savedTurn struct {
	conv      *storage.Conversation
	user      storage.Message
	assistant storage.Message
}

// fakeConvStore keeps conversations in a map and records saved turns.
type fakeConvStore struct {
	convs  map[string]storage.Conversation
	recent []storage.Message
	saved  []savedTurn
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{convs: map[string]storage.Conversation{}}
}

func (s *fakeConvStore) GetConversation(id string) (storage.Conversation, error) {
	conv, ok := s.convs[id]
	if !ok {
		return storage.Conversation{}, storage.ErrNotFound
	}
	return conv, nil
}

func (s *fakeConvStore) GetRecentMessages(conversationID string, limit int) ([]storage.Message, error) {
	if limit < len(s.recent) {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func (s *fakeConvStore) SaveTurn(conv *storage.Conversation, user, assistant storage.Message) error {
	s.saved = append(s.saved, savedTurn{conv: conv, user: user, assistant: assistant})
	return nil
}

// relevantHit is a zero-distance search result resolving to document d1.
func relevantHit() vectorstore.Result {
	return vectorstore.Result{
		ID:       "e1",
		Text:     "goroutines are multiplexed onto OS threads",
		Metadata: map[string]string{"document_id": "d1", "title": "Go Paper"},
		Distance: 0,
	}
}

func newTestService(gen Generator, convs ConversationStore, hits []vectorstore.Result) *Service {
	retriever := NewRetriever(
		&fakeEmbedder{vec: []float32{1, 0}},
		&fakeIndex{results: hits},
		10,
	)
	assembler := NewAssembler(
		&fakeDocs{docs: map[string]storage.Document{
			"d1": {ID: "d1", Title: "Go Paper", Type: storage.DocTypeURL},
		}},
		0.3, 5,
	)
	return NewService(retriever, assembler, gen, convs, 5)
}

func TestAnswerCreatesConversation(t *testing.T) {
	gen := &fakeGenerator{reply: "They are cheap [Source: Go Paper]."}
	convs := newFakeConvStore()
	svc := newTestService(gen, convs, []vectorstore.Result{relevantHit()})

	ans, err := svc.Answer(context.Background(), "why are goroutines cheap?", "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if ans.Text != gen.reply {
		t.Errorf("text = %q", ans.Text)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].Title != "Go Paper" {
		t.Errorf("sources = %+v", ans.Sources)
	}
	if ans.ConversationID == "" || ans.MessageID == "" {
		t.Errorf("ids missing: %+v", ans)
	}

	if len(convs.saved) != 1 {
		t.Fatalf("saved %d turns, want 1", len(convs.saved))
	}
	turn := convs.saved[0]
	if turn.conv == nil || turn.conv.Title != "why are goroutines cheap?" {
		t.Errorf("conversation = %+v", turn.conv)
	}
	if turn.user.Role != storage.RoleUser || turn.user.Content != "why are goroutines cheap?" {
		t.Errorf("user message = %+v", turn.user)
	}
	if turn.assistant.Role != storage.RoleAssistant || turn.assistant.Content != gen.reply {
		t.Errorf("assistant message = %+v", turn.assistant)
	}

	if !strings.Contains(gen.prompt, "CONTEXT FROM SOURCES:") || !strings.Contains(gen.prompt, "why are goroutines cheap?") {
		t.Errorf("prompt missing context or question: %q", gen.prompt)
	}
}

func TestAnswerInsufficientContext(t *testing.T) {
	gen := &fakeGenerator{reply: "should not be called"}
	convs := newFakeConvStore()
	svc := newTestService(gen, convs, nil)

	ans, err := svc.Answer(context.Background(), "anything indexed?", "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if ans.Text != insufficientAnswer {
		t.Errorf("text = %q", ans.Text)
	}
	if !strings.HasSuffix(ans.Text, "Please add relevant documents first.") {
		t.Errorf("missing follow-up sentence: %q", ans.Text)
	}
	if ans.Sources != nil {
		t.Errorf("sources = %+v", ans.Sources)
	}
	if gen.generateCalls != 0 {
		t.Errorf("model invoked %d times without context", gen.generateCalls)
	}
	// The refusal is still a recorded turn.
	if len(convs.saved) != 1 {
		t.Errorf("saved %d turns, want 1", len(convs.saved))
	}
}

func TestAnswerLowScoresFilteredOut(t *testing.T) {
	// Distance 4 maps to score 0.2, below the 0.3 threshold.
	hit := relevantHit()
	hit.Distance = 4
	gen := &fakeGenerator{}
	svc := newTestService(gen, newFakeConvStore(), []vectorstore.Result{hit})

	ans, err := svc.Answer(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != insufficientAnswer || gen.generateCalls != 0 {
		t.Errorf("weak hits should not reach the model: %q", ans.Text)
	}
}

func TestAnswerContinuesConversationWithHistory(t *testing.T) {
	gen := &fakeGenerator{reply: "follow-up answer"}
	convs := newFakeConvStore()
	convs.convs["c1"] = storage.Conversation{ID: "c1", Title: "t"}
	// Newest first, as the store returns them.
	convs.recent = []storage.Message{
		{Role: storage.RoleAssistant, Content: "second reply"},
		{Role: storage.RoleUser, Content: "second question"},
		{Role: storage.RoleAssistant, Content: "first reply"},
		{Role: storage.RoleUser, Content: "first question"},
	}
	svc := newTestService(gen, convs, []vectorstore.Result{relevantHit()})

	ans, err := svc.Answer(context.Background(), "third question", "c1")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.ConversationID != "c1" {
		t.Errorf("conversation id = %q", ans.ConversationID)
	}

	// History renders oldest first.
	first := strings.Index(gen.prompt, "User: first question")
	second := strings.Index(gen.prompt, "User: second question")
	if first < 0 || second < 0 || first > second {
		t.Errorf("history out of order in prompt: %d, %d", first, second)
	}
	if !strings.Contains(gen.prompt, "CONVERSATION HISTORY:") {
		t.Error("history header missing")
	}

	if convs.saved[0].conv != nil {
		t.Error("existing conversation re-created")
	}
}

func TestAnswerUnknownConversation(t *testing.T) {
	gen := &fakeGenerator{reply: "x"}
	svc := newTestService(gen, newFakeConvStore(), []vectorstore.Result{relevantHit()})

	_, err := svc.Answer(context.Background(), "q", "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestAnswerGeneratorFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	convs := newFakeConvStore()
	svc := newTestService(gen, convs, []vectorstore.Result{relevantHit()})

	if _, err := svc.Answer(context.Background(), "q", ""); err == nil {
		t.Fatal("expected generation error")
	}
	if len(convs.saved) != 0 {
		t.Errorf("failed turn was persisted: %+v", convs.saved)
	}
}

func TestAnswerStreamAccumulatesAndPersists(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"Goroutines ", "are ", "cheap."}}
	convs := newFakeConvStore()
	svc := newTestService(gen, convs, []vectorstore.Result{relevantHit()})

	var got []string
	ans, err := svc.AnswerStream(context.Background(), "why?", "", func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}

	if len(got) != 3 {
		t.Errorf("deltas forwarded = %v", got)
	}
	if ans.Text != "Goroutines are cheap." {
		t.Errorf("accumulated text = %q", ans.Text)
	}
	if len(convs.saved) != 1 || convs.saved[0].assistant.Content != "Goroutines are cheap." {
		t.Errorf("saved = %+v", convs.saved)
	}
}

func TestAnswerStreamInsufficientContext(t *testing.T) {
	gen := &fakeGenerator{}
	convs := newFakeConvStore()
	svc := newTestService(gen, convs, nil)

	var got []string
	ans, err := svc.AnswerStream(context.Background(), "q", "c1", func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}

	if len(got) != 1 || got[0] != insufficientAnswerStream {
		t.Errorf("deltas = %v", got)
	}
	if strings.Contains(ans.Text, "Please add relevant documents") {
		t.Errorf("streaming refusal carries the batch follow-up: %q", ans.Text)
	}
	if ans.ConversationID != "c1" || ans.MessageID != "" {
		t.Errorf("answer = %+v", ans)
	}
	// Nothing is persisted for a no-context stream.
	if len(convs.saved) != 0 {
		t.Errorf("saved = %+v", convs.saved)
	}
	if gen.streamCalls != 0 {
		t.Errorf("model streamed %d times without context", gen.streamCalls)
	}
}

func TestAnswerStreamFailurePersistsNothing(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"partial "}, err: errors.New("stream cut")}
	convs := newFakeConvStore()
	svc := newTestService(gen, convs, []vectorstore.Result{relevantHit()})

	_, err := svc.AnswerStream(context.Background(), "q", "", func(string) error { return nil })
	if err == nil {
		t.Fatal("expected stream error")
	}
	if len(convs.saved) != 0 {
		t.Errorf("partial stream was persisted: %+v", convs.saved)
	}
}

func TestTitleFromQuestion(t *testing.T) {
	if got := titleFromQuestion("short title"); got != "short title" {
		t.Errorf("short question altered: %q", got)
	}

	exact := strings.Repeat("x", 100)
	if got := titleFromQuestion(exact); got != exact {
		t.Errorf("100-rune question truncated: %d runes", len([]rune(got)))
	}

	long := strings.Repeat("é", 150)
	got := titleFromQuestion(long)
	runes := []rune(got)
	if len(runes) != 100 {
		t.Errorf("truncated title = %d runes, want 100", len(runes))
	}
	if !strings.HasSuffix(got, "...") || string(runes[:97]) != strings.Repeat("é", 97) {
		t.Errorf("title = %q", got)
	}
}
