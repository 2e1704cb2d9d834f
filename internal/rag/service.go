package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/scribe/internal/storage"
)

const (
	insufficientAnswer = "I don't have enough information in the provided sources to answer this question. Please add relevant documents first."

	// The streaming variant has no follow-up sentence; it mirrors what
	// the model itself says when the context is thin.
	insufficientAnswerStream = "I don't have enough information in the provided sources to answer this question."

	titleMaxRunes = 100
)

// Generator produces model completions.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) error
}

// ConversationStore persists and recalls conversation turns.
type ConversationStore interface {
	GetConversation(id string) (storage.Conversation, error)
	GetRecentMessages(conversationID string, limit int) ([]storage.Message, error)
	SaveTurn(conv *storage.Conversation, user, assistant storage.Message) error
}

// Answer is the result of one question/answer turn.
type Answer struct {
	Text           string
	Sources        []storage.SourceReference
	ConversationID string
	MessageID      string
	CreatedAt      time.Time
}

// Service orchestrates a full RAG turn: retrieve, assemble, generate,
// persist.
type Service struct {
	retriever  *Retriever
	assembler  *Assembler
	generator  Generator
	convs      ConversationStore
	maxHistory int
	logger     *slog.Logger
}

// NewService creates a Service. maxHistory is the number of recent turns
// (user plus assistant pairs) carried into the prompt.
func NewService(retriever *Retriever, assembler *Assembler, generator Generator, convs ConversationStore, maxHistory int) *Service {
	if maxHistory <= 0 {
		maxHistory = 5
	}
	return &Service{
		retriever:  retriever,
		assembler:  assembler,
		generator:  generator,
		convs:      convs,
		maxHistory: maxHistory,
		logger:     slog.Default(),
	}
}

// Answer runs one turn and persists it. conversationID may be empty, in
// which case a conversation is created titled after the question.
func (s *Service) Answer(ctx context.Context, question, conversationID string) (Answer, error) {
	contextBlock, sources, err := s.prepare(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	if contextBlock == "" {
		return s.persistTurn(question, insufficientAnswer, nil, conversationID)
	}

	history, err := s.history(conversationID)
	if err != nil {
		return Answer{}, err
	}

	text, err := s.generator.Generate(ctx, BuildPrompt(history, contextBlock, question))
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	return s.persistTurn(question, text, sources, conversationID)
}

// AnswerStream runs one turn, forwarding answer deltas to onDelta as
// they arrive. The turn is persisted only after the stream completes; a
// cancelled or failed stream leaves no record. An insufficient-context
// turn emits a single delta and persists nothing.
func (s *Service) AnswerStream(ctx context.Context, question, conversationID string, onDelta func(string) error) (Answer, error) {
	contextBlock, sources, err := s.prepare(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	if contextBlock == "" {
		if err := onDelta(insufficientAnswerStream); err != nil {
			return Answer{}, err
		}
		return Answer{Text: insufficientAnswerStream, ConversationID: conversationID}, nil
	}

	history, err := s.history(conversationID)
	if err != nil {
		return Answer{}, err
	}

	var full strings.Builder
	collect := func(delta string) error {
		full.WriteString(delta)
		return onDelta(delta)
	}
	if err := s.generator.GenerateStream(ctx, BuildPrompt(history, contextBlock, question), collect); err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	return s.persistTurn(question, full.String(), sources, conversationID)
}

func (s *Service) prepare(ctx context.Context, question string) (string, []storage.SourceReference, error) {
	chunks, err := s.retriever.Retrieve(ctx, question, nil)
	if err != nil {
		return "", nil, err
	}
	contextBlock, sources := s.assembler.Assemble(chunks)
	return contextBlock, sources, nil
}

// history renders the most recent turns oldest-first. An empty or
// unknown conversation renders to an empty string.
func (s *Service) history(conversationID string) (string, error) {
	if conversationID == "" {
		return "", nil
	}
	messages, err := s.convs.GetRecentMessages(conversationID, s.maxHistory*2)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	// GetRecentMessages returns newest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return RenderHistory(messages), nil
}

func (s *Service) persistTurn(question, answer string, sources []storage.SourceReference, conversationID string) (Answer, error) {
	now := time.Now().UTC()

	var conv *storage.Conversation
	if conversationID == "" {
		conv = &storage.Conversation{
			ID:        uuid.New().String(),
			Title:     titleFromQuestion(question),
			CreatedAt: now,
		}
		conversationID = conv.ID
	} else if _, err := s.convs.GetConversation(conversationID); err != nil {
		return Answer{}, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}

	user := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           storage.RoleUser,
		Content:        question,
		CreatedAt:      now,
	}
	assistant := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           storage.RoleAssistant,
		Content:        answer,
		Sources:        sources,
		CreatedAt:      now,
	}

	if err := s.convs.SaveTurn(conv, user, assistant); err != nil {
		return Answer{}, fmt.Errorf("saving turn: %w", err)
	}

	return Answer{
		Text:           answer,
		Sources:        sources,
		ConversationID: conversationID,
		MessageID:      assistant.ID,
		CreatedAt:      now,
	}, nil
}

// titleFromQuestion caps the conversation title at 100 runes.
func titleFromQuestion(question string) string {
	runes := []rune(question)
	if len(runes) <= titleMaxRunes {
		return question
	}
	return string(runes[:titleMaxRunes-3]) + "..."
}
