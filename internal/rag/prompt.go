package rag

import (
	"strings"

	"github.com/kalambet/scribe/internal/storage"
)

// systemPrompt constrains the model to the retrieved context and fixes
// the citation format the answer must use.
const systemPrompt = `You are a helpful research assistant. Answer questions based ONLY on the provided context from the sources below.

IMPORTANT GUIDELINES:
1. Always cite your sources using this format: [Source: Title, Page/Timestamp]
2. If the context doesn't contain enough information to answer the question, say "I don't have enough information in the provided sources to answer this question."
3. Be concise but comprehensive
4. Use direct quotes when appropriate
5. If multiple sources say similar things, cite all relevant sources
6. Do not make up information or use knowledge outside the provided context

When citing:
- For PDFs: [Source: Document Title, Page X]
- For web articles: [Source: Article Title]
- For YouTube videos: [Source: Video Title, Timestamp]`

// BuildPrompt stitches the system prompt, optional conversation history,
// retrieved context, and the question into the final model input.
func BuildPrompt(history, contextBlock, question string) string {
	full := systemPrompt + "\n\n" + history + "\n\n" + contextBlock
	return full + "\n\n" + question
}

// RenderHistory formats messages (oldest first) as alternating User and
// Assistant lines. Empty input renders to an empty string.
func RenderHistory(messages []storage.Message) string {
	if len(messages) == 0 {
		return ""
	}
	parts := []string{"CONVERSATION HISTORY:\n"}
	for _, msg := range messages {
		role := "Assistant"
		if msg.Role == storage.RoleUser {
			role = "User"
		}
		parts = append(parts, role+": "+msg.Content+"\n")
	}
	return strings.Join(parts, "\n")
}
