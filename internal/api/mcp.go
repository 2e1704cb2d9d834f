package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/scribe/internal/ingest"
	"github.com/kalambet/scribe/internal/rag"
	"github.com/kalambet/scribe/internal/storage"
)

// MCPRetriever abstracts semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string, filter map[string]string) ([]rag.RetrievedChunk, error)
}

// MCPAnswerer abstracts question answering for the MCP layer.
type MCPAnswerer interface {
	Answer(ctx context.Context, question, conversationID string) (rag.Answer, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Index     VectorIndex
	Retriever MCPRetriever
	Answerer  MCPAnswerer
}

// NewMCPServer creates an MCP server exposing the knowledge base to
// agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"scribe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("scribe: personal research knowledge base with cited question answering over ingested documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_sources",
			mcp.WithDescription("Semantically search the ingested documents and return relevant chunks with scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchSources(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question grounded in the ingested documents, with citations."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Optional conversation to continue")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("add_text",
			mcp.WithDescription("Store a piece of text into the knowledge base for later retrieval."),
			mcp.WithString("content", mcp.Description("The text content to store"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Title for the document")),
		),
		mcpAddText(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"scribe://stats",
			"Knowledge Base Stats",
			mcp.WithResourceDescription("Document and chunk counts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchSources(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		chunks, err := deps.Retriever.Retrieve(ctx, query, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) > limit {
			chunks = chunks[:limit]
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID         string  `json:"id"`
			DocumentID string  `json:"document_id"`
			Title      string  `json:"title,omitempty"`
			Text       string  `json:"text"`
			Score      float64 `json:"score"`
		}

		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				ID:         c.ID,
				DocumentID: c.DocumentID,
				Title:      c.Metadata["title"],
				Text:       c.Content,
				Score:      c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		answer, err := deps.Answerer.Answer(ctx, question, conversationID)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"answer":          answer.Text,
			"sources":         answer.Sources,
			"conversation_id": answer.ConversationID,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		title := req.GetString("title", "")
		if title == "" {
			title = "Text Document"
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			Type:      storage.DocTypeText,
			Title:     title,
			Metadata:  map[string]string{"content": content, "source": "mcp"},
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateDocument(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		payload, err := json.Marshal(ingest.ProcessPayload{DocumentID: doc.ID})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal job payload: %v", err)), nil
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobTypeProcessDocument,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("saved document but failed to queue processing: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored document %s, processing queued", doc.ID)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.CountDocuments()
		if err != nil {
			return nil, fmt.Errorf("failed to count documents: %w", err)
		}
		stats, err := deps.Index.Stats()
		if err != nil {
			return nil, fmt.Errorf("failed to read index stats: %w", err)
		}

		b, err := json.Marshal(map[string]any{
			"documents":      docs,
			"indexed_chunks": stats.Count,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
