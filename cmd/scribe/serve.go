package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/scribe/internal/api"
	"github.com/kalambet/scribe/internal/chunker"
	"github.com/kalambet/scribe/internal/config"
	"github.com/kalambet/scribe/internal/embedding"
	"github.com/kalambet/scribe/internal/extract"
	"github.com/kalambet/scribe/internal/ingest"
	"github.com/kalambet/scribe/internal/llm"
	"github.com/kalambet/scribe/internal/rag"
	"github.com/kalambet/scribe/internal/storage"
	"github.com/kalambet/scribe/internal/vectorstore"
)

var mcpStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scribe server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", false, "also serve MCP over stdio")
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "scribe version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	index := vectorstore.NewIndex(store.DB())

	gemini := llm.NewClient(
		cfg.Gemini.APIKey,
		cfg.Gemini.ChatModel,
		cfg.Gemini.EmbedModel,
		cfg.Gemini.MaxTokens,
		cfg.Gemini.Temperature,
	)
	gateway := embedding.NewGateway(gemini, cfg.Gemini.EmbedDim)

	ch, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return fmt.Errorf("configuring chunker: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pipeline := ingest.NewPipeline(store, ch, gateway, index, ingest.Extractors{
		Web:     extract.NewWebExtractor(httpClient),
		PDF:     extract.NewPDFExtractor(),
		YouTube: extract.NewYouTubeExtractor(httpClient),
		Text:    extract.NewTextProcessor(),
	})

	retriever := rag.NewRetriever(gateway, index, cfg.Retrieval.TopK)
	assembler := rag.NewAssembler(store, cfg.Retrieval.RelevanceThreshold, cfg.Retrieval.TopKContext)
	ragSvc := rag.NewService(retriever, assembler, gemini, store, cfg.Chat.MaxHistory)

	handler := api.NewHandler(api.Deps{
		Store:          store,
		Index:          index,
		RAG:            ragSvc,
		UploadDir:      cfg.Server.UploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	worker := ingest.NewWorker(store, pipeline, 500*time.Millisecond)
	go worker.Run(ctx)

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Index:     index,
			Retriever: retriever,
			Answerer:  ragSvc,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "scribe listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
