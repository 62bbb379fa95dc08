package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pberga/coursemind/api"
	"github.com/pberga/coursemind/chat"
	"github.com/pberga/coursemind/config"
	"github.com/pberga/coursemind/database"
	"github.com/pberga/coursemind/embeddings"
	"github.com/pberga/coursemind/ingestion"
	"github.com/pberga/coursemind/llm"
	"github.com/pberga/coursemind/vectorindex"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "documents":
		documentsCmd(cfg, logger, os.Args[2:])
	default:
		logger.Error("unknown command", "command", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// services bundles everything built once at startup. Clients are constructed
// here and injected; nothing initializes lazily on the request path.
type services struct {
	pool      *pgxpool.Pool
	store     *database.DocumentStore
	index     vectorindex.Index
	ingestion *ingestion.Service
	chat      *chat.Service
}

func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (*services, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}

	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	index, err := vectorindex.New(cfg, pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("vector index setup: %w", err)
	}

	// A failure here leaves the service in degraded mode: ingestion and
	// search report the index as unavailable instead of crashing.
	if err := index.EnsureReady(ctx); err != nil {
		logger.Warn("vector index not ready, continuing degraded", "error", err)
	}

	store := database.NewDocumentStore(pool)

	return &services{
		pool:      pool,
		store:     store,
		index:     index,
		ingestion: ingestion.NewService(index, embedder, store, logger),
		chat:      chat.NewService(index, embedder, llmClient, logger),
	}, nil
}

func serveCmd(cfg config.Config, logger *slog.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.HTTPAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse serve flags", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svcs, err := buildServices(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build services", err)
	}
	defer svcs.pool.Close()

	server := api.New(svcs.ingestion, svcs.chat, svcs.store, api.HeaderIdentity{}, logger)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("listening", "addr", *addr, "vector_provider", cfg.VectorProvider,
		"embeddings", cfg.Embeddings.Provider+"/"+cfg.Embeddings.Model,
		"llm", cfg.LLM.Provider+"/"+cfg.LLM.Model)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal(logger, "http server", err)
	}
}

func ingestCmd(cfg config.Config, logger *slog.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	owner := flags.String("owner", "", "owner id the document belongs to")
	course := flags.String("course", "", "course id the document belongs to")
	path := flags.String("file", "", "path to the PDF document")
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse ingest flags", err)
	}

	if *owner == "" || *course == "" || *path == "" {
		fatal(logger, "ingest", fmt.Errorf("--owner, --course and --file are required"))
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		fatal(logger, "read document", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svcs, err := buildServices(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build services", err)
	}
	defer svcs.pool.Close()

	result, err := svcs.ingestion.Ingest(ctx, ingestion.Request{
		OwnerID:  *owner,
		CourseID: *course,
		Filename: filepath.Base(*path),
		Data:     data,
	})
	if err != nil {
		fatal(logger, "ingest document", err)
	}

	fmt.Printf("Ingested %s: document %s, %d chunks, %d characters\n",
		result.Filename, result.DocumentID, result.ChunkCount, result.TextLength)
	for _, warning := range result.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
}

func askCmd(cfg config.Config, logger *slog.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	owner := flags.String("owner", "", "owner id whose documents to search")
	question := flags.String("question", "", "question to ask")
	topK := flags.Int("top-k", chat.DefaultTopK, "number of context chunks to retrieve")
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse ask flags", err)
	}

	if *owner == "" || strings.TrimSpace(*question) == "" {
		fatal(logger, "ask", fmt.Errorf("--owner and --question are required"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svcs, err := buildServices(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build services", err)
	}
	defer svcs.pool.Close()

	resp, err := svcs.chat.Ask(ctx, *owner, *question, *topK)
	if err != nil {
		fatal(logger, "ask question", err)
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for idx, source := range resp.Sources {
			fmt.Printf("%d. %s (score %.3f)\n", idx+1, source.Filename, source.Score)
		}
	}
}

func documentsCmd(cfg config.Config, logger *slog.Logger, args []string) {
	flags := flag.NewFlagSet("documents", flag.ExitOnError)
	owner := flags.String("owner", "", "owner id whose documents to list")
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse documents flags", err)
	}

	if *owner == "" {
		fatal(logger, "documents", fmt.Errorf("--owner is required"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svcs, err := buildServices(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "build services", err)
	}
	defer svcs.pool.Close()

	docs, err := svcs.store.ListByOwner(ctx, *owner)
	if err != nil {
		fatal(logger, "list documents", err)
	}

	if len(docs) == 0 {
		fmt.Println("no documents uploaded")
		return
	}

	for _, doc := range docs {
		fmt.Printf("%s  %s  %d bytes  %d chunks  %s  %s\n",
			doc.ID, doc.Filename, doc.FileSize, doc.ChunkCount,
			doc.Status(), doc.UploadedAt.Format(time.RFC3339))
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("Usage: coursemind <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve      Start the HTTP API server")
	fmt.Println("  ingest     Ingest a PDF document for an owner (--owner, --course, --file)")
	fmt.Println("  ask        Ask a question against ingested documents (--owner, --question)")
	fmt.Println("  documents  List an owner's uploaded documents (--owner)")
}
