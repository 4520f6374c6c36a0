package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/renlowe/paradrop/internal/actionsync"
	"github.com/renlowe/paradrop/internal/classify"
	"github.com/renlowe/paradrop/internal/config"
	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/domain/procstate"
	"github.com/renlowe/paradrop/internal/enrich"
	"github.com/renlowe/paradrop/internal/mcp"
	"github.com/renlowe/paradrop/internal/pipeline"
	"github.com/renlowe/paradrop/internal/route"
	"github.com/renlowe/paradrop/internal/sqlite"
	"github.com/renlowe/paradrop/internal/watcher"
)

func main() {
	command := "run"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Stderr keeps stdout clean for JSON-RPC in mcp mode; the other
	// commands log there too so output composes the same way.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := run(command, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(command string, cfg config.Config, logger *slog.Logger) error {
	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "run":
		return app.runPipeline(ctx, cfg, logger)
	case "reconcile":
		return app.proc.ReconcileAll(ctx)
	case "mcp":
		return app.runMCP(ctx, logger)
	default:
		return fmt.Errorf("unknown command %q (want run, reconcile, or mcp)", command)
	}
}

// app holds the wired component graph shared by all commands.
type app struct {
	db      *sqlite.DB
	actions *action.Service
	docs    *sqlite.DocumentRepository
	tracker *procstate.Tracker
	proc    *pipeline.Processor
}

func buildApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	for _, dir := range []string{cfg.Holding, cfg.Vault, cfg.Work} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := ensureDBDir(cfg.DB.Path); err != nil {
		return nil, fmt.Errorf("preparing database path: %w", err)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	docRepo := sqlite.NewDocumentRepository(db)
	actionRepo := sqlite.NewActionRepository(db)
	procRepo := sqlite.NewProcessingRepository(db)
	seqRepo := sqlite.NewSequenceRepository(db)

	actionSvc := action.NewService(actionRepo, logger)
	tracker := procstate.NewTracker(procRepo, logger)

	entities := make([]classify.Entity, 0, len(cfg.Classify.Entities))
	for _, e := range cfg.Classify.Entities {
		entities = append(entities, classify.Entity{
			Name:    e.Name,
			Domains: e.Domains,
			Aliases: e.Aliases,
		})
	}
	researcher := classify.NewDocumentResearcher(docRepo, entities)
	classifier := classify.New(entities, cfg.Classify.Threshold,
		cfg.ResearchTimeout(), researcher, logger)

	router := route.New(cfg.Vault, seqRepo, logger)
	orchestrator := enrich.NewOrchestrator(cfg.Enrich.Command, cfg.Work,
		cfg.EnrichTimeout(), logger)
	syncer := actionsync.NewSynchronizer(actionSvc, cfg.Vault, logger)

	proc := pipeline.NewProcessor(
		tracker, docRepo, classifier, router, orchestrator, syncer,
		actionSvc, nil,
		pipeline.Options{
			WorkDir:       cfg.Work,
			EnrichRetries: cfg.Enrich.MaxRetries,
			Backoff:       cfg.EnrichBackoff(),
		},
		logger,
	)

	return &app{
		db:      db,
		actions: actionSvc,
		docs:    docRepo,
		tracker: tracker,
		proc:    proc,
	}, nil
}

func (a *app) runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	watch := watcher.New(cfg.Holding, cfg.QuietPeriod(), a.proc, logger)
	runner := pipeline.NewRunner(a.proc, watch, cfg.Workers, logger)

	logger.Info("pipeline starting",
		"holding", cfg.Holding, "vault", cfg.Vault, "workers", cfg.Workers)
	return runner.Run(ctx)
}

func (a *app) runMCP(ctx context.Context, logger *slog.Logger) error {
	server := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Actions:   a.actions,
			Documents: a.docs,
			Status:    a.tracker,
		},
		Logger: logger,
	})

	logger.Info("mcp server starting", "transport", "stdio")
	if err := server.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
