package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yuchenw/deepresearch/internal/buildconfig"
	"github.com/yuchenw/deepresearch/internal/config"
	"github.com/yuchenw/deepresearch/internal/conflict"
	"github.com/yuchenw/deepresearch/internal/domain"
	"github.com/yuchenw/deepresearch/internal/embedding"
	"github.com/yuchenw/deepresearch/internal/ids"
	"github.com/yuchenw/deepresearch/internal/ledger"
	"github.com/yuchenw/deepresearch/internal/llm"
	"github.com/yuchenw/deepresearch/internal/monitor"
	"github.com/yuchenw/deepresearch/internal/orchestrator"
	"github.com/yuchenw/deepresearch/internal/retrieval"
	"github.com/yuchenw/deepresearch/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	sessionFlag := flag.String("session", "", "session id to resume (default: new session)")
	contextFlag := flag.Bool("context", true, "prefix planning with session context on follow-up turns")
	stanceFlag := flag.Bool("stance", false, "tag claims with pro/neutral/con stances")
	flag.Parse()

	if err := config.Load(); err != nil {
		panic(err)
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	logger.Info("research agent starting",
		zap.String("version", buildconfig.Version()),
		zap.String("llm_provider", config.LLMProvider()))

	ctx := context.Background()

	llmClient, err := llm.NewClient(config.LLMProvider(), config.LLMAPIKey(), config.LLMRateRPS(), config.LLMRateBurst())
	if err != nil {
		logger.Fatal("LLM client initialization failed", zap.Error(err))
	}

	// The knowledge base and archive are optional; without a database the
	// agent falls back to simulated retrieval and in-memory state only.
	var (
		docStore     domain.DocumentStore
		archiveStore domain.ArchiveStore
		embedClient  domain.EmbeddingClient
	)
	if dbURL := config.DatabaseURL(); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		logger.Info("connected to database")

		docStore = store.NewDocumentStore(pool)
		archiveStore = store.NewArchiveStore(pool)

		embedClient, err = embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
		if err != nil {
			logger.Fatal("embedding client initialization failed", zap.Error(err))
		}
	}

	sink := monitor.NewSink(config.MonitorURL(), logger)
	defer sink.Close()

	bank := ledger.New(archiveStore, logger)
	retriever := retrieval.New(llmClient, docStore, embedClient, logger)
	pipeline := conflict.New(bank, llmClient, retriever, sink, logger)
	agent := orchestrator.New(bank, llmClient, retriever, pipeline, sink, config.MaxLoops(), logger)

	sessionID := *sessionFlag
	if sessionID == "" {
		sessionID = ids.New("sess")
	} else if archiveStore != nil {
		summary, err := archiveStore.LoadArchive(ctx, sessionID)
		switch {
		case err == nil:
			bank.RestoreSessionArchive(sessionID, summary)
			logger.Info("session archive restored", zap.String("session_id", sessionID))
		case !errors.Is(err, store.ErrNotFound):
			logger.Warn("could not restore session archive", zap.Error(err))
		}
	}
	if *stanceFlag {
		cfg := domain.DefaultSessionConfig()
		cfg.StanceEnabled = true
		bank.SetSessionConfig(sessionID, cfg)
	}

	fmt.Printf("session %s: enter a research question (ctrl-d to quit)\n", sessionID)

	firstTurn := true
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}

		result := agent.RunTurn(ctx, sessionID, query, orchestrator.TurnOptions{
			IncludeContext: *contextFlag && !firstTurn,
		})
		firstTurn = false

		fmt.Println()
		fmt.Println(result.Answer)
		fmt.Printf("\n[%d claims, turn %s]\n", len(result.Claims), result.TurnID)
	}

	logger.Info("session ended", zap.String("session_id", sessionID))
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
