package main

import (
	"context"
	"fmt"
	"os"

	"github.com/campuslabs/socratic-tutor/internal/config"
	"github.com/campuslabs/socratic-tutor/internal/core"
	"github.com/campuslabs/socratic-tutor/internal/ingest"
	"github.com/campuslabs/socratic-tutor/internal/llm"
	"github.com/campuslabs/socratic-tutor/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Socratic academic tutor backend",
	Long: `tutor answers student questions from a subject's curriculum materials
with Socratic guidance, and generates and grades quizzes from the same materials.

Configuration comes from the environment (and an optional .env file), with
retrieval tunables optionally read from a YAML file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, err = newLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file with retrieval and quiz tunables (default $TUTOR_CONFIG)")
	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, deleteDocumentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// app holds the wired services shared by the subcommands.
type app struct {
	store    store.Store
	provider llm.Provider
	tutor    *core.TutorService
	quizzes  *core.QuizService
	ingestor *ingest.Ingestor
}

func newApp(ctx context.Context) (*app, error) {
	var (
		db  store.Store
		err error
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err = store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.EmbeddingDimension, logger)
	default:
		db, err = store.NewSQLiteStore(cfg.DatabaseURL, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	provider, err := llm.NewProvider(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	engine := core.NewQuizEngine(db, provider, cfg.RAG, cfg.StoreTimeout, logger)
	return &app{
		store:    db,
		provider: provider,
		tutor:    core.NewTutorService(provider, provider, db, cfg, logger),
		quizzes:  core.NewQuizService(engine, db, cfg.StoreTimeout, logger),
		ingestor: ingest.NewIngestor(db, provider, cfg.RAG, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.provider.Close(); err != nil {
		logger.Warn("Failed to close LLM provider", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}
}
