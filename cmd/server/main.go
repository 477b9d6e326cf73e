package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/ai"
	"github.com/candicemama-blip/thirdshelf/internal/auth"
	"github.com/candicemama-blip/thirdshelf/internal/booksearch"
	"github.com/candicemama-blip/thirdshelf/internal/config"
	"github.com/candicemama-blip/thirdshelf/internal/domain"
	httpserver "github.com/candicemama-blip/thirdshelf/internal/http"
	"github.com/candicemama-blip/thirdshelf/internal/logging"
	"github.com/candicemama-blip/thirdshelf/internal/realtime"
	"github.com/candicemama-blip/thirdshelf/internal/repository"
	"github.com/candicemama-blip/thirdshelf/internal/store"
)

var (
	rootCmd = &cobra.Command{
		Use:          "thirdshelf",
		Short:        "Third Shelf reading tracker API",
		SilenceUsage: true,
		RunE:         runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	}
	autoMigrate bool
)

func init() {
	rootCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply database migrations before serving")
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and opens the store.
func bootstrap(ctx context.Context) (config.Config, *zap.Logger, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("config error: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger.Named("store"),
	}
	st, err := store.New(dbCtx, cfg.DBURL, cfg.RedisURL, storeOpts)
	if err != nil {
		_ = logger.Sync()
		return config.Config{}, nil, nil, fmt.Errorf("connect store: %w", err)
	}
	return cfg, logger, st, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	_, logger, st, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer st.Close()

	if err := st.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, st, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer st.Close()

	if autoMigrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	repo := repository.New(st)
	authSvc := auth.NewService(repo.Users, st.Redis(), cfg.SessionTTL(), logger)

	books := realtime.NewHub("books", st.Redis(), repo.Books.Snapshot, logger)
	defer books.Close()
	vocab := realtime.NewHub("vocab", st.Redis(), func(ctx context.Context, owner string) ([]domain.VocabWord, error) {
		return repo.Vocab.List(ctx, owner, repository.VocabListFilters{})
	}, logger)
	defer vocab.Close()

	search, err := booksearch.NewHTTPClient(cfg.BookSearchURL, cfg.BookSearchAPIKey, time.Duration(cfg.BookSearchTimeoutSecs)*time.Second, logger)
	if err != nil {
		return fmt.Errorf("init book search client: %w", err)
	}

	deps := httpserver.Deps{
		Store:  st,
		Repo:   repo,
		Auth:   authSvc,
		Search: search,
		Books:  books,
		Vocab:  vocab,
		Logger: logger,
	}
	if cfg.AIEnabled() {
		completer, err := ai.NewAnthropicClient(ai.AnthropicConfig{
			APIKey:    cfg.AIAPIKey,
			BaseURL:   cfg.AIBaseURL,
			Model:     cfg.AIModel,
			MaxTokens: cfg.AIMaxTokens,
			Timeout:   time.Duration(cfg.AITimeoutSecs) * time.Second,
		}, logger)
		if err != nil {
			return fmt.Errorf("init ai client: %w", err)
		}
		assistant, err := ai.NewAssistant(completer, cfg.AIRatePerMin, logger)
		if err != nil {
			return fmt.Errorf("init assistant: %w", err)
		}
		deps.Assistant = assistant
	} else {
		logger.Warn("AI_API_KEY not set; AI features disabled")
	}

	server := httpserver.New(cfg, deps)
	logger.Info("listening", zap.String("port", cfg.Port))

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("graceful shutdown error", zap.Error(err))
	}
	return nil
}
