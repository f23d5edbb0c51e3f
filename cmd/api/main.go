package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/ulink/backend/internal/config"
	"github.com/zhouzirui/ulink/backend/internal/handler"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/service/ai"
	"github.com/zhouzirui/ulink/backend/internal/service/backup"
	"github.com/zhouzirui/ulink/backend/internal/service/chat"
	"github.com/zhouzirui/ulink/backend/internal/service/user"
	"github.com/zhouzirui/ulink/backend/internal/store"
	"github.com/zhouzirui/ulink/backend/internal/webhook"
)

const tokenPruneInterval = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "ulink-api").Logger()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Log.Level)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	registry, err := loadAssistants(cfg.Assistants)
	if err != nil {
		return err
	}

	repo, err := store.NewSQLite(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	users := user.NewService(repo, registry, user.Config{TokenTTL: cfg.Auth.TokenTTL})
	if err := users.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		return err
	}
	if cfg.Auth.AdminUsername == "" {
		log.Warn().Msg("ADMIN_USERNAME not set, no bootstrap admin will be created")
	}

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI service, internal assistants are unavailable")
		} else {
			log.Info().Str("model", cfg.AI.Model).Bool("streaming", cfg.AI.StreamResponse).Msg("AI service initialized")
		}
	} else {
		log.Warn().Msg("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	backupService := backup.NewService(repo, cfg.Storage.BackupDir)

	router := handler.NewRouter(handler.Deps{
		Assistants:   registry,
		Chat:         chat.NewService(repo),
		Users:        users,
		Backup:       backupService,
		AI:           aiService,
		Webhooks:     webhook.NewClient(nil),
		AllowOrigins: cfg.Server.AllowOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Int("assistants", len(registry.List())).Msg("Ulink backend listening")
		return runServer(gctx, srv)
	})
	if cfg.Storage.BackupSchedule != "" {
		scheduler, err := backup.NewScheduler(backupService, cfg.Storage.BackupSchedule)
		if err != nil {
			return err
		}
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	g.Go(func() error {
		pruneTokens(gctx, users)
		return nil
	})
	return g.Wait()
}

func loadAssistants(cfg config.AssistantsConfig) (*assistant.MemoryStore, error) {
	if cfg.File == "" {
		return assistant.NewMemoryStore(assistant.Seed()), nil
	}
	items, err := assistant.LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", cfg.File).Int("count", len(items)).Msg("assistant registry loaded")
	return assistant.NewMemoryStore(items), nil
}

func pruneTokens(ctx context.Context, users *user.Service) {
	ticker := time.NewTicker(tokenPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := users.PruneTokens(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("token pruning failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("expired tokens pruned")
			}
		}
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
