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
	"golang.org/x/sync/errgroup"

	"lexilearn.com/tutor/internal/api"
	"lexilearn.com/tutor/internal/chat"
	"lexilearn.com/tutor/internal/config"
	"lexilearn.com/tutor/internal/core"
	"lexilearn.com/tutor/internal/exercise"
	"lexilearn.com/tutor/internal/kv"
	"lexilearn.com/tutor/internal/logging"
	"lexilearn.com/tutor/internal/store"
	"lexilearn.com/tutor/internal/tutorclient"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lexi-tutor",
		Short:        "Reading and writing tutor for learners with dyslexia",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), ingestTipsCmd())
	return root
}

// app holds the components shared by every subcommand.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *store.SQLiteStore
	llm    *core.LLMService
	tips   *core.TipService
	redis  *kv.RedisStore
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.db, err = store.NewSQLiteStore(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	var embedder core.Embedder
	if cfg.GeminiAPIKey != "" {
		a.llm, err = core.NewLLMService(ctx, cfg.GeminiAPIKey, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init llm: %w", err)
		}
		embedder = a.llm
	} else {
		logger.Warn("GEMINI_API_KEY not set, tutor replies use templates and tips are disabled")
	}

	a.tips, err = core.NewTipService(a.db, embedder, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init tips: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.llm != nil {
		a.llm.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) kvStore(ctx context.Context) (kv.Store, error) {
	if a.cfg.RedisAddr == "" {
		return a.db.KV(), nil
	}
	rs, err := kv.NewRedisStore(a.cfg.RedisAddr, a.cfg.RedisPassword, "lexi")
	if err != nil {
		return nil, err
	}
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = rs
	a.logger.Info("using redis for session state", zap.String("addr", a.cfg.RedisAddr))
	return rs, nil
}

// chatDeps wires the chat collaborators. A configured tutor service URL
// replaces the local tutor, generator, analyzer and history source.
func (a *app) chatDeps() (chat.Deps, *tutorclient.Client) {
	deps := chat.Deps{
		Timeout: a.cfg.CallTimeout,
		Logger:  a.logger,
	}
	if a.cfg.TutorServiceURL != "" {
		client := tutorclient.NewClient(a.cfg.TutorServiceURL, a.cfg.TutorServiceToken, a.cfg.CallTimeout)
		deps.Tutor = client
		deps.Generator = client
		deps.Analyzer = client
		a.logger.Info("using remote tutor service", zap.String("url", a.cfg.TutorServiceURL))
		return deps, client
	}

	var completer core.Completer
	if a.llm != nil {
		completer = a.llm
	}
	deps.Tutor = core.NewTutorService(completer, a.tips, a.logger)
	deps.Generator = exercise.NewLocalGenerator(time.Now().UnixNano())
	return deps, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			state, err := a.kvStore(ctx)
			if err != nil {
				return err
			}
			deps, client := a.chatDeps()
			svcDeps := core.ChatServiceDeps{
				Store:              a.db,
				KV:                 state,
				Chat:               deps,
				StudyFlushInterval: a.cfg.StudyFlushInterval,
				Logger:             a.logger,
			}
			if client != nil {
				svcDeps.History = client
			}
			chatService := core.NewChatService(svcDeps)
			defer chatService.Close()

			hub := api.NewHub(a.logger)
			chatService.SetSettingsApplier(hub)
			router := api.NewRouter(api.NewAPIHandler(chatService, hub, a.logger))

			srv := &http.Server{
				Addr:         ":" + a.cfg.HTTPPort,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.logger.Info("starting server", zap.String("addr", srv.Addr), zap.Int("tips", a.tips.Len()))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen on %s: %w", srv.Addr, err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.logger.Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if err := g.Wait(); err != nil {
				a.logger.Error("server stopped with error", zap.Error(err))
				return err
			}
			a.logger.Info("server exiting gracefully")
			return nil
		},
	}
}

func ingestTipsCmd() *cobra.Command {
	var (
		file     string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest-tips",
		Short: "Embed the tips table and replace the stored tips",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if file == "" {
				file = a.cfg.TipsFile
			}
			n, err := a.tips.IngestFile(ctx, file, interval)
			if err != nil {
				a.logger.Error("tip ingestion failed", zap.String("file", file), zap.Error(err))
				return err
			}
			a.logger.Info("tip ingestion complete", zap.String("file", file), zap.Int("tips", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "markdown file with a tips table (defaults to TIPS_FILE)")
	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "pause between embedding calls")
	return cmd
}
