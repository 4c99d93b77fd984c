package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/calma/backend/internal/analysis/risk"
	"github.com/zhouzirui/calma/backend/internal/config"
	"github.com/zhouzirui/calma/backend/internal/handler"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
	riskmodel "github.com/zhouzirui/calma/backend/internal/model/risk"
	"github.com/zhouzirui/calma/backend/internal/observability"
	"github.com/zhouzirui/calma/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/calma/backend/internal/service/chat"
	"github.com/zhouzirui/calma/backend/internal/service/compaction"
	emotionservice "github.com/zhouzirui/calma/backend/internal/service/emotion"
	"github.com/zhouzirui/calma/backend/internal/storage/sqlite"
	"github.com/zhouzirui/calma/backend/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Start the HTTP API",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cfg, flush, err := bootstrap(ctx)
	defer flush()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := log.FromCtx(ctx)

	store, alerts, closeStore, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.New(reg)

	classifier := emotionservice.NewService(cfg.Classifier,
		emotionservice.WithHTTPClient(&http.Client{Timeout: cfg.Classifier.Timeout}),
		emotionservice.WithMetrics(metrics),
	)
	if classifier.Enabled() {
		logger.Info().Str("primary", cfg.Classifier.PrimaryModel).Str("secondary", cfg.Classifier.SecondaryModel).Msg("emotion classifier enabled")
	} else {
		logger.Warn().Msg("EMOTION_API_TOKEN not set, every turn will be labelled neutral")
	}

	generator, err := ai.New(ctx, cfg.Generation, &http.Client{})
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}
	logger.Info().Str("provider", cfg.Generation.Provider).Msg("generator ready")

	monitor := risk.NewMonitor(cfg.Risk.AlertThreshold)
	chatSvc := chatservice.NewService(chatservice.Dependencies{
		Store:      store,
		Alerts:     alerts,
		Generator:  generator,
		Classifier: classifier,
		Compactor:  compaction.New(store, generator, cfg.Compaction, metrics),
		Monitor:    monitor,
		Metrics:    metrics,
	})

	router := handler.NewRouter(handler.Dependencies{
		Logger:   *logger,
		Chat:     chatSvc,
		Alerts:   alerts,
		Monitor:  monitor,
		Metrics:  metrics,
		Gatherer: reg,
	})

	addr, err := cfg.Server.Addr()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	logger.Info().Str("addr", addr).Msg("calma backend listening")
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info().Msg("calma backend stopped")
	return nil
}

// initStorage picks the persistence backend. The returned func releases it.
func initStorage(ctx context.Context, cfg config.StorageConfig) (chat.Store, riskmodel.AlertStore, func(), error) {
	if cfg.Driver == config.StorageMemory {
		log.FromCtx(ctx).Warn().Msg("using in-memory storage, data is lost on restart")
		return chat.NewMemoryStore(), riskmodel.NewMemoryStore(), func() {}, nil
	}

	db, err := sqlite.NewDB(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.FromCtx(ctx).Info().Str("path", cfg.SQLitePath).Msg("sqlite storage ready")

	closeDB := func() {
		if err := db.Close(); err != nil {
			log.FromCtx(ctx).Warn().Err(err).Msg("failed to close database")
		}
	}
	return sqlite.NewChatRepo(db), sqlite.NewAlertRepo(db), closeDB, nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
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
