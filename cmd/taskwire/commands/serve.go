package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/taskwire/internal/config"
	"github.com/antoniostano/taskwire/internal/dialog"
	"github.com/antoniostano/taskwire/internal/fleet"
	"github.com/antoniostano/taskwire/internal/httpapi"
	"github.com/antoniostano/taskwire/internal/journal"
	"github.com/antoniostano/taskwire/internal/logging"
	"github.com/antoniostano/taskwire/internal/observability"
	"github.com/antoniostano/taskwire/internal/resolver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if err := logging.Init(logging.Config{
		Level:         cfg.LogLevel,
		Path:          cfg.LogDir,
		Format:        cfg.LogFormat,
		RetentionDays: cfg.LogRetentionDays,
	}); err != nil {
		return err
	}
	log := logging.L().WithComponent("serve")

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := journal.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := fleet.NewRegistry(cfg.AllowedDevices())
	registry.SetAppendHook(func(deviceID, sessionID string, t fleet.Task) {
		metrics.TasksEnqueued.WithLabelValues(t.Kind.String()).Inc()
		rec := journal.TaskRecord{
			TaskID:    t.ID,
			DeviceID:  deviceID,
			SessionID: sessionID,
			Kind:      t.Kind.String(),
			CreatedAt: time.Now().UTC(),
		}
		if err := store.RecordTask(context.Background(), rec); err != nil {
			log.Warn().Err(err).Str("task", t.ID).Msg("journal write failed")
		}
	})

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	convs := dialog.NewConversations(cfg.DialogIdleTimeout)
	convs.StartJanitor(runCtx, time.Minute)

	engine := dialog.NewEngine(registry, convs, cfg.OperatorID, logging.L())
	gateway := httpapi.NewGateway(metrics, logging.L())
	resolv := resolver.New(registry, gateway, logging.L())

	api := httpapi.New(cfg, registry, engine, resolv, store, metrics, gateway, logging.L())
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-runCtx.Done():
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
	return nil
}
