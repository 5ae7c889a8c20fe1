package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/pos-offline/internal/auth"
	"github.com/example/pos-offline/internal/catalog"
	"github.com/example/pos-offline/internal/config"
	"github.com/example/pos-offline/internal/connectivity"
	"github.com/example/pos-offline/internal/events"
	"github.com/example/pos-offline/internal/httpapi"
	"github.com/example/pos-offline/internal/maintenance"
	"github.com/example/pos-offline/internal/remote"
	"github.com/example/pos-offline/internal/retry"
	"github.com/example/pos-offline/internal/store/sqlite"
	"github.com/example/pos-offline/internal/syncengine"
)

// NewServeCommand creates the serve command, the daemon entry point.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the offline sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts)
		},
	}
}

func runServe(opts *RootOptions) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	pool, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer func() {
		if cerr := pool.Close(); cerr != nil {
			logger.Error("failed to close local store", "error", cerr)
		}
	}()

	if err := pool.Migrate(ctx, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	sessions := sqlite.NewSessionRepository(pool)
	users := sqlite.NewUserCacheRepository(pool)
	transactions := sqlite.NewTransactionRepository(pool)
	syncErrors := sqlite.NewSyncErrorRepository(pool)
	catalogRepo := sqlite.NewCatalogRepository(pool)

	executor := retry.NewExecutorWithLogger(cfg.RetryPolicy(), logger)
	bus := events.NewBus()

	client := remote.NewClient(cfg.RemoteBaseURL, cfg.ProbeTimeout, logger)

	monitor := connectivity.NewMonitor(connectivity.ProberFunc(client.Probe), bus, connectivity.Options{
		Interval: cfg.ProbeInterval,
		Timeout:  cfg.ProbeTimeout,
		Logger:   logger,
	})

	syncManager := syncengine.NewManager(transactions, syncErrors, client, executor, bus, syncengine.Options{
		Reachable: monitor.Reachable,
		Logger:    logger,
	})

	authService := auth.NewService(users, sessions, executor, client, bus, auth.Options{
		CacheTTL:  cfg.CredentialCacheTTL,
		MaxStale:  cfg.CredentialMaxStale,
		Reachable: monitor.Reachable,
		Logger:    logger,
	})

	refresher := catalog.NewRefresher(catalogRepo, client, executor, logger)
	unsubscribeCatalog := refresher.SubscribeToReachability(bus)
	defer unsubscribeCatalog()

	sweeper := maintenance.NewSweeper(sessions, syncErrors, executor, maintenance.Options{
		Retention: cfg.Retention,
		Interval:  cfg.SweepInterval,
		Logger:    logger,
	})

	syncManager.Start()
	monitor.Start()
	sweeper.Start()
	defer func() {
		sweeper.Stop()
		monitor.Stop()
		syncManager.Stop()
	}()

	api := httpapi.NewServer(authService, syncManager, monitor, refresher, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("daemon started", "addr", server.Addr, "remote", cfg.RemoteBaseURL)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	logger.Info("daemon stopped")
	return nil
}
