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

	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"simctl/internal/adapters/behavior"
	"simctl/internal/adapters/connectivity"
	"simctl/internal/adapters/executor"
	"simctl/internal/adapters/identity"
	"simctl/internal/adapters/profiles"
	"simctl/internal/adapters/storage/memory"
	"simctl/internal/adapters/storage/sqlite"
	"simctl/internal/domain"
	"simctl/internal/infrastructure/config"
	"simctl/internal/infrastructure/httpapi"
	obs "simctl/internal/infrastructure/observability"
	"simctl/internal/usecase"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session controller and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Addr = addr
			}
			if restore, _ := cmd.Flags().GetBool("restore"); restore {
				cfg.AutoRestore = true
			}
			if quiet, _ := cmd.Flags().GetBool("no-banner"); !quiet {
				printBanner(cfg)
			}
			return serve(cfg)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	cmd.Flags().Bool("restore", false, "Restore a saved session on startup")
	cmd.Flags().Bool("no-banner", false, "Skip the startup banner")
	return cmd
}

func printBanner(cfg config.Config) {
	fig := figure.NewColorFigure("SIMCTL", "doom", "cyan", true)
	fig.Print()
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	_, _ = cyan.Println("════════════════════════════════════════════════")
	_, _ = green.Printf("    %s | listening on %s | state: %s\n", obs.Build().Version, cfg.Addr, cfg.StateBackend)
	_, _ = cyan.Println("════════════════════════════════════════════════")
}

type stores struct {
	state    usecase.StateStore
	settings usecase.SettingsStore
	history  usecase.HistoryRepository
	ready    func(ctx context.Context) error
	close    func() error
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.StateBackend == "memory" {
		m := memory.NewStore(cfg.HistoryMax, 0)
		return stores{state: m, settings: m, history: m, close: func() error { return nil }}, nil
	}
	db, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return stores{}, err
	}
	return stores{state: db, settings: db, history: db, ready: db.Ping, close: db.Close}, nil
}

func serve(cfg config.Config) error {
	logger := obs.NewLogger(cfg.Logging())
	logger.Info().Str("addr", cfg.Addr).Str("state_backend", cfg.StateBackend).Msg("starting simctl")

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Error().Err(err).Msg("close state store")
		}
	}()

	settings, err := st.settings.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings.IsZero() {
		settings = domain.DefaultSettings()
		settings.AirplaneModeDelayMs = cfg.AirplaneModeDelayMs
		if err := st.settings.SaveSettings(ctx, settings); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		logger.Info().Msg("settings initialized with defaults")
	}
	settle := cfg.AirplaneModeDelay()
	if settings.AirplaneModeDelayMs > 0 {
		settle = time.Duration(settings.AirplaneModeDelayMs) * time.Millisecond
	}

	metrics := obs.NewMetrics()
	monitor := httpapi.NewMonitorHub()
	ident := identity.NewIPEcho(cfg.IdentityURL, cfg.IdentityTimeout(), logger)
	rotation := usecase.NewRotationService(newToggler(cfg, logger), ident, settle, logger)
	exec := executor.NewHTTPExecutor(executor.Config{
		Timeout: cfg.HTTPTimeout(),
		Proxy:   http.ProxyFromEnvironment,
	}, st.settings, logger)

	ctrl := usecase.NewController(usecase.ControllerConfig{
		RequestTimeout:        cfg.RequestTimeout(),
		BehaviorMaxWait:       cfg.BehaviorMaxWait(),
		RotationRecoveryDelay: 2 * time.Second,
		IntervalUnit:          time.Second,
		FailureBackoff:        cfg.FailureBackoff(),
		RetryLimit:            cfg.RetryLimit,
		CheckpointEvery:       cfg.CheckpointEvery,
	}, usecase.ControllerDeps{
		State:     st.state,
		Settings:  st.settings,
		History:   st.history,
		Executors: map[domain.TransportMode]usecase.RequestExecutor{domain.TransportHTTP: exec},
		Rotator:   rotation,
		Identity:  ident,
		Behavior:  behavior.NewSimulator(logger),
		Profiles:  profiles.NewCatalog(),
		Timing:    usecase.NewTimingDistributor(settings.MinInterval, settings.MaxInterval),
		Recorder:  metrics,
		Logger:    logger,
	})
	ctrl.AddListener(monitor)
	ctrl.AddListener(metrics)

	deps := &httpapi.Deps{
		Cfg:      cfg,
		Logger:   logger,
		Metrics:  metrics,
		Ctrl:     ctrl,
		Settings: st.settings,
		Monitor:  monitor,
		Ready:    st.ready,
		SettingsApplied: func(s domain.Settings) {
			if s.AirplaneModeDelayMs > 0 {
				rotation.SetSettleDelay(time.Duration(s.AirplaneModeDelayMs) * time.Millisecond)
			}
		},
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.AutoRestore {
		if ok, _ := st.state.Exists(ctx); ok {
			if ctrl.RestoreSession(ctx) {
				logger.Info().Msg("saved session restored on startup")
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case <-stop:
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("session loop did not drain before shutdown deadline")
	}
	logger.Info().Msg("simctl stopped")
	return serveErr
}

func newToggler(cfg config.Config, logger *zerolog.Logger) usecase.ConnectivityToggler {
	if cfg.Toggler == "none" {
		logger.Warn().Msg("connectivity toggler disabled, rotation only succeeds if the identity changes on its own")
		return &connectivity.Noop{}
	}
	return connectivity.NewADB(cfg.ADBPath, cfg.ADBSerial, logger)
}
