package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/audit"
	"inferd/internal/capacity"
	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/registry"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	cmd, _ := newRootCmdWith()
	return cmd
}

// newRootCmdWith exposes the bound options so tests can drive buildConfig
// through the real flag set.
func newRootCmdWith() (*cobra.Command, *serveOptions) {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Local LLM inference server with capacity-gated model lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadDotEnv()
			cfg, err := buildConfig(cmd, *opts)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	f := root.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .json or .toml)")
	f.StringVar(&opts.addr, "addr", config.DefaultAddr, "HTTP listen address, e.g. :8080")
	f.StringVar(&opts.modelsDir, "models-dir", config.DefaultModelsDir, "Directory to scan for *.gguf model files")
	f.StringVar(&opts.defaultModel, "default-model", "", "Model to load and activate at startup")
	f.IntVar(&opts.budgetMB, "budget-mb", 0, "Memory budget in MiB for all loaded models")
	f.Float64Var(&opts.margin, "margin", config.DefaultMargin, "Safety margin applied on top of estimated model costs")
	f.BoolVar(&opts.probe, "probe", false, "Query nvidia-smi for free VRAM instead of a fixed budget")
	f.StringVar(&opts.unloadPolicy, "unload-policy", "drain", "What happens to in-flight generations on unload: drain|cancel")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: trace|debug|info|warn|error")
	f.StringVar(&opts.logFormat, "log-format", "json", "Log format: json|console")
	f.StringVar(&opts.corsOrigins, "cors-origins", "", "Comma-separated origins; enables CORS when set")
	f.StringVar(&opts.auditPath, "audit-db", "", "SQLite file for the operation audit trail")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the inferd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("inferd", version)
		},
	})

	return root, opts
}

// serve wires the full server from cfg and blocks until shutdown.
func serve(cfg config.Config) error {
	logger := newLogger(cfg.Log)

	catalog, err := buildCatalog(cfg, logger)
	if err != nil {
		return err
	}

	var guard *capacity.Guard
	if cfg.Probe {
		guard = capacity.NewGuard(capacity.NewSMIProbe(0), cfg.Margin)
	} else {
		guard = capacity.NewStaticGuard(cfg.BudgetMB, cfg.Margin)
	}

	mgr := manager.New(catalog, runtime.NewDefault(runtime.Options{}), guard, manager.Config{
		UnloadPolicy:   cfg.UnloadPolicy,
		DrainTimeout:   cfg.DrainTimeout.Std(),
		StreamBuffer:   cfg.StreamBuffer,
		MaxConcurrent:  cfg.MaxConcurrent,
		MaxWait:        cfg.MaxWait.Std(),
		RequestTimeout: cfg.RequestTimeout.Std(),
		Defaults:       cfg.Sampling,
	})
	mgr.SetLogger(logger.With().Str("component", "manager").Logger())

	if cfg.Events.RedisAddr != "" {
		pub := manager.NewRedisPublisher(cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.Channel, cfg.Events.RedisDB)
		defer pub.Close()
		mgr.SetPublisher(pub)
		logger.Info().Str("addr", cfg.Events.RedisAddr).Str("channel", cfg.Events.Channel).Msg("publishing lifecycle events")
	}

	if cfg.Audit.Path != "" {
		path, err := fsutil.ExpandHome(cfg.Audit.Path)
		if err != nil {
			return err
		}
		auditLog, err := audit.Open(path, logger.With().Str("component", "audit").Logger())
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer auditLog.Close()
		mgr.SetAudit(auditLog)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetLogger(logger.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, nil, nil)
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr)}

	if cfg.DefaultModel != "" {
		go func() {
			if err := mgr.Load(baseCtx, cfg.DefaultModel); err != nil {
				logger.Warn().Err(err).Str("model", cfg.DefaultModel).Msg("default model load failed")
				return
			}
			if err := mgr.SetActive(cfg.DefaultModel); err != nil {
				logger.Warn().Err(err).Str("model", cfg.DefaultModel).Msg("default model activate failed")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Int("models", len(catalog)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Let in-flight requests finish within the drain window, then cancel
	// them and force the remaining connections closed.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.DrainTimeout.Std())
	defer cancelDrain()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("drain window elapsed; cancelling in-flight requests")
		baseCancel()
		forceCtx, cancelForce := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelForce()
		_ = srv.Shutdown(forceCtx)
	}
	baseCancel()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.DrainTimeout.Std()+5*time.Second)
	defer cancelClose()
	if err := mgr.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("manager close")
	}
	return nil
}

// buildCatalog assembles the model catalog, tolerating a missing scan
// directory so explicitly configured models still serve.
func buildCatalog(cfg config.Config, logger zerolog.Logger) ([]types.ModelDescriptor, error) {
	dir := cfg.ModelsDir
	if expanded, err := fsutil.ExpandHome(dir); err == nil && !fsutil.PathExists(expanded) {
		logger.Warn().Str("dir", dir).Msg("models directory not found; serving configured models only")
		dir = ""
	}
	return registry.Build(cfg.Models, dir)
}

// newLogger builds the process logger from the log section.
func newLogger(lc config.LogConfig) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if lc.Format == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
