// Package app provides the shared entry point for the chatpilot binary.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/chatpilot/internal/config"
	"github.com/flemzord/chatpilot/internal/core"
	"github.com/flemzord/chatpilot/internal/telemetry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. SIGHUP triggers a live configuration reload for
// modules that implement core.Reloader; the cron layer additionally polls
// the config file for changes.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Fold the top-level gateway block into the module set so it flows
	// through the normal Configure/Provision/Start lifecycle.
	if cfg.Gateway != nil {
		if cfg.Modules == nil {
			cfg.Modules = make(map[string]yaml.Node)
		}
		cfg.Modules["gateway.http"] = *cfg.Gateway
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	}))

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	// Register the config path so modules (e.g. the gateway) can discover it.
	appCtx.RegisterService("config.path", cfgPath)

	// Tracing is ambient, not a module: it has to outlive every exchange
	// and flush after the last one, so it brackets the app lifecycle.
	var telCfg telemetry.Config
	if cfg.Telemetry != nil {
		if err := cfg.Telemetry.Decode(&telCfg); err != nil {
			return fmt.Errorf("telemetry config: %w", err)
		}
	}
	shutdownTracing, err := telemetry.Setup(context.Background(), telCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}

	// Wire the assistant between LoadModules and Start: discover channels
	// and the completion backend, assemble the request pipeline, call
	// SetInbox on every channel, and append the wrapper to the lifecycle.
	if err := wireAssistant(application, appCtx, ids, cfg, cfgPath, logger); err != nil {
		return err
	}

	if err := application.Start(); err != nil {
		return err
	}
	logger.Info("chatpilot running", "version", params.Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			logger.Info("SIGHUP received, reloading configuration")
			if err := reloadConfig(application, appCtx, cfgPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		default:
			logger.Info("shutdown signal received", "signal", sig.String())
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		}
	}
}

// reloadConfig loads and validates the config file, then hands the fresh
// module configs to every module that supports live reload.
func reloadConfig(application *core.App, appCtx *core.AppContext, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Gateway != nil {
		if cfg.Modules == nil {
			cfg.Modules = make(map[string]yaml.Node)
		}
		cfg.Modules["gateway.http"] = *cfg.Gateway
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return application.ReloadModules(appCtx.WithModuleConfigs(cfg.Modules))
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/chatpilot/chatpilot.yaml →
// ~/.config/chatpilot/chatpilot.yaml → ./chatpilot.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "chatpilot", "chatpilot.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chatpilot", "chatpilot.yaml"))
	}

	candidates = append(candidates, "chatpilot.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/chatpilot if set, otherwise ~/.local/share/chatpilot
// per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "chatpilot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "chatpilot")
}
