// Package main is the entry point for the enforcer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize enforcer", observability.Error(err))
	}

	if err := app.start(ctx); err != nil {
		logger.Fatal("failed to start enforcer", observability.Error(err))
	}

	waitForShutdown(app, cancel, logger)
}

// parseFlags parses command line flags. Defaults come from the environment.
func parseFlags(fs *flag.FlagSet, args []string) cliFlags {
	var flags cliFlags
	fs.StringVar(&flags.configPath, "config", getEnvOrDefault("ENFORCER_CONFIG", "configs/enforcer.yaml"),
		"Path to configuration file")
	fs.StringVar(&flags.logLevel, "log-level", getEnvOrDefault("ENFORCER_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&flags.logFormat, "log-format", getEnvOrDefault("ENFORCER_LOG_FORMAT", "json"),
		"Log format (json, console)")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)
	return flags
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("enforcer version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.EnforcerConfig {
	logger.Info("starting enforcer",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.Int("apis", len(cfg.APIs)),
		observability.Bool("cache_enabled", cfg.Cache.Enabled),
		observability.Bool("revocation_enabled", cfg.Revocation.Enabled),
		observability.Bool("backend_jwt_enabled", cfg.BackendJWT.Enabled),
	)
	return cfg
}
