package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sitehook/internal/config"
	"sitehook/internal/deployment"
	"sitehook/internal/notify"
	"sitehook/internal/security"
	"sitehook/internal/server"
	"sitehook/pkg/fileutil"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	configFileName = "sitehook.yaml"
	envConfigFile  = "SITEHOOK_CONFIG_FILE"

	// Rotation of the log file: 10 MB per file, a week of history, gzip.
	logMaxSizeMB  = 10
	logMaxAgeDays = 7
)

var (
	configFile string
	logFile    string
	host       string
	port       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook listener",
	Long: `Start the HTTP server to receive GitHub webhook requests.

Pushes to an allowed branch run the deploy command and the response carries its
output. The server refuses to start without a webhook secret.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", os.Getenv(envConfigFile), "Path to sitehook.yaml configuration file")
	serveCmd.Flags().StringVar(&logFile, "log", "", "Path to log file (overrides "+config.EnvLogFile+")")
	serveCmd.Flags().StringVar(&host, "host", "", "Host to bind to (overrides "+config.EnvHost+")")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides "+config.EnvPort+")")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Set up logging
	logger, logFileHandle, err := setupLogging(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting sitehook",
		"version", version,
		"config", cfg.Source,
		"service", cfg.ServiceName,
		"allowed_branches", cfg.AllowedBranches,
		"deploy_command", cfg.DeployCommand,
		"deploy_timeout", cfg.DeployTimeout.String())

	warnInsecureSetup(logger, cfg)

	executor := deployment.NewExecutor(cfg.DeployCommandLine(), cfg.DeployTimeout, logger, cfg.Secret, cfg.GitHubToken)
	deployer := deployment.Serialize(executor, logger)

	notifier := notify.New(cfg.GitHubToken, cfg.ServiceName)
	if cfg.GitHubToken != "" {
		logger.Info("GitHub commit status reporting enabled", "context", cfg.ServiceName)
	}

	srv := server.NewServer(cfg, deployer, notifier, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Restore default signal handling so a second signal exits immediately.
	stop()
	logger.Info("Received shutdown signal, waiting for in-flight requests")

	// Queued deployments each finish within the deploy timeout, so the wait
	// is bounded without a deadline of its own.
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// loadConfig resolves the configuration file, loads it with the environment
// and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = fileutil.FindConfigOptional(configFileName)
	}

	cfg, err := config.Load(path, os.LookupEnv)
	if errors.Is(err, config.ErrMissingSecret) {
		return nil, fmt.Errorf("%w: set %s or 'secret' in %s (generate one with 'sitehook secret')",
			err, config.EnvSecret, configFileName)
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("log") {
		cfg.LogFile = logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// warnInsecureSetup logs problems that do not prevent startup.
func warnInsecureSetup(logger *slog.Logger, cfg *config.Config) {
	if err := security.CheckSecretStrength(cfg.Secret); err != nil {
		logger.Warn("Weak webhook secret, generate a new one with 'sitehook secret'", "reason", err.Error())
	}

	if err := security.CheckDeployCommand(cfg.DeployCommand); err != nil {
		logger.Warn("Deploy command check failed, deployments will likely fail", "reason", err.Error())
	}

	if cfg.Source != "" {
		if err := security.ValidateSecurePermissions(cfg.Source); err != nil {
			logger.Warn("Configuration file holding the secret has loose permissions", "reason", err.Error())
		}
	}

	if ip := net.ParseIP(cfg.Host); cfg.Host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		logger.Warn("Listening on a non-loopback address; terminate TLS in a reverse proxy", "host", cfg.Host)
	}
}

// setupLogging configures slog to write JSON to stdout and to a rotating
// log file. The returned closer flushes and closes the file.
func setupLogging(logPath string) (*slog.Logger, io.Closer, error) {
	// Create log directory if needed
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, security.PermLogDir); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Create the file with secure permissions; rotated files inherit its mode.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	file.Close()

	rotating := newLogWriter(logPath)

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, rotating)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	logger := slog.New(handler)

	return logger, rotating, nil
}

func newLogWriter(logPath string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename: logPath,
		MaxSize:  logMaxSizeMB,
		MaxAge:   logMaxAgeDays,
		Compress: true,
	}
}
