package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sessionhub/sessionhub/internal/app"
	"github.com/sessionhub/sessionhub/internal/config"
)

var (
	port        int
	watchFlag   bool
	sessionRoot string
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sessionhub server",
	Long: `Start the sessionhub server: build the session index, serve the HTTP
API, and run the configured chat bots.

Example:
  sessionhub start
  sessionhub start --port 9000
  sessionhub start --root /data/sessions --watch`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&port, "port", 0, "server port (default: 8970)")
	startCmd.Flags().BoolVar(&watchFlag, "watch", false, "auto-refresh the index on filesystem changes")
	startCmd.Flags().StringVar(&sessionRoot, "root", "", "session root directory (overrides config)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if port != 0 {
		cfg.Server.Port = port
	}
	if sessionRoot != "" {
		cfg.Index.Roots = []string{sessionRoot}
	}
	if watchFlag {
		cfg.Watcher.Enabled = true
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Strs("roots", cfg.Index.Roots).
		Int("port", cfg.Server.Port).
		Msg("starting sessionhub")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
