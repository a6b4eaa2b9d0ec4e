package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/tutu-network/modelctl/internal/daemon"
	"github.com/tutu-network/modelctl/internal/logging"
)

// openDaemon loads the configuration, applies global flags and starts
// logging.
func openDaemon() (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	if err := logging.Init(level, cfg.Logging.File, logLevelFlag != ""); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	return daemon.NewWithConfig(cfg, daemon.Home())
}

// rateLimit returns the --rate-limit value in bytes per second, 0 if unset.
func rateLimit() (int64, error) {
	if rateLimitFlag == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(rateLimitFlag)
	if err != nil {
		return 0, fmt.Errorf("--rate-limit: %w", err)
	}
	return int64(n), nil
}

// signalContext is cancelled on Ctrl-C so in-flight transfers clean up.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
