package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/openethereum/rpcharness/config"
	"github.com/openethereum/rpcharness/harness"
	"github.com/openethereum/rpcharness/logging"
	"github.com/openethereum/rpcharness/metrics"
)

// Harness binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// harnessMain is the true entry point for the harness. This function is
// required since defers created in the top-level scope of a main method
// aren't executed if os.Exit() is called.
func harnessMain() (int, error) {
	var err error
	// Start with a default Config with sane settings
	cfg := config.DefaultConfig()
	// Pre-parse the command line to check for an alternative Config file
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return harness.ExitFailure, err
	}
	// Load configuration file overwriting defaults with any specified options
	cfg, err = config.ReadConfigFile(cfg)
	if err != nil {
		return harness.ExitFailure, err
	}

	cfg, err = config.SetupConfig(cfg)
	if err != nil {
		return harness.ExitFailure, err
	}
	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return harness.ExitFailure, err
	}

	// Targets named by the directive may log below the base level, so the
	// sink has to accept the lowest of them.
	logLevel := cfg.LogLevel()
	base := logging.New(cfg.LogDirective.MinLevel(logLevel), logging.File{
		Path:       cfg.LogFilePath(),
		MaxSizeMB:  cfg.MaxLogFileSize,
		MaxBackups: cfg.MaxLogFiles,
	}, cfg.JSONLog)
	defer func() { _ = base.Sync() }()
	logger := base.WithOptions(zap.IncreaseLevel(logLevel))
	ctx := logging.NewContext(context.Background(), base)

	defer func() {
		logger.Info("shutdown complete")
	}()

	logger.Sugar().Infof("version: %s, dir: %v, mode: %v, directive: %v", version, cfg.HarnessDir, cfg.Node.Mode, cfg.LogDirective)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if cfg.MetricsPort != nil {
		lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(*cfg.MetricsPort))))
		if err != nil {
			return harness.ExitFailure, fmt.Errorf("failed to listen for metrics: %w", err)
		}
		metricsCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(metricsCtx, lis); err != nil {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	return harness.New(cfg.Harness()).Run(ctx), nil
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed before exiting.
	code, err := harnessMain()
	if err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
	}
	os.Exit(code)
}
