package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rrbotics/rrf/adminapi"
	"github.com/rrbotics/rrf/config"
	"github.com/rrbotics/rrf/dispatcher"
)

var (
	version = "dev"
	commit  = "none"
)

const shutdownTimeout = 5 * time.Second

type cliConfig struct {
	topologyPath string
	adminAddr    string
	logLevel     string
	robotName    string
	outOfCluster bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "rrfctl",
		Short: "rrfctl — run a robot process topology under supervision",
		Long: `rrfctl loads a topology document, constructs the queue fabric and
shared state it describes, and runs every declared worker under the
supervisor's restart policy until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.topologyPath, "topology", envOrDefault("RRF_TOPOLOGY", "./topology.yaml"), "Path to the topology YAML document")
	root.PersistentFlags().StringVar(&cfg.adminAddr, "admin-addr", envOrDefault("RRF_ADMIN_ADDR", ":8090"), "Admin HTTP API and /metrics listen address")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("LOGLEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.robotName, "robot-name", envOrDefault("ROBOT_NAME", ""), "Robot identity stamped on worker heartbeats")
	root.PersistentFlags().BoolVar(&cfg.outOfCluster, "out-of-cluster", envOrDefault("RRF_OUT_OF_CLUSTER", "false") == "true", "Allocate the heartbeat outbox so workers' heartbeats are queued (otherwise Heartbeat is a no-op)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rrfctl %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *cliConfig) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting rrfctl",
		zap.String("version", version),
		zap.String("topology", cfg.topologyPath),
		zap.String("admin_addr", cfg.adminAddr),
		zap.Bool("out_of_cluster", cfg.outOfCluster),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	topo, err := config.Load(cfg.topologyPath)
	if err != nil {
		return fmt.Errorf("failed to load topology: %w", err)
	}

	// Registry of worker builders the binary knows how to construct. A real
	// deployment registers its own worker set here; rrfctl ships empty and
	// expects callers to vendor this binary with their builders wired in, or
	// to use this package's dispatcher.New directly from their own main.
	builders := map[string]dispatcher.Builder{}

	d, err := dispatcher.New(ctx, topo, builders, dispatcher.Options{
		Logger:       logger,
		OutOfCluster: cfg.outOfCluster,
		RobotName:    cfg.robotName,
	})
	if err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer d.Shutdown()

	admin := adminapi.NewServer(d, logger)
	server := &http.Server{Addr: cfg.adminAddr, Handler: admin}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin API server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func buildLogger(level string) (*zap.Logger, error) {
	var zcfg zap.Config
	switch level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zcfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
