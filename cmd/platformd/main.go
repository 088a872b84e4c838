// Command platformd runs one node of the FIPA-compliant agent platform:
// AMS, DF, sandboxed agent runtime, protocol engine, transport, and
// strong-mobility migration, wired together from a single YAML config.
//
// The wiring itself lives in pkg/platformsdk, so an embedder can link the
// same node into its own process instead of running this binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fipacore/platform/internal/infra/config"
	"github.com/fipacore/platform/internal/infra/logger"
	"github.com/fipacore/platform/internal/infra/tracer"
	"github.com/fipacore/platform/pkg/platformsdk"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`platformd - FIPA-compliant multi-agent platform node

USAGE:
    platformd [--config PATH]

FLAGS:
    --config PATH   path to a YAML config file (default: config.yaml)
    --help          show this message

ENV:
    FIPA_CONFIG_KEY   passphrase for "enc:"-prefixed secrets in the config file
    FIPA_STORAGE_KEY  passphrase for agent content-at-rest encryption`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("FIPA_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	log.Info("platformd starting", "node_name", cfg.Node.Name, "data_dir", cfg.Node.DataDir)

	node, err := platformsdk.New(ctx, cfg, platformsdk.WithLogger(log))
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Close(context.Background())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("platformd ready", "node_id", node.NodeID())

	<-ctx.Done()
	log.Info("platformd shutting down")
	return nil
}
