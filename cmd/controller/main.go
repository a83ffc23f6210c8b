// Command controller runs the replication controller described in
// spec.md §4.4: the RPC-reachable registry of authoritative replica
// state for every brokerName in a cluster. Wiring follows
// jakub-galecki-raft/example/main.go's config-then-construct-then-listen
// shape.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hzh0425/rocketmq/internal/config"
	"github.com/hzh0425/rocketmq/pkg/controller"
)

func main() {
	configFile := flag.String("config", "controller.yaml", "path to controller config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.ReadConfig(*configFile)
	if err != nil {
		logger.Error("failed to read config", "error", err)
		os.Exit(1)
	}

	registry, err := controller.Open(filepath.Join(cfg.EventLogDir, "events.log"), logger)
	if err != nil {
		logger.Error("failed to open registry", "dir", cfg.EventLogDir, "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	srv := controller.NewServer(registry, logger)
	defer srv.Close()

	logger.Info("controller listening", "address", cfg.ControllerListenAddress)
	if err := srv.ListenAndServe(cfg.ControllerListenAddress); err != nil {
		logger.Error("controller server stopped", "error", err)
		os.Exit(1)
	}
}
