// Command broker runs a single replica of a brokerName: the local
// commit log, the epoch cache, and the replicastate.Manager that
// reconciles this broker's role with the controller and drives HA
// replication (spec.md §4.1-§4.3). Wiring follows
// jakub-galecki-raft/example/main.go's config-then-construct-then-listen
// shape.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hzh0425/rocketmq/internal/config"
	"github.com/hzh0425/rocketmq/pkg/epoch"
	"github.com/hzh0425/rocketmq/pkg/replicastate"
	"github.com/hzh0425/rocketmq/pkg/store"
)

const defaultCommitLogCacheBytes = 32 * 1024 * 1024

func main() {
	configFile := flag.String("config", "broker.yaml", "path to broker config file")
	dataDir := flag.String("data-dir", "./data", "directory for the epoch cache and other broker state")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.ReadConfig(*configFile)
	if err != nil {
		logger.Error("failed to read config", "error", err)
		os.Exit(1)
	}

	commitLog := store.NewMemoryStore(defaultCommitLogCacheBytes)

	epochCache, err := epoch.Open(filepath.Join(*dataDir, "epochFileCheckpoint"), logger)
	if err != nil {
		logger.Error("failed to open epoch cache", "error", err)
		os.Exit(1)
	}
	defer epochCache.Close()

	mgr := replicastate.NewManager(replicastate.Config{
		ClusterName:                  cfg.ClusterName,
		BrokerName:                   cfg.BrokerName,
		LocalAddress:                 cfg.LocalAddress,
		LocalHaAddress:               cfg.LocalHaAddress,
		ControllerAddresses:          cfg.ControllerAddresses(),
		SyncControllerMetadataPeriod: cfg.SyncControllerMetadataPeriod,
		SyncBrokerMetadataPeriod:     cfg.SyncBrokerMetadataPeriod,
		CheckSyncStateSetPeriod:      cfg.CheckSyncStateSetPeriod,
		HASendHeartbeatInterval:      cfg.HASendHeartbeatInterval,
		HAHousekeepingInterval:       cfg.HAHousekeepingInterval,
	}, commitLog, epochCache, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	logger.Info("broker started", "broker", cfg.BrokerName, "address", cfg.LocalAddress)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("broker shutting down", "broker", cfg.BrokerName)
	mgr.Shutdown()
}
