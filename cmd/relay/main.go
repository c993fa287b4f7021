package main

import (
	"log"
	"os"

	"github.com/stackwatch/relay/internal/api"
	"github.com/stackwatch/relay/internal/config"
	"github.com/stackwatch/relay/internal/dispatch"
	"github.com/stackwatch/relay/internal/engine"
	"github.com/stackwatch/relay/internal/entity"
	"github.com/stackwatch/relay/internal/registry"
	"github.com/stackwatch/relay/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("relay: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"engines_file", cfg.EnginesFile,
		"poll_interval", cfg.PollInterval,
	)

	actions, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open action database: %v", err)
	}
	defer actions.Close()

	entities, err := entity.NewSQLiteStore(cfg.EntityDBPath)
	if err != nil {
		log.Fatalf("failed to open entity database: %v", err)
	}
	defer entities.Close()

	engineCfgs, err := config.LoadEngines(cfg.EnginesFile)
	if err != nil {
		log.Fatalf("failed to load engine fleet: %v", err)
	}
	instances := make([]*engine.Instance, 0, len(engineCfgs))
	for _, ec := range engineCfgs {
		instances = append(instances, engine.New(ec))
		logger.Info("relay: registered engine", "name", ec.Name, "url", ec.URL)
	}

	reg := registry.New(instances, entities, registry.ParseMergePolicy(cfg.MergePolicy), logger)
	applier := entity.NewApplier(entities, entities)
	poller := dispatch.NewPoller(actions, applier, cfg.PollInterval, logger)
	dispatcher := dispatch.NewDispatcher(reg, actions, entities, entities, poller, logger)

	srv := api.NewServer(cfg.ListenAddr, actions, reg, dispatcher, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
