package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"gigchain/config"
	"gigchain/core/events"
	"gigchain/core/state"
	"gigchain/core/types"
	"gigchain/gateway"
	"gigchain/gateway/middleware"
	"gigchain/native/marketplace"
	"gigchain/native/reputation"
	"gigchain/observability/logging"
	"gigchain/storage"
)

type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{"type", evt.EventType()}
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		if e := payload.Event(); e != nil {
			for key, value := range e.Attributes {
				attrs = append(attrs, key, value)
			}
		}
	}
	l.logger.Info("event", attrs...)
}

func main() {
	configPath := flag.String("config", "./config.toml", "path to the gigd configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("gigd", cfg.Environment)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "marketplace"))
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	owner, err := cfg.OwnerAddress()
	if err != nil {
		logger.Error("decode owner address", "error", err)
		os.Exit(1)
	}
	vault, err := cfg.EscrowVaultAddress()
	if err != nil {
		logger.Error("decode escrow vault address", "error", err)
		os.Exit(1)
	}
	feePolicy, err := cfg.FeePolicy()
	if err != nil {
		logger.Error("build fee policy", "error", err)
		os.Exit(1)
	}

	mgr := state.NewManager(db)
	sink := eventLogger{logger: logger}
	profiles := reputation.NewLedger(mgr)
	profiles.SetEmitter(sink)

	engine := marketplace.NewEngine()
	engine.SetState(mgr)
	engine.SetReputation(profiles)
	engine.SetEscrowVault(vault)
	engine.SetFeePolicy(feePolicy)
	engine.SetPauses(mgr)
	engine.SetEmitter(sink)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "gigd",
		LogRequests: true,
		Enabled:     true,
	}, logger)

	server := gateway.NewServer(engine, mgr, profiles, owner, logger, obs)
	logger.Info("gigd listening", "address", cfg.ListenAddress)
	if err := http.ListenAndServe(cfg.ListenAddress, server.Handler()); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}
