package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/didmediator/internal/broadcast"
	"github.com/nextlevelbuilder/didmediator/internal/bus"
	"github.com/nextlevelbuilder/didmediator/internal/config"
	"github.com/nextlevelbuilder/didmediator/internal/cryptobox"
	"github.com/nextlevelbuilder/didmediator/internal/fcm"
	"github.com/nextlevelbuilder/didmediator/internal/forward"
	"github.com/nextlevelbuilder/didmediator/internal/httpapi"
	"github.com/nextlevelbuilder/didmediator/internal/kvcache"
	"github.com/nextlevelbuilder/didmediator/internal/push"
	"github.com/nextlevelbuilder/didmediator/internal/registry"
	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
	"github.com/nextlevelbuilder/didmediator/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mediator's delivery subsystem",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("serve.config_load_failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("serve.telemetry_setup_failed", "error", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	db, err := registry.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("serve.db_open_failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache := kvcache.New(cfg.CacheTTLs())
	reg := registry.New(db, cache)

	pool := streamtransport.NewPool()
	shardHosts := make([]string, 0, len(cfg.Streams.Shards))
	for _, shard := range cfg.Streams.Shards {
		addr, err := streamtransport.ParseAddress(shard)
		if err != nil {
			slog.Error("serve.shard_address_invalid", "shard", shard, "error", err)
			os.Exit(1)
		}
		shardHosts = append(shardHosts, addr.Host)
	}
	ring := streamtransport.NewRing(shardHosts)

	msgBus := bus.New(pool, ring)

	seed, err := cfg.SeedBytes()
	if err != nil {
		slog.Error("serve.seed_invalid", "error", err)
		os.Exit(1)
	}
	mediator, err := cryptobox.GenerateKeyPair(seed)
	if err != nil {
		slog.Error("serve.mediator_keypair_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("serve.mediator_identity", "verkey", mediator.VerkeyString())

	var fcmClient *fcm.Client
	if cfg.FCM.CredentialsFile != "" {
		fcmClient, err = fcm.NewClient(ctx, cfg.FCM.CredentialsFile, cfg.FCM.ProjectID)
		if err != nil {
			slog.Warn("serve.fcm_disabled", "error", err)
		}
	}

	defaultTTL := cfg.DefaultPushTTLDuration()
	engine := push.NewEngine(pool, reg, fcmClient, defaultTTL)

	router := forward.NewRouter(reg, mediator, func(ctx context.Context, endpointUID string, message json.RawMessage) error {
		_, err := engine.Push(ctx, endpointUID, message, defaultTTL)
		return err
	})

	server := httpapi.NewServer(cfg, reg, pool, ring, msgBus, engine, router, mediator)

	plane := broadcast.New(pool, shardHosts)
	plane.OnEvent(broadcast.EventReload, func(ctx context.Context) error {
		reloaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg.ReplaceFrom(reloaded)
		slog.Info("serve.config_reloaded")
		return nil
	})
	go plane.Listen(ctx)
	go func() {
		if err := plane.WatchConfigFile(ctx, cfgPath); err != nil {
			slog.Warn("serve.config_watch_unavailable", "path", cfgPath, "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("serve.shutdown_signal_received")
		cancel()
	}()

	slog.Info("serve.starting", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port)
	if err := server.Start(ctx); err != nil {
		slog.Error("serve.server_failed", "error", err)
		os.Exit(1)
	}
}
