package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/thermohub/internal/config"
	"github.com/joshp123/thermohub/internal/credstore"
	"github.com/joshp123/thermohub/internal/hub"
	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/metrics"
	"github.com/joshp123/thermohub/internal/mqtt"
	"github.com/joshp123/thermohub/internal/rate"
	"github.com/joshp123/thermohub/internal/retry"
	"github.com/joshp123/thermohub/internal/rpc"
	"github.com/joshp123/thermohub/internal/scheduler"
	"github.com/joshp123/thermohub/internal/server"
	"github.com/joshp123/thermohub/internal/smartcontrol"
	"github.com/joshp123/thermohub/internal/thermostat"
	"github.com/joshp123/thermohub/internal/vendors/lyric"
	"github.com/joshp123/thermohub/internal/vendors/tcc"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Core.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalw("thermohub stopped", "error", err)
	}
	log.Infow("thermohub stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	var blob credstore.BlobStore
	if cfg.Blob != nil {
		s3, err := credstore.NewS3Store(cfg.Blob.StoreConfig())
		if err != nil {
			return fmt.Errorf("blob store: %w", err)
		}
		blob = s3
	}
	store, err := credstore.Open(ctx, cfg.Core.StatePath, blob)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}

	lyricCfg := cfg.Lyric
	if lyricCfg == nil {
		lyricCfg = &config.LyricConfig{}
	}
	tccCfg := cfg.TCC
	if tccCfg == nil {
		tccCfg = &config.TCCConfig{}
	}
	lyricAdapter := lyric.New(lyricCfg.AdapterConfig())
	adapters, err := thermostat.NewAdapters(lyricAdapter, tcc.New(tccCfg.AdapterConfig()))
	if err != nil {
		return err
	}

	coord := retry.New(store, adapters, log.Named("retry"))

	// The bridge is created before the engine it notifies.
	var engine atomic.Pointer[smartcontrol.Engine]
	sensors := smartcontrol.NewSensorCache()
	sinks := []hub.Sink{metrics.StateSink{}}
	if cfg.MQTT != nil {
		bridgeCfg, err := cfg.MQTT.BridgeConfig()
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		bridge, err := mqtt.Connect(bridgeCfg, sensors, func() {
			if e := engine.Load(); e != nil {
				e.Notify()
			}
		}, log.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer bridge.Close()
		sinks = append(sinks, bridge)
	}

	h := hub.New(store, adapters, coord, hub.Options{
		ConfirmDelay: cfg.Poll.ConfirmDelay,
		Sinks:        sinks,
		Log:          log.Named("hub"),
	})
	defer h.Close()

	if err := h.LoadAccounts(ctx); err != nil {
		log.Warnw("some stored accounts failed to load", "error", err)
	}
	seedAccounts(ctx, cfg, store, h, log)

	sched := scheduler.New(h, coord, scheduler.Config{
		Interval:     *cfg.Poll.Interval,
		Throttle:     cfg.Poll.Throttle,
		RenewMargin:  cfg.Poll.RenewMargin,
		RetryBackoff: cfg.Poll.RetryBackoff,
	}, log.Named("scheduler"))
	h.OnAccountsChanged(sched.AccountsChanged)

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(runCtx)
	}()

	if cfg.SmartControl != nil && cfg.SmartControl.Enabled {
		engineCfg, err := cfg.SmartControl.EngineConfig()
		if err != nil {
			return fmt.Errorf("smart control: %w", err)
		}
		e, err := smartcontrol.New(engineCfg, sensors, h, log.Named("smartcontrol"))
		if err != nil {
			return fmt.Errorf("smart control: %w", err)
		}
		engine.Store(e)
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Run(runCtx)
		}()
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, log.Named("grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	rpc.RegisterThermostatsService(grpcServer.Server, h, log.Named("rpc"))

	registry := server.NewRegistry(metrics.Collectors(), rate.MetricsCollectors(), credstore.MetricsCollectors())

	var onboarding *server.LyricOnboarding
	if cfg.Lyric != nil && cfg.Lyric.RedirectURL != "" {
		secret, err := config.ReadSecretFile(cfg.Lyric.APISecretFile)
		if err != nil {
			return fmt.Errorf("lyric.api_secret_file: %w", err)
		}
		onboarding = server.NewLyricOnboarding(server.LyricOnboardingConfig{
			APIKey:      cfg.Lyric.APIKey,
			APISecret:   secret,
			RedirectURL: cfg.Lyric.RedirectURL,
		}, lyricAdapter, h, log.Named("oauth"))
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewRouter(server.NewAPI(h, log.Named("api")), onboarding, registry))

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		if err := httpServer.Run(runCtx); err != nil {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	log.Infow("thermohub started", "grpc", cfg.Core.GRPCAddr, "http", cfg.Core.HTTPAddr, "devices", len(h.Keys()))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	grpcServer.Shutdown(shutdownCtx)
	wg.Wait()
	return runErr
}

// seedAccounts adds configured accounts the credential store has not seen.
func seedAccounts(ctx context.Context, cfg *config.Config, store *credstore.Store, h *hub.Hub, log *zap.SugaredLogger) {
	for _, account := range cfg.Accounts {
		creds, err := account.Credentials(cfg.Lyric)
		if err != nil {
			log.Errorw("account config unusable", "vendor", account.Vendor, "error", err)
			continue
		}
		id := creds.AccountID()
		if store.Exists(id) {
			continue
		}
		cred, devices, err := h.AddAccount(ctx, creds)
		if err != nil {
			log.Errorw("seed account failed", "account", id, "error", err)
			continue
		}
		log.Infow("seeded account", "account", cred.AccountID, "devices", len(devices))
	}
}
