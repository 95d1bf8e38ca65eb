// SPDX-License-Identifier: MIT

// Command daemon runs the SubMaker service: subtitle search fan-out,
// downloads, AI translation and the SSE activity stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/submaker/submaker/internal/activity"
	"github.com/submaker/submaker/internal/api"
	"github.com/submaker/submaker/internal/config"
	"github.com/submaker/submaker/internal/health"
	"github.com/submaker/submaker/internal/httpx"
	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/loginlock"
	"github.com/submaker/submaker/internal/providers"
	"github.com/submaker/submaker/internal/resilience"
	"github.com/submaker/submaker/internal/search"
	"github.com/submaker/submaker/internal/store"
	"github.com/submaker/submaker/internal/telemetry"
	"github.com/submaker/submaker/internal/translate"
	"github.com/submaker/submaker/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	log.Configure(log.Config{
		Level:   "info",
		Service: "submaker",
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
		os.Exit(2)
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("pre-flight checks failed")
		os.Exit(2)
	}

	if err := run(ctx, cfg, *configPath, logger); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Settings, configPath string, logger zerolog.Logger) error {
	tele, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "submaker",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.Protocol,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tele.Shutdown(context.Background()) }()

	isolation, err := config.ResolveIsolationKey(&cfg)
	if err != nil {
		return fmt.Errorf("resolve isolation key: %w", err)
	}
	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version.String()).
		Str("isolation", isolation).
		Msg("starting")

	st, redisClient, err := openStore(cfg, isolation, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	httpClient := httpx.NewClient()
	lockKey, tokenKey := loginKeys(isolation)
	login := loginlock.New(redisClient, lockKey, cfg.Login.Cooldown, cfg.Login.TotalTimeout)
	tokens := loginlock.NewTokenStore(redisClient, tokenKey, 23*time.Hour)

	clients := buildProviders(cfg, httpClient, login, tokens, logger)
	if len(clients) == 0 {
		return errors.New("no providers could be built, check credentials and provider names")
	}

	breakers := resilience.NewRegistry()
	engine := search.NewEngine(clients, breakers, cfg.ProviderTimeout())
	downloader := providers.NewDownloader(clients, httpClient, st)

	tracker := activity.NewTracker(st)
	bus := activity.NewBus(activity.Options{
		MaxListeners:     cfg.Activity.MaxListeners,
		Heartbeat:        cfg.Activity.Heartbeat,
		MaxConnectionAge: cfg.Activity.MaxConnectionAge,
	}, tracker)
	go bus.Run(ctx)

	translator := translate.NewOpenAITranslator(cfg.Translate.APIKey, cfg.Translate.BaseURL, cfg.Translate.Model)
	translation := translate.NewService(st, translator, bus, translate.Options{
		BatchSize:    cfg.Translate.BatchSize,
		PermanentTTL: cfg.Translate.PermanentTTL,
		BypassTTL:    cfg.Translate.BypassTTL,
	})

	warmer := httpx.NewWarmer(httpClient, breakers,
		providers.WarmupTargets(cfg.Providers.Enabled), cfg.Providers.KeepAliveInterval)
	if cfg.Providers.WarmupOnStart {
		warmer.WarmUp(ctx)
	}
	go warmer.Run(ctx)

	var ready func() error
	if pinger, ok := st.(health.Pinger); ok {
		ready = health.NewReadiness(pinger).Check
	}

	srv := api.NewServer(api.Deps{
		Settings:   cfg,
		Engine:     engine,
		Downloader: downloader,
		Translator: translation,
		Bus:        bus,
		Tracker:    tracker,
		Breakers:   breakers,
		Ready:      ready,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: SSE connections stay open up to the bus's max
		// connection age.
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(next config.Settings) {
				// Provider credentials and tuning need a restart; the watch
				// only surfaces the change so operators notice.
				logger.Info().
					Str("event", "config.changed").
					Str("path", configPath).
					Msg("configuration file changed, restart to apply")
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("config watch stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info().
		Str("event", "daemon.listening").
		Str("addr", cfg.ListenAddr).
		Strs("providers", providerNames(clients)).
		Msg("serving")

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "daemon.shutdown").Msg("signal received, draining")
		bus.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// loginKeys derives the shared lock and token keys for the authenticated
// OpenSubtitles account. Both carry the isolation prefix so deployments
// sharing one Redis never coordinate (or clobber tokens) across instances
// that belong to different installations.
func loginKeys(isolation string) (lock, token string) {
	return isolation + ":login:opensubtitles", isolation + ":token:opensubtitles"
}

// openStore prefers Redis and falls back to the filesystem store so the
// service stays usable without shared infrastructure.
func openStore(cfg config.Settings, isolation string, logger zerolog.Logger) (store.Store, *redis.Client, error) {
	if cfg.Redis.Addr != "" {
		rs, err := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, isolation, log.WithComponent("store"))
		if err == nil {
			return rs, rs.Client(), nil
		}
		logger.Warn().
			Err(err).
			Str("event", "store.redis_unavailable").
			Str("addr", cfg.Redis.Addr).
			Msg("redis unreachable, falling back to filesystem store")
	}
	fs, err := store.NewFilesystemStore(cfg.DataDir, isolation, log.WithComponent("store"))
	if err != nil {
		return nil, nil, fmt.Errorf("open filesystem store: %w", err)
	}
	return fs, nil, nil
}

func buildProviders(cfg config.Settings, client *http.Client, login *loginlock.Coordinator, tokens *loginlock.TokenStore, logger zerolog.Logger) map[string]providers.Provider {
	clients := make(map[string]providers.Provider, len(cfg.Providers.Enabled))
	for _, name := range cfg.Providers.Enabled {
		deps := providers.Deps{Client: client}
		switch name {
		case "opensubtitles":
			deps.APIKey = cfg.Providers.OpenSubtitlesAPIKey
			deps.Username = cfg.Providers.OpenSubtitlesUsername
			deps.Password = cfg.Providers.OpenSubtitlesPassword
			deps.Login = login
			deps.Tokens = tokens
			if deps.Username == "" || deps.Password == "" {
				logger.Info().
					Str("provider", name).
					Msg("no account credentials, skipping authenticated provider")
				continue
			}
		case "opensubtitles-v3":
			deps.APIKey = cfg.Providers.OpenSubtitlesAPIKey
		case "subdl":
			deps.APIKey = cfg.Providers.SubDLAPIKey
		}

		p, err := providers.Build(name, deps)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("provider", name).
				Strs("available", providers.Available()).
				Msg("skipping unknown provider")
			continue
		}
		clients[name] = p
	}
	return clients
}

func providerNames(clients map[string]providers.Provider) []string {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	return names
}
