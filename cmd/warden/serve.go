package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/api"
	"github.com/ernie/whitelist-warden/internal/auth"
	"github.com/ernie/whitelist-warden/internal/collector"
	"github.com/ernie/whitelist-warden/internal/config"
	"github.com/ernie/whitelist-warden/internal/discord"
	"github.com/ernie/whitelist-warden/internal/events"
	"github.com/ernie/whitelist-warden/internal/gateway"
	"github.com/ernie/whitelist-warden/internal/identity"
	"github.com/ernie/whitelist-warden/internal/logger"
	"github.com/ernie/whitelist-warden/internal/registration"
	"github.com/ernie/whitelist-warden/internal/registry"
	redisstore "github.com/ernie/whitelist-warden/internal/registry/redis"
	"github.com/ernie/whitelist-warden/internal/storage"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

// cmdServe runs the bot until SIGINT or SIGTERM
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := serve(cfg, log); err != nil {
		log.Error("warden stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	log.Info("warden starting", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()
	log.Info("database initialized", zap.String("path", cfg.Database.Path))

	store, closeStore, err := openRegistry(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Event fan-out: websocket dashboards always, NATS when configured
	hub := api.NewWebSocketHub(log)
	go hub.Run(ctx)
	sinks := []events.Sink{hub}
	if cfg.NATS.URL != "" {
		natsSink, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return err
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
		log.Info("publishing events to nats", zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}
	bus := events.NewBus(log, sinks...)

	gw := gateway.New(gateway.Config{
		Addr:        cfg.Rcon.Addr(),
		Password:    cfg.Rcon.Password,
		DialTimeout: cfg.Rcon.DialTimeout,
		Timeout:     cfg.Rcon.Timeout,
		IdleTimeout: cfg.Rcon.IdleTimeout,
	}, log)

	resolver := identity.New(identity.Config{
		BaseURL:   cfg.Identity.BaseURL,
		Timeout:   cfg.Identity.Timeout,
		RateLimit: cfg.Identity.RateLimit,
		Burst:     cfg.Identity.Burst,
	}, nil, log)

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}

	poller := collector.NewPoller(gw, discord.NewPanel(session, cfg.Discord.StatusChannelID), db, collector.PollerOptions{
		Interval:     cfg.Poller.Interval,
		ProbeTimeout: cfg.Poller.ProbeTimeout,
		Events:       bus,
		Logger:       log,
	})

	service := registration.NewService(resolver, store, gw, registration.Options{
		MutationTimeout: cfg.Registry.MutationTimeout,
		Status:          poller,
		Events:          bus,
		Logger:          log,
	})
	dispatcher := registration.NewDispatcher(ctx, service, cfg.Registry.MaxConcurrent, log)

	bot := discord.NewBot(ctx, session, service, dispatcher, cfg.Discord.GuildID, log)
	if err := bot.Open(); err != nil {
		return err
	}

	poller.Start(ctx)
	log.Info("status poller started", zap.Duration("interval", cfg.Poller.Interval))

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration, cfg.Auth.AdminPasswordHash)
	if !authService.Enabled() {
		log.Warn("jwt_secret or admin_password_hash not configured, operator API disabled")
	}

	router := api.NewRouter(poller, service, gw, authService, hub, log)
	addr := net.JoinHostPort(cfg.HTTP.ListenAddr, strconv.Itoa(cfg.HTTP.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Sequential shutdown
	httpCtx, httpCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	if err := bot.Close(); err != nil {
		log.Warn("closing discord session", zap.Error(err))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := dispatcher.Drain(drainCtx); err != nil {
		log.Warn("in-flight registrations did not finish", zap.Error(err))
	}

	poller.Stop()
	gw.Close()
	bus.Close()
	cancel()

	log.Info("shutdown complete")
	return runErr
}

// openRegistry builds the dedup store the config selects. The returned
// func releases it.
func openRegistry(ctx context.Context, cfg *config.Config, db *storage.Store, log *zap.Logger) (registry.Store, func(), error) {
	switch cfg.Registry.Driver {
	case "redis":
		store, err := redisstore.New(redisstore.Config{
			URL:            cfg.Registry.RedisURL,
			KeyPrefix:      cfg.Registry.RedisKeyPrefix,
			ReservationTTL: cfg.Registry.ReservationTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		log.Info("using redis registry", zap.String("prefix", cfg.Registry.RedisKeyPrefix))
		return store, func() { store.Close() }, nil

	default:
		store := registry.NewMemoryStore(registry.MemoryOptions{
			ReservationTTL: cfg.Registry.ReservationTTL,
			Journal:        db,
			Logger:         log,
		})
		n, err := store.Load(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading registrations: %w", err)
		}
		log.Info("using memory registry", zap.Int("registrations", n))
		return store, func() {}, nil
	}
}
