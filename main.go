package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/ton-dispatch-go/api"
	"github.com/toncenter/ton-dispatch-go/bridge"
	"github.com/toncenter/ton-dispatch-go/chain"
	"github.com/toncenter/ton-dispatch-go/config"
	_ "github.com/toncenter/ton-dispatch-go/docs"
	"github.com/toncenter/ton-dispatch-go/indexer"
	"github.com/toncenter/ton-dispatch-go/multisig"
	"github.com/toncenter/ton-dispatch-go/notify"
	"github.com/toncenter/ton-dispatch-go/relay"
	"github.com/toncenter/ton-dispatch-go/router"
	"github.com/toncenter/ton-dispatch-go/sender"
	"github.com/toncenter/ton-dispatch-go/sessions"
	"github.com/toncenter/ton-dispatch-go/toncenter"
)

//	@title			TON Dispatch
//	@version		1.0.0
//	@description	Answers TON Connect requests for local wallets and coordinates multisig orders.
//	@basePath		/

const shutdownTimeout = 10 * time.Second

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithError(err).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	logger := newLogger(cfg.Log.Level)

	// ctx for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, canceling context...")
		cancel()
	}()

	shutdownTracing, err := setupTracing(ctx, cfg.Telemetry)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up tracing")
	}

	redisOptions, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse Redis URL")
	}
	redisClient := redis.NewClient(redisOptions)
	defer redisClient.Close()

	if cfg.Postgres.DSN == "" {
		logger.Fatal("postgres.dsn is required")
	}
	db, err := indexer.New(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns, cfg.Postgres.Timeout)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to indexer database")
	}
	defer db.Close()

	wallets := cfg.Wallets()
	keyring, err := cfg.Keyring()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load wallet keys")
	}

	sessionStore := sessions.New(redisClient, cfg.Redis.Prefix)
	transport := bridge.New(cfg.BridgeConfig(), sessionStore, logger)

	senderDeps := sender.Deps{
		Chain: toncenter.New(toncenter.Settings{
			Endpoint: cfg.Toncenter.Endpoint,
			ApiKey:   cfg.Toncenter.ApiKey,
			Timeout:  cfg.Toncenter.Timeout,
		}),
		Encoder: chain.WalletV4{},
		Signers: keyring,
		Jettons: db,
		Logger:  logger,
	}
	if cfg.Battery.Endpoint != "" {
		senderDeps.Battery = relay.NewBattery(relay.BatterySettings{Endpoint: cfg.Battery.Endpoint, Timeout: cfg.Battery.Timeout})
	}
	if cfg.Gasless.Endpoint != "" {
		senderDeps.Gasless = relay.NewGasless(relay.GaslessSettings{Endpoint: cfg.Gasless.Endpoint, Timeout: cfg.Gasless.Timeout})
	}

	// The coordinator sends proposals and approvals from signer wallets, which pay their own fees.
	coordinator := multisig.NewCoordinator(cfg.MultisigConfig(), multisig.Deps{
		Encoder: chain.Multisig{},
		Indexer: db,
		Wallets: wallets,
		Sender:  sender.NewSelector(cfg.SenderConfig(), senderDeps).External(),
		Store:   multisig.NewStore(redisClient, cfg.Redis.Prefix),
		Logger:  logger,
	})
	senderDeps.Proposer = coordinator
	selector := sender.NewSelector(cfg.SenderConfig(), senderDeps)

	routerDeps := router.Deps{
		Transport: transport,
		Sessions:  sessionStore,
		Selector:  selector,
		Signers:   keyring,
		Wallets:   wallets,
		Manifests: router.HTTPManifests{Timeout: cfg.App.ManifestTimeout},
		Logger:    logger,
	}
	if cfg.Notify.Endpoint != "" {
		routerDeps.Notifier = notify.New(notify.Settings{
			Endpoint:    cfg.Notify.Endpoint,
			DeviceToken: cfg.Notify.DeviceToken,
			Timeout:     cfg.Notify.Timeout,
		})
	}
	dispatcher := router.New(router.Config{
		AppName:       cfg.App.Name,
		AppVersion:    cfg.App.Version,
		UpdatesBuffer: cfg.App.UpdatesBuffer,
	}, routerDeps)

	hub := api.NewHub(logger)
	server := api.New(api.Config{
		AccessLog:     cfg.AccessLog,
		EstimationTTL: cfg.App.EstimationTTL,
	}, api.Deps{
		Router:   dispatcher,
		Selector: selector,
		Orders:   coordinator,
		Jettons:  db,
		Wallets:  wallets,
		Redis:    sessionStore,
		Bridge:   transport,
		Hub:      hub,
		Logger:   logger,
	})

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).WithField("component", name).Error("Component stopped")
				cancel()
			}
		}()
	}
	run("bridge", func() error { return transport.Run(ctx) })
	run("router", func() error { return dispatcher.Run(ctx) })
	run("feed", func() error {
		hub.Run(ctx, dispatcher.Updates())
		return nil
	})
	run("api", func() error {
		logger.WithField("listen", cfg.Listen).Info("Starting API server")
		return server.Listen(cfg.Listen)
	})

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error stopping API server")
	}
	wg.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error flushing traces")
	}
	logger.Info("Shutdown complete.")
}
