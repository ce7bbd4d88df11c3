package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storefront-ledger/config"
	"storefront-ledger/internal/adapter/cli"
	"storefront-ledger/internal/adapter/provider"
	pgStorage "storefront-ledger/internal/adapter/storage/postgres"
	redisStorage "storefront-ledger/internal/adapter/storage/redis"
	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/internal/service"
	"storefront-ledger/pkg/logger"
	"storefront-ledger/pkg/money"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("STOREFRONT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return cli.ExitError
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	tiers, err := loyaltyTiers(cfg.Loyalty)
	if err != nil {
		log.Error().Err(err).Msg("Invalid loyalty tiers")
		return cli.ExitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to PostgreSQL")
		return cli.ExitError
	}
	defer pool.Close()

	if err := pgStorage.ApplySchema(ctx, pool, log); err != nil {
		log.Error().Err(err).Msg("Failed to apply schema")
		return cli.ExitError
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis")
		return cli.ExitError
	}
	defer rdb.Close()

	repos := service.Repositories{
		Wallets:      pgStorage.NewWalletRepo(pool),
		Entries:      pgStorage.NewWalletTransactionRepo(pool),
		Topups:       pgStorage.NewTopupRequestRepo(pool),
		Products:     pgStorage.NewProductRepo(pool),
		Orders:       pgStorage.NewOrderRepo(pool),
		Fulfillments: pgStorage.NewFulfillmentRepo(pool),
		Settlements:  pgStorage.NewSettlementRepo(pool),
		Users:        pgStorage.NewUserRepo(pool),
	}
	transactor := pgStorage.NewTransactor(pool)
	events := service.NewEventRecorder(pgStorage.NewSystemEventRepo(pool), log)

	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	commandLock := redisStorage.NewCommandLock(rdb)
	notifier := redisStorage.NewNotifier(rdb, cfg.Notifications.ChannelPrefix)

	encSvc, err := service.NewPayloadCipher(cfg.Crypto.PayloadKey)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize payload cipher")
		return cli.ExitError
	}

	var providers []ports.FulfillmentProvider
	if p := cfg.Fulfillment.Provider; p.BaseURL != "" {
		providers = append(providers, provider.NewHTTPProvider(provider.Options{
			Name:      p.Name,
			BaseURL:   p.BaseURL,
			Secret:    p.Secret,
			Timeout:   p.Timeout,
			RateLimit: p.RateLimit,
			Burst:     p.Burst,
		}, service.NewHMACSigner(), nil, log))
	} else {
		log.Debug().Msg("No delivery provider configured, fulfillments need manual completion")
	}

	ttl := cfg.Ledger.IdempotencyTTL
	app := cli.New(cli.Options{
		Services: cli.Services{
			Ledger:   service.NewLedgerService(repos, idempotencyCache, events, notifier, transactor, ttl, log),
			Checkout: service.NewCheckoutService(repos, idempotencyCache, events, notifier, transactor, ttl, log),
			Fulfillment: service.NewFulfillmentService(repos, providers, encSvc, events, notifier, transactor,
				cfg.Fulfillment.BatchSize, cfg.Fulfillment.MaxAttempts, log),
			Settlement: service.NewSettlementService(repos, idempotencyCache, events, notifier, transactor,
				cfg.Ledger.Currency, ttl, log),
			Reconcile: service.NewReconcileService(repos, events, transactor, log),
			Loyalty:   service.NewLoyaltyService(repos, tiers, events, notifier, transactor, log),
		},
		Lock:      commandLock,
		Currency:  cfg.Ledger.Currency,
		BatchSize: cfg.Fulfillment.BatchSize,
		Scheduler: cfg.Scheduler,
		HealthCheckers: []ports.HealthChecker{
			pgStorage.NewHealthCheck(pool),
			redisStorage.NewHealthCheck(rdb),
		},
		Out:    os.Stdout,
		Logger: log,
	})

	return app.Run(ctx, os.Args[1:])
}

// loyaltyTiers converts configured tiers (decimal major units) to domain tiers.
func loyaltyTiers(cfg config.LoyaltyConfig) ([]domain.LoyaltyTier, error) {
	tiers := make([]domain.LoyaltyTier, 0, len(cfg.Tiers))
	var prev int64 = -1
	for _, t := range cfg.Tiers {
		threshold, err := money.Parse(t.Threshold)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", t.Name, err)
		}
		if threshold <= prev {
			return nil, fmt.Errorf("tier %s: thresholds must be ascending", t.Name)
		}
		prev = threshold
		tiers = append(tiers, domain.LoyaltyTier{Name: t.Name, Threshold: threshold})
	}
	return tiers, nil
}
