package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/primitivefi/prime-engine/internal/blob/s3"
	"github.com/primitivefi/prime-engine/internal/cache/redis"
	"github.com/primitivefi/prime-engine/internal/config"
	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/exchange"
	"github.com/primitivefi/prime-engine/internal/ledger"
	"github.com/primitivefi/prime-engine/internal/notify"
	"github.com/primitivefi/prime-engine/internal/oracle"
	"github.com/primitivefi/prime-engine/internal/pool"
	"github.com/primitivefi/prime-engine/internal/registry"
	"github.com/primitivefi/prime-engine/internal/store/postgres"
)

// escrowAccount is the registry's internal vault address on the ledger. It is
// not operator-configurable: collateral and strike escrow must live at one
// address the protocol alone controls.
var escrowAccount = common.HexToAddress("0x00000000000000000000000000000000000E5c60")

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Core engine
	Ledger   ledger.AssetLedger
	Clock    ledger.Clock
	Registry *registry.Registry
	Pool     *pool.Pool
	Exchange *exchange.Exchange

	// Stores
	TokenStore domain.TokenStore
	OrderStore domain.OrderStore
	AuditStore domain.AuditStore

	// Caches and coordination
	MatchIndex  domain.MatchIndexCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
	Sink     domain.EventSink
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pgPool := pgClient.Pool()
		deps.TokenStore = postgres.NewTokenStore(pgPool)
		deps.OrderStore = postgres.NewOrderStore(pgPool)
		deps.AuditStore = postgres.NewAuditStore(pgPool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MatchIndex = redis.NewMatchIndexCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		// Archiver needs the journal stores to sweep from.
		if deps.TokenStore != nil && deps.OrderStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.BlobReader,
				deps.TokenStore,
				deps.OrderStore,
				deps.AuditStore,
			)
		}
	}

	// --- Notifications and event fanout ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if deps.SignalBus != nil || deps.AuditStore != nil || len(senders) > 0 {
		deps.Sink = notify.NewEventFanout(deps.SignalBus, deps.AuditStore, deps.Notifier, logger)
	} else {
		deps.Sink = domain.NopSink{}
	}

	// --- Core engine ---
	assets := ledger.NewMemory()
	if err := seedFaucet(assets, cfg.Ledger.Faucet); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	deps.Ledger = assets
	deps.Clock = ledger.SystemClock{}

	deps.Registry = registry.New(assets, deps.Clock, escrowAccount, deps.TokenStore, deps.Sink, logger)

	if cfg.Pool.Enabled {
		deps.Pool = pool.New(pool.Config{
			Account:         common.HexToAddress(cfg.Pool.Account),
			CollateralAsset: common.HexToAddress(cfg.Pool.CollateralAsset),
			StrikeAsset:     common.HexToAddress(cfg.Pool.StrikeAsset),
			Base:            config.Amount(cfg.Pool.Base),
			Price:           config.Amount(cfg.Pool.Price),
			Expiry:          cfg.Pool.Expiry,
			Volatility:      cfg.Pool.VolatilityBps,
			MinLiquidity:    config.Amount(cfg.Pool.MinLiquidity),
		}, assets, deps.Clock, deps.Registry, oracle.NewFeed(deps.Clock), deps.Sink, logger)
	}

	if cfg.Exchange.Enabled {
		deps.Exchange = exchange.New(exchange.Config{
			Account:      common.HexToAddress(cfg.Exchange.Account),
			PaymentAsset: common.HexToAddress(cfg.Exchange.PaymentAsset),
		}, assets, deps.Clock, deps.Registry, deps.MatchIndex, deps.OrderStore, deps.Sink, logger)
	}

	return deps, cleanup, nil
}

// seedFaucet credits development balances from "address:asset" config keys.
func seedFaucet(assets *ledger.Memory, faucet map[string]string) error {
	for key, amount := range faucet {
		addr, asset, ok := strings.Cut(key, ":")
		if !ok {
			return fmt.Errorf("faucet key %q must be address:asset", key)
		}
		n := config.Amount(amount)
		if n == nil {
			return fmt.Errorf("faucet entry %q has an invalid amount", key)
		}
		assets.Mint(common.HexToAddress(asset), common.HexToAddress(addr), n)
	}
	return nil
}
