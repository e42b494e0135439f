package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/mevflow/auctiond/internal/blob/s3"
	"github.com/mevflow/auctiond/internal/cache/redis"
	"github.com/mevflow/auctiond/internal/confidential"
	"github.com/mevflow/auctiond/internal/config"
	"github.com/mevflow/auctiond/internal/domain"
	"github.com/mevflow/auctiond/internal/notify"
	engineclient "github.com/mevflow/auctiond/internal/platform/engine"
	"github.com/mevflow/auctiond/internal/platform/stakereg"
	"github.com/mevflow/auctiond/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application needs to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	AuctionStore domain.AuctionStore
	BidStore     domain.BidStore
	RewardStore  domain.RewardStore
	AuditStore   domain.AuditStore

	// Cache / messaging
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	Locker      domain.Locker

	// External boundaries
	Engine        *engineclient.Client
	Confidential  domain.ConfidentialService
	StakeRegistry domain.StakeRegistry

	// Blob storage (nil unless the archive job is enabled)
	BlobWriter domain.BlobWriter

	// Health checks by dependency name
	Pingers map[string]func(ctx context.Context) error

	// Notifications
	Notifier *notify.Notifier
}

// unconfiguredStakeRegistry rejects stake-backed operations when no registry
// endpoint has been configured.
type unconfiguredStakeRegistry struct{}

func (unconfiguredStakeRegistry) IsRegistered(context.Context, common.Address) (bool, error) {
	return false, fmt.Errorf("stake registry not configured")
}

func (unconfiguredStakeRegistry) ReportSlash(context.Context, common.Address, *big.Int, string) error {
	return fmt.Errorf("stake registry not configured")
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

	deps := &Dependencies{
		Pingers: make(map[string]func(ctx context.Context) error),
	}

	// --- PostgreSQL ---
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

	pool := pgClient.Pool()
	deps.AuctionStore = postgres.NewAuctionStore(pool)
	deps.BidStore = postgres.NewBidStore(pool)
	deps.RewardStore = postgres.NewRewardStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Pingers["postgres"] = pgClient.Ping

	// --- Redis ---
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

	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Locker = redis.NewLocker(redisClient)
	deps.Pingers["redis"] = redisClient.Ping

	// --- S3 blob storage (archive job only) ---
	if cfg.Archive.Enabled {
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
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Pingers["s3"] = s3Client.Health
	}

	// --- Exchange engine ---
	deps.Engine = engineclient.NewClient(cfg.Engine.WsURL)
	closers = append(closers, func() { _ = deps.Engine.Close() })

	// --- Confidential service ---
	secret := cfg.Confidential.Secret
	if secret == "" {
		// Handles are only meaningful within one process lifetime, so an
		// ephemeral random secret is as good as a configured one when the
		// operator has not provided any.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: confidential secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}
	conf, err := confidential.New(confidential.Config{
		Secret:       secret,
		DecryptDelay: cfg.Confidential.DecryptDelay.Duration,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: confidential: %w", err)
	}
	deps.Confidential = conf

	// --- Stake registry ---
	if cfg.StakeRegistry.BaseURL != "" {
		deps.StakeRegistry = stakereg.NewClient(cfg.StakeRegistry.BaseURL, cfg.StakeRegistry.ApiKey)
	} else {
		deps.StakeRegistry = unconfiguredStakeRegistry{}
	}

	// --- Notifications ---
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
	deps.Notifier = notify.NewNotifier(senders, logger)

	return deps, cleanup, nil
}
