package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stonetify/auth"
	"stonetify/config"
	"stonetify/controllers"
	"stonetify/database"
	"stonetify/docstore"
	"stonetify/kvstore"
	"stonetify/oautherr"
	"stonetify/spotify"
	"stonetify/tokens"
	"stonetify/upstream"
	"stonetify/users"
	"stonetify/utils"
)

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *gorm.DB
	kv     kvStores
	redis  *redis.Client
	tokens *tokens.Service
	deps   controllers.Dependencies
}

// kvStores back OAuth state, one-time codes and the access token cache. In
// memory each has its own store; Redis shares one.
type kvStores struct {
	states kvstore.Store
	codes  kvstore.Store
	cache  kvstore.Store
}

func (k kvStores) all() []kvstore.Store {
	out := []kvstore.Store{k.states}
	if k.codes != k.states {
		out = append(out, k.codes)
	}
	if k.cache != k.states && k.cache != k.codes {
		out = append(out, k.cache)
	}
	return out
}

// sweep removes expired entries from every store.
func (k kvStores) sweep(ctx context.Context) (int, error) {
	total := 0
	for _, store := range k.all() {
		n, err := store.SweepExpired(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// openApp connects storage and builds the OAuth core. Callers must close it.
func openApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if _, err := utils.LoadEncryptionKey(); err != nil {
		return nil, oautherr.Wrap(oautherr.KindMissingConfig, "cmd.openApp", err)
	}

	db, err := database.InitDB(cfg.Database, logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	utils.InitAuditLog(db)

	a := &app{cfg: cfg, logger: logger, db: db}
	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		shared := kvstore.NewRedisStore(a.redis, cfg.Redis.Prefix)
		a.kv = kvStores{states: shared, codes: shared, cache: shared}
		logger.Info("using redis for state and token cache", zap.String("addr", cfg.Redis.Addr))
	} else {
		a.kv = kvStores{
			states: kvstore.NewMemoryStore(),
			codes:  kvstore.NewMemoryStore(),
			cache:  kvstore.NewMemoryStore(),
		}
		logger.Info("using in-process memory for state and token cache")
	}

	docs := docstore.NewGormStore(db)
	backfilled, err := docs.BackfillIndexColumns(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to backfill document index: %w", err)
	}
	if backfilled > 0 {
		logger.Info("backfilled document owner columns", zap.Int("rows", backfilled))
	}
	up := upstream.New(cfg.Providers, cfg.HTTP.UpstreamClient())
	model := tokens.NewModel(docs, tokens.Options{
		HistoryLimit: cfg.Security.TokenHistoryLimit,
		MaxPerHour:   cfg.Security.TokenMaxRotationsPerHour,
	})
	a.tokens = tokens.NewService(model, up, a.kv.cache, tokens.ServiceOptions{
		ExpiryBuffer: cfg.Security.AccessTokenExpiryBuffer,
		Logger:       logger.Named("tokens"),
	})
	a.deps = controllers.Dependencies{
		States:        auth.NewStateStore(a.kv.states, cfg.Security.StateTTL),
		Codes:         auth.NewOneTimeCodeStore(a.kv.codes, cfg.Security.OneTimeCodeTTL),
		Tokens:        a.tokens,
		Upstream:      up,
		Users:         users.NewStore(docs),
		Player:        spotify.NewPlayer(up, a.tokens),
		AppReturnURLs: cfg.AppReturnURLs,
		Logger:        logger,
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("error closing redis", zap.Error(err))
		}
	}
	if err := database.ShutdownDB(); err != nil {
		a.logger.Warn("error closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
