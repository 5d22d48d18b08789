package repositories

import (
	"context"
	"time"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/internal/infrastructure/reliability"
	"tilecast/internal/infrastructure/repositories/memory"
	mongorepo "tilecast/internal/infrastructure/repositories/mongo"
	redisrepo "tilecast/internal/infrastructure/repositories/redis"
	"tilecast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg    *config.Config
	driver string
	logger *zap.SugaredLogger

	redisClient *redis.Client
	mongoClient *mongo.Client
	mongoDB     *mongo.Database

	cached *reliability.CachedLayoutRepository
}

// NewRepositoryFactory connects the configured storage driver. A driver that
// cannot be reached is logged and replaced by the in-memory store.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	factory := &RepositoryFactory{
		cfg:    cfg,
		driver: config.StorageMemory,
		logger: logger,
	}

	// The event bus needs Redis even when layouts live elsewhere.
	if cfg.Storage.Driver == config.StorageRedis || cfg.Events.Enabled {
		client, err := redisrepo.NewRedisClient(redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Connect:  cfg.Store.Connect,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis",
				"error", err,
			)
		} else {
			factory.redisClient = client
		}
	}

	switch cfg.Storage.Driver {
	case config.StorageRedis:
		if factory.redisClient != nil {
			factory.driver = config.StorageRedis
		}
	case config.StorageMongo:
		client, err := mongorepo.NewMongoClient(ctx, cfg.Mongo.URI, cfg.Store.Connect, logger)
		if err != nil {
			logger.Warnw("failed to connect to Mongo",
				"error", err,
			)
		} else {
			factory.mongoClient = client
			factory.mongoDB = client.Database(cfg.Mongo.Database)
			factory.driver = config.StorageMongo
		}
	}

	if factory.driver != cfg.Storage.Driver {
		logger.Warnw("falling back to memory layout repository",
			"configured", cfg.Storage.Driver,
		)
	}
	logger.Infow("using layout repository", "driver", factory.driver)

	return factory, nil
}

// Driver reports the storage actually in use.
func (f *RepositoryFactory) Driver() string {
	return f.driver
}

// CreateLayoutRepository creates the layout history repository behind a
// circuit breaker and, when configured, a latest-record cache.
func (f *RepositoryFactory) CreateLayoutRepository(ctx context.Context) (ports.LayoutRepository, error) {
	var repo ports.LayoutRepository
	switch f.driver {
	case config.StorageRedis:
		repo = redisrepo.NewRedisLayoutRepository(f.redisClient)
	case config.StorageMongo:
		r, err := mongorepo.NewMongoLayoutRepository(ctx, f.mongoDB)
		if err != nil {
			return nil, err
		}
		repo = r
	default:
		// nothing to guard
		return memory.NewMemoryLayoutRepository(), nil
	}

	repo = reliability.NewLayoutRepositoryWrapper(repo, f.cfg.Store.Breaker, f.logger)
	if f.cfg.Store.LatestCacheTTL > 0 {
		f.cached = reliability.NewCachedLayoutRepository(repo, f.cfg.Store.LatestCacheTTL)
		repo = f.cached
	}
	return repo, nil
}

// InvalidateLatest drops the cached latest record of a session. It is a no-op
// without a cache.
func (f *RepositoryFactory) InvalidateLatest(sessionID domain.SessionID) {
	if f.cached != nil {
		f.cached.Invalidate(sessionID)
	}
}

// RedisClient returns the shared Redis client, or nil when Redis is not
// connected.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// MongoClient returns the Mongo client, or nil when Mongo is not in use.
func (f *RepositoryFactory) MongoClient() *mongo.Client {
	return f.mongoClient
}

// Close closes Redis and Mongo connections if used
func (f *RepositoryFactory) Close() error {
	if f.cached != nil {
		f.cached.Stop()
	}

	var firstErr error
	if f.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		firstErr = f.mongoClient.Disconnect(ctx)
	}
	if f.redisClient != nil {
		if err := redisrepo.CloseRedisClient(f.redisClient); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HealthCheck checks the connection health of the storage in use
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	switch f.driver {
	case config.StorageRedis:
		return f.redisClient.Ping(ctx).Err()
	case config.StorageMongo:
		return f.mongoClient.Ping(ctx, readpref.Primary())
	}
	return nil
}
