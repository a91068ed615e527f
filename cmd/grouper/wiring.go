package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alem-hub/class-grouper/config"
	"github.com/alem-hub/class-grouper/internal/application/command"
	"github.com/alem-hub/class-grouper/internal/domain/grouping"
	"github.com/alem-hub/class-grouper/internal/domain/student"
	"github.com/alem-hub/class-grouper/internal/infrastructure/messaging"
	"github.com/alem-hub/class-grouper/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/class-grouper/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/class-grouper/internal/infrastructure/ratelimit"
	"github.com/alem-hub/class-grouper/internal/infrastructure/roster/csvsource"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INFRASTRUCTURE
// ══════════════════════════════════════════════════════════════════════════════

// infra holds the connections opened for one command run.
type infra struct {
	db      *postgres.Connection
	redis   *redis.Client
	nc      *nats.Conn
	rosters student.RosterSource
}

// close releases every open connection.
func (i *infra) close() {
	if i.nc != nil {
		_ = i.nc.Drain()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		i.db.Close()
	}
}

// openDatabase connects to PostgreSQL.
func openDatabase(ctx context.Context, c config.DatabaseConfig, log *logger.Logger) (*postgres.Connection, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := postgres.NewConnection(ctx, postgresConfig(c), log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openRosterSource opens the roster source selected by ROSTER_SOURCE.
func (i *infra) openRosterSource(ctx context.Context, c *config.Config, log *logger.Logger) error {
	switch c.Roster.Source {
	case config.RosterSourcePostgres:
		if i.db == nil {
			db, err := openDatabase(ctx, c.Database, log)
			if err != nil {
				return err
			}
			i.db = db
		}
		i.rosters = postgres.NewRosterRepository(i.db)
	default:
		i.rosters = csvsource.New(c.Roster.CSVDir, log)
	}

	log.Info("roster source ready", logger.String("source", i.rosters.Name()))
	return nil
}

// openRateLimiter returns the Redis limiter, backed by an in-process one while
// Redis fails, when Redis is configured and only the in-process one otherwise.
// It returns nil when limiting is disabled.
func (i *infra) openRateLimiter(ctx context.Context, c *config.Config, log *logger.Logger) (ratelimit.Limiter, error) {
	limit := c.HTTP.RateLimitPerMinute
	if limit <= 0 {
		return nil, nil
	}

	if !c.Redis.Enabled() {
		log.Info("using in-process rate limiter", logger.Int("per_minute", limit))
		return ratelimit.NewLocal(limit, time.Minute), nil
	}

	client, err := redis.NewClient(ctx, redisConfig(c.Redis), log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	i.redis = client

	log.Info("using redis rate limiter", logger.Int("per_minute", limit))
	return ratelimit.NewFallback(
		redis.NewRateLimiter(client, limit, time.Minute),
		ratelimit.NewLocal(limit, time.Minute),
		ratelimit.DefaultFallbackConfig(),
		log,
	), nil
}

// openNATS connects to NATS when NATS_URL is set.
func (i *infra) openNATS(ctx context.Context, c *config.Config, log *logger.Logger) error {
	if c.NATS.URL == "" {
		return nil
	}
	nc, err := messaging.Connect(ctx, natsConfig(c), log)
	if err != nil {
		return err
	}
	i.nc = nc
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	if c.MaxConns > 0 {
		pc.MaxConns = int32(c.MaxConns)
	}
	if c.MinConns > 0 {
		pc.MinConns = int32(c.MinConns)
	}
	if c.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = c.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = c.ConnMaxIdleTime
	}
	if c.QueryTimeout > 0 {
		pc.QueryTimeout = c.QueryTimeout
	}
	return pc
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	if c.Host != "" {
		rc.Host = c.Host
	}
	if c.Port > 0 {
		rc.Port = c.Port
	}
	rc.Password = c.Password
	rc.DB = c.DB
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		rc.MinIdleConns = c.MinIdleConns
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout
	}
	return rc
}

func natsConfig(c *config.Config) messaging.Config {
	nc := messaging.DefaultConfig()
	nc.URL = c.NATS.URL
	if c.NATS.Subject != "" {
		nc.Subject = c.NATS.Subject
	}
	if c.NATS.Queue != "" {
		nc.Queue = c.NATS.Queue
	}
	if c.NATS.RequestTimeout > 0 {
		nc.RequestTimeout = c.NATS.RequestTimeout
	}
	nc.ClientName = c.App.Name
	return nc
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

// newEngine builds the grouping engine. seed overrides GROUPING_SEED when
// non-zero.
func newEngine(c config.GroupingConfig, seed uint64) *grouping.Engine {
	if seed == 0 {
		seed = c.Seed
	}
	return grouping.NewEngine(grouping.WithClusterer(&grouping.KMeans{
		MaxIterations: c.MaxIterations,
		Tolerance:     c.Tolerance,
		Seed:          seed,
	}))
}

// newGroupStudentsHandler builds the grouping use case over rosters.
func newGroupStudentsHandler(c *config.Config, seed uint64, rosters student.RosterSource, log *logger.Logger) *command.GroupStudentsHandler {
	return command.NewGroupStudentsHandler(
		newEngine(c.Grouping, seed),
		rosters,
		command.GroupStudentsConfig{
			DefaultGroupSize: c.Grouping.DefaultGroupSize,
			MaxStudents:      c.Grouping.MaxStudents,
		},
		log,
	)
}
