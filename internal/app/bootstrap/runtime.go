package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/mediway-kiosk/internal/config"
	"github.com/wolfman30/mediway-kiosk/internal/registration/session"
	"github.com/wolfman30/mediway-kiosk/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// SessionBackend is the selected kiosk session storage plus its readiness
// probe and cleanup.
type SessionBackend struct {
	session.Backend
	Name  string
	Ping  func(context.Context) error
	Close func() error
}

// BuildSessionBackend selects the session storage named by SESSION_BACKEND.
// The redis backend returns an error when Redis does not answer a ping.
func BuildSessionBackend(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*SessionBackend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	noop := func() error { return nil }
	alive := func(context.Context) error { return nil }

	switch cfg.SessionBackend {
	case appconfig.SessionBackendMemory, "":
		logger.Warn("using in-memory kiosk sessions; progress is lost on restart")
		return &SessionBackend{Backend: session.NewMemoryBackend(), Name: appconfig.SessionBackendMemory, Ping: alive, Close: noop}, nil
	case appconfig.SessionBackendFile:
		fb, err := session.NewFileBackend(cfg.SessionDir)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: file sessions: %w", err)
		}
		logger.Info("kiosk sessions stored on disk", "dir", cfg.SessionDir)
		return &SessionBackend{Backend: fb, Name: appconfig.SessionBackendFile, Ping: alive, Close: noop}, nil
	case appconfig.SessionBackendRedis:
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, fmt.Errorf("bootstrap: redis sessions: %s unreachable", cfg.RedisAddr)
		}
		logger.Info("kiosk sessions stored in redis", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
		return &SessionBackend{
			Backend: session.NewRedisBackend(client, cfg.SessionTTL),
			Name:    appconfig.SessionBackendRedis,
			Ping:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
			Close:   client.Close,
		}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown session backend %q", cfg.SessionBackend)
	}
}

// ConnectPostgresPool opens the audit database. It returns nil when url is
// empty or the database cannot be reached; the wizard then runs without an
// audit trail.
func ConnectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Warn("failed to configure postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("postgres not available; wizard events disabled", "error", err)
		pool.Close()
		return nil
	}
	return pool
}
