package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/database"
	"go.uber.org/zap"
)

// Supported backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// Config selects and parameterises a backend.
type Config struct {
	Backend       string
	Timeout       time.Duration
	RedisURL      string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
}

// Open connects the configured backend and wraps it in a Bounded store.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connectCtx, cancel := context.WithTimeout(ctx, effectiveTimeout(cfg.Timeout))
	defer cancel()

	var (
		inner Store
		err   error
	)
	switch cfg.Backend {
	case BackendRedis:
		inner, err = NewRedisStore(connectCtx, cfg.RedisURL)
	case BackendSQLite:
		db, openErr := database.OpenSQLite(cfg.SQLitePath, logger)
		if openErr != nil {
			return nil, fmt.Errorf("open sqlite store: %w", openErr)
		}
		inner = NewSQLiteStore(db)
	case BackendMongo:
		inner, err = NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	logger.Info("document store ready", zap.String("backend", cfg.Backend), zap.Duration("timeout", cfg.Timeout))
	return NewBounded(inner, cfg.Backend, cfg.Timeout), nil
}
