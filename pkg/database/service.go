package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"election_engine/pkg/config"
	"election_engine/pkg/data"
)

// Service manages the connection pool and provides access to the repository
type Service struct {
	config   *config.DatabaseConfig
	logger   *zap.Logger
	pool     *pgxpool.Pool
	embedded *Embedded
	repo     *data.PostgresRepository

	mu        sync.RWMutex
	isRunning bool
}

// NewService creates a new database service
func NewService(cfg *config.DatabaseConfig, logger *zap.Logger) *Service {
	return &Service{
		config: cfg,
		logger: logger.Named("database"),
	}
}

// Start opens the pool, applies migrations when configured to, and builds the repository
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("database service already running")
	}

	url := s.config.URL
	if s.config.Embedded {
		embedded, err := StartEmbedded(s.config.EmbeddedPort, s.config.RuntimePath, s.logger)
		if err != nil {
			return err
		}
		s.embedded = embedded
		url = embedded.URL()
	}

	pool, err := s.createPool(ctx, url)
	if err != nil {
		s.cleanup()
		return err
	}
	s.pool = pool

	if s.config.MigrateOnStart {
		if err := Migrate(ctx, pool, s.logger); err != nil {
			s.cleanup()
			return err
		}
	}

	s.repo = data.NewPostgresRepository(pool, s.logger)
	s.isRunning = true
	s.logger.Info("Database service started",
		zap.Bool("embedded", s.config.Embedded),
		zap.Bool("migrated", s.config.MigrateOnStart))
	return nil
}

// Stop closes the pool and the embedded server, if any
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	err := s.cleanup()
	s.isRunning = false
	s.logger.Info("Database service stopped")
	return err
}

// Migrate applies the embedded migrations on the running pool
func (s *Service) Migrate(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("database service not running")
	}
	return Migrate(ctx, s.pool, s.logger)
}

// Repository returns the postgres-backed repository
func (s *Service) Repository() *data.PostgresRepository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo
}

// Pool returns the underlying connection pool
func (s *Service) Pool() *pgxpool.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// IsHealthy checks database health
func (s *Service) IsHealthy(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return s.pool.Ping(ctx) == nil
}

// Internal methods

func (s *Service) createPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}

	poolConfig.MaxConns = int32(s.config.MaxConns)
	poolConfig.MinConns = int32(s.config.MinConns)
	poolConfig.ConnConfig.ConnectTimeout = s.config.Timeout
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging connection pool: %w", err)
	}

	return pool, nil
}

func (s *Service) cleanup() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.embedded != nil {
		err := s.embedded.Stop()
		s.embedded = nil
		return err
	}
	return nil
}
