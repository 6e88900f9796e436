package database

import (
	"fmt"

	postgres "github.com/fergusstrange/embedded-postgres"
	"go.uber.org/zap"
)

const (
	embeddedUser     = "postgres"
	embeddedPassword = "postgres"
	embeddedDatabase = "elections"
)

// Embedded is a local postgres process used for development runs and tests
type Embedded struct {
	db   *postgres.EmbeddedPostgres
	port int
}

// StartEmbedded downloads (on first use) and starts a postgres server on port
func StartEmbedded(port int, runtimePath string, logger *zap.Logger) (*Embedded, error) {
	cfg := postgres.DefaultConfig().
		Username(embeddedUser).
		Password(embeddedPassword).
		Database(embeddedDatabase).
		Version(postgres.V16).
		Port(uint32(port)).
		Logger(zap.NewStdLog(logger.Named("embedded-postgres")).Writer())
	if runtimePath != "" {
		cfg = cfg.RuntimePath(runtimePath)
	}

	db := postgres.NewDatabase(cfg)
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("starting embedded postgres: %w", err)
	}

	logger.Info("Embedded postgres started", zap.Int("port", port))
	return &Embedded{db: db, port: port}, nil
}

// URL returns the connection string of the embedded server
func (e *Embedded) URL() string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		embeddedUser, embeddedPassword, e.port, embeddedDatabase)
}

// Stop shuts the server down
func (e *Embedded) Stop() error {
	if err := e.db.Stop(); err != nil {
		return fmt.Errorf("stopping embedded postgres: %w", err)
	}
	return nil
}
