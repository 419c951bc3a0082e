package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/classifier-control-plane/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB opens the connection pool and verifies it with a ping
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Wrap adopts an already opened pool
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck pings the database and runs a trivial query
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema creates the tables used by the trainer when they do not exist.
// Production databases are owned by the main application; this is for local development.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id VARCHAR(36) PRIMARY KEY,
			userid VARCHAR(36) NOT NULL,
			classid VARCHAR(36) NOT NULL,
			typeid VARCHAR(16) NOT NULL,
			name VARCHAR(36) NOT NULL,
			labels TEXT[] NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS imagetraining (
			id VARCHAR(36) PRIMARY KEY,
			projectid VARCHAR(36) NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			imageurl VARCHAR(1024) NOT NULL,
			label VARCHAR(100) NOT NULL,
			isstored BOOLEAN NOT NULL DEFAULT false
		);

		CREATE TABLE IF NOT EXISTS bluemixcredentials (
			id VARCHAR(36) PRIMARY KEY,
			classid VARCHAR(36) NOT NULL,
			servicetype VARCHAR(8) NOT NULL,
			url VARCHAR(200) NOT NULL,
			username VARCHAR(36),
			password VARCHAR(36),
			credstypeid VARCHAR(16) NOT NULL DEFAULT 'legacy',
			created TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS tenants (
			id VARCHAR(36) PRIMARY KEY,
			maxusers INTEGER NOT NULL,
			maxprojectsperuser INTEGER NOT NULL,
			imageclassifierexpiry INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS imageclassifiers (
			id UUID PRIMARY KEY,
			userid VARCHAR(36) NOT NULL,
			classid VARCHAR(36) NOT NULL,
			projectid VARCHAR(36) NOT NULL,
			credentialsid VARCHAR(36) NOT NULL,
			classifierid VARCHAR(100) NOT NULL,
			url VARCHAR(1000) NOT NULL,
			name VARCHAR(100) NOT NULL,
			created TIMESTAMP NOT NULL,
			expiry TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scratchkeys (
			id VARCHAR(72) PRIMARY KEY,
			projectname VARCHAR(36) NOT NULL,
			projecttype VARCHAR(16) NOT NULL,
			projectid VARCHAR(36) NOT NULL UNIQUE,
			userid VARCHAR(36) NOT NULL,
			classid VARCHAR(36) NOT NULL,
			credentialsid VARCHAR(36),
			classifierid VARCHAR(100),
			updated TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_imagetraining_projectid_label ON imagetraining(projectid, label);
		CREATE INDEX IF NOT EXISTS idx_bluemixcredentials_classid ON bluemixcredentials(classid, servicetype);
		CREATE INDEX IF NOT EXISTS idx_imageclassifiers_projectid ON imageclassifiers(projectid);
		CREATE INDEX IF NOT EXISTS idx_imageclassifiers_expiry ON imageclassifiers(expiry);
		CREATE INDEX IF NOT EXISTS idx_scratchkeys_classifierid ON scratchkeys(classifierid);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
