package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/repositories"
	"github.com/upb/classifier-control-plane/services"
	"go.uber.org/zap"
)

const credentialsColumns = `id, classid, servicetype, url, username, password, credstypeid, created`

// CredentialsRepository implements the repositories.CredentialsRepository interface
type CredentialsRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCredentialsRepository creates a new credentials repository
func NewCredentialsRepository(db *DB, logger *zap.Logger) repositories.CredentialsRepository {
	return &CredentialsRepository{
		db:     db,
		logger: logger,
	}
}

// ListByClass returns a class's credentials for a service, oldest first.
// The order is the order training tries them in.
func (r *CredentialsRepository) ListByClass(ctx context.Context, classID, serviceType string) ([]*models.Credentials, error) {
	query := `
		SELECT ` + credentialsColumns + `
		FROM bluemixcredentials
		WHERE classid = $1 AND servicetype = $2
		ORDER BY created ASC, id ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, classID, serviceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var pool []*models.Credentials
	for rows.Next() {
		creds, err := scanCredentials(rows)
		if err != nil {
			return nil, err
		}
		pool = append(pool, creds)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	r.logger.Debug("credentials pool loaded",
		zap.String("class_id", classID),
		zap.String("service_type", serviceType),
		zap.Int("count", len(pool)))

	return pool, nil
}

// GetByID retrieves one set of credentials
func (r *CredentialsRepository) GetByID(ctx context.Context, id string) (*models.Credentials, error) {
	query := `
		SELECT ` + credentialsColumns + `
		FROM bluemixcredentials
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	creds, err := scanCredentials(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credentials %s: %w", id, services.ErrCredentialsNotFound)
		}
		return nil, err
	}
	return creds, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredentials(row rowScanner) (*models.Credentials, error) {
	creds := &models.Credentials{}
	var username, password sql.NullString

	err := row.Scan(
		&creds.ID,
		&creds.ClassID,
		&creds.ServiceType,
		&creds.URL,
		&username,
		&password,
		&creds.CredType,
		&creds.Created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan credentials: %w", err)
	}

	creds.Username = username.String
	creds.Password = password.String
	return creds, nil
}

// TenantRepository implements the repositories.TenantRepository interface
type TenantRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB, logger *zap.Logger) repositories.TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID returns the policy for a class. Classes without a row get the defaults.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `
		SELECT id, maxusers, maxprojectsperuser, imageclassifierexpiry
		FROM tenants
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	tenant := &models.Tenant{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.MaxUsers,
		&tenant.MaxProjectsPerUser,
		&tenant.ImageClassifierExpiry,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultTenant(id), nil
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}
