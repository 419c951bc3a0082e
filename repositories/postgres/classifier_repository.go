package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/repositories"
	"github.com/upb/classifier-control-plane/services"
	"go.uber.org/zap"
)

const classifierColumns = `id, userid, classid, projectid, credentialsid, classifierid, url, name, created, expiry`

// ClassifierRepository implements the repositories.ClassifierRepository interface
type ClassifierRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewClassifierRepository creates a new classifier repository
func NewClassifierRepository(db *DB, logger *zap.Logger) repositories.ClassifierRepository {
	return &ClassifierRepository{
		db:     db,
		logger: logger,
	}
}

// Store inserts a classifier record
func (r *ClassifierRepository) Store(ctx context.Context, c *models.Classifier) error {
	query := `
		INSERT INTO imageclassifiers (` + classifierColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.ClassID,
		c.ProjectID,
		c.CredentialsID,
		c.ClassifierID,
		c.URL,
		c.Name,
		c.Created,
		c.Expiry,
	)
	if err != nil {
		return fmt.Errorf("failed to store classifier: %w", err)
	}

	r.logger.Debug("classifier stored",
		zap.String("id", c.ID.String()),
		zap.String("classifier_id", c.ClassifierID))
	return nil
}

// GetByID retrieves a classifier record
func (r *ClassifierRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Classifier, error) {
	query := `
		SELECT ` + classifierColumns + `
		FROM imageclassifiers
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	c, err := scanClassifier(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("classifier %s: %w", id, services.ErrClassifierNotFound)
		}
		return nil, err
	}
	return c, nil
}

// ListByProject returns a project's classifiers, newest first
func (r *ClassifierRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Classifier, error) {
	query := `
		SELECT ` + classifierColumns + `
		FROM imageclassifiers
		WHERE projectid = $1
		ORDER BY created DESC
	`
	return r.list(ctx, query, projectID)
}

// ListExpired returns classifiers whose expiry is before now
func (r *ClassifierRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Classifier, error) {
	query := `
		SELECT ` + classifierColumns + `
		FROM imageclassifiers
		WHERE expiry < $1
		ORDER BY expiry ASC
	`
	return r.list(ctx, query, now)
}

// Delete removes a classifier record. Missing records are ignored.
func (r *ClassifierRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM imageclassifiers WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete classifier: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		r.logger.Debug("classifier already deleted", zap.String("id", id.String()))
	}
	return nil
}

func (r *ClassifierRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Classifier, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list classifiers: %w", err)
	}
	defer rows.Close()

	var classifiers []*models.Classifier
	for rows.Next() {
		c, err := scanClassifier(rows)
		if err != nil {
			return nil, err
		}
		classifiers = append(classifiers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating classifiers: %w", err)
	}

	return classifiers, nil
}

func scanClassifier(row rowScanner) (*models.Classifier, error) {
	c := &models.Classifier{}
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ClassID,
		&c.ProjectID,
		&c.CredentialsID,
		&c.ClassifierID,
		&c.URL,
		&c.Name,
		&c.Created,
		&c.Expiry,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan classifier: %w", err)
	}
	return c, nil
}
