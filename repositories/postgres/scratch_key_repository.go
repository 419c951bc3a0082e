package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/repositories"
	"go.uber.org/zap"
)

// ScratchKeyRepository implements the repositories.ScratchKeyRepository interface
type ScratchKeyRepository struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewScratchKeyRepository creates a new scratch key repository
func NewScratchKeyRepository(db *DB, logger *zap.Logger) repositories.ScratchKeyRepository {
	return &ScratchKeyRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// StoreOrUpdate points the project's key at a classifier. A project has at most
// one key; the first training creates it and later trainings rebind it.
func (r *ScratchKeyRepository) StoreOrUpdate(ctx context.Context, project *models.Project, creds *models.Credentials, classifierID string, updated time.Time) (string, error) {
	query := `
		INSERT INTO scratchkeys (id, projectname, projecttype, projectid, userid, classid, credentialsid, classifierid, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (projectid) DO UPDATE
		SET credentialsid = EXCLUDED.credentialsid,
			classifierid = EXCLUDED.classifierid,
			updated = EXCLUDED.updated
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	var id string
	err := executor.QueryRowContext(ctx, query,
		newScratchKeyID(),
		project.Name,
		project.Type,
		project.ID,
		project.UserID,
		project.ClassID,
		creds.ID,
		classifierID,
		updated,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to store scratch key: %w", err)
	}

	r.logger.Debug("scratch key bound to classifier",
		zap.String("project_id", project.ID),
		zap.String("classifier_id", classifierID))
	return id, nil
}

// ResetExpired unbinds keys from a classifier that no longer exists
func (r *ScratchKeyRepository) ResetExpired(ctx context.Context, classifierID string, projectType models.ProjectType) error {
	query := `
		UPDATE scratchkeys
		SET classifierid = NULL, credentialsid = NULL, updated = $3
		WHERE classifierid = $1 AND projecttype = $2
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, classifierID, projectType, r.now()); err != nil {
		return fmt.Errorf("failed to reset scratch key: %w", err)
	}
	return nil
}

func newScratchKeyID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}
