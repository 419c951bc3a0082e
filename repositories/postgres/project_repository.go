package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/repositories"
	"github.com/upb/classifier-control-plane/services"
	"go.uber.org/zap"
)

// ProjectRepository implements the repositories.ProjectRepository interface
type ProjectRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB, logger *zap.Logger) repositories.ProjectRepository {
	return &ProjectRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a project by ID
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	query := `
		SELECT id, classid, userid, name, typeid, labels
		FROM projects
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	project := &models.Project{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.ClassID,
		&project.UserID,
		&project.Name,
		&project.Type,
		pq.Array(&project.Labels),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, services.ErrProjectNotFound)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// TrainingRepository implements the repositories.TrainingRepository interface
type TrainingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTrainingRepository creates a new training data repository
func NewTrainingRepository(db *DB, logger *zap.Logger) repositories.TrainingRepository {
	return &TrainingRepository{
		db:     db,
		logger: logger,
	}
}

// CountByLabel returns the number of image examples per label
func (r *TrainingRepository) CountByLabel(ctx context.Context, projectID string) (map[string]int, error) {
	query := `
		SELECT label, COUNT(*)
		FROM imagetraining
		WHERE projectid = $1
		GROUP BY label
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count training data: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts[label] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating label counts: %w", err)
	}

	return counts, nil
}

// ListImagesByLabel returns a page of image examples for one label
func (r *TrainingRepository) ListImagesByLabel(ctx context.Context, projectID, label string, limit, offset int) ([]*models.ImageTraining, error) {
	query := `
		SELECT id, projectid, label, imageurl, isstored
		FROM imagetraining
		WHERE projectid = $1 AND label = $2
		ORDER BY id
		LIMIT $3 OFFSET $4
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, projectID, label, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list training images: %w", err)
	}
	defer rows.Close()

	var images []*models.ImageTraining
	for rows.Next() {
		image := &models.ImageTraining{}
		if err := rows.Scan(
			&image.ID,
			&image.ProjectID,
			&image.Label,
			&image.ImageURL,
			&image.IsStored,
		); err != nil {
			return nil, fmt.Errorf("failed to scan training image: %w", err)
		}
		images = append(images, image)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating training images: %w", err)
	}

	return images, nil
}
