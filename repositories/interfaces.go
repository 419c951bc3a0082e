package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/classifier-control-plane/models"
)

// TransactionManager runs work inside a database transaction
type TransactionManager interface {
	// InTransaction executes a function within a transaction.
	// Commits if the function succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProjectRepository reads training projects
type ProjectRepository interface {
	// GetByID retrieves a project with its labels
	GetByID(ctx context.Context, id string) (*models.Project, error)
}

// TrainingRepository reads the stored training examples of a project
type TrainingRepository interface {
	// CountByLabel returns the number of examples per label
	CountByLabel(ctx context.Context, projectID string) (map[string]int, error)

	// ListImagesByLabel returns a page of image examples for one label
	ListImagesByLabel(ctx context.Context, projectID, label string, limit, offset int) ([]*models.ImageTraining, error)
}

// CredentialsRepository reads tenant-supplied backend credentials
type CredentialsRepository interface {
	// ListByClass returns the ordered credential pool of a class for a service
	ListByClass(ctx context.Context, classID, serviceType string) ([]*models.Credentials, error)

	// GetByID retrieves one set of credentials
	GetByID(ctx context.Context, id string) (*models.Credentials, error)
}

// TenantRepository reads class policy records
type TenantRepository interface {
	// GetByID returns the policy of a class, or the defaults when it has none
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
}

// ClassifierRepository stores the local records of trained classifiers
type ClassifierRepository interface {
	// Store inserts a new classifier record
	Store(ctx context.Context, classifier *models.Classifier) error

	// GetByID retrieves a classifier record
	GetByID(ctx context.Context, id uuid.UUID) (*models.Classifier, error)

	// ListByProject returns the classifiers of a project
	ListByProject(ctx context.Context, projectID string) ([]*models.Classifier, error)

	// ListExpired returns classifiers whose expiry is before now
	ListExpired(ctx context.Context, now time.Time) ([]*models.Classifier, error)

	// Delete removes a classifier record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ScratchKeyRepository manages the access keys bound to trained classifiers
type ScratchKeyRepository interface {
	// StoreOrUpdate binds the project's key to a classifier, creating the key if needed
	StoreOrUpdate(ctx context.Context, project *models.Project, creds *models.Credentials, classifierID string, updated time.Time) (string, error)

	// ResetExpired unbinds every key that points at the classifier
	ResetExpired(ctx context.Context, classifierID string, projectType models.ProjectType) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Projects    ProjectRepository
	Training    TrainingRepository
	Credentials CredentialsRepository
	Tenants     TenantRepository
	Classifiers ClassifierRepository
	ScratchKeys ScratchKeyRepository
}
