package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/repositories"
	"github.com/upb/classifier-control-plane/services"
	"github.com/upb/classifier-control-plane/services/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var classifierDeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classifier_deletions_total",
	Help: "Classifier delete operations by outcome",
}, []string{"outcome"})

const statusConcurrency = 8

// ClassifierTrainer trains a classifier for a project
type ClassifierTrainer interface {
	Train(ctx context.Context, project *models.Project) (*models.Classifier, error)
}

// Lifecycle manages classifiers after training: status, deletion and expiry
type Lifecycle struct {
	projects     repositories.ProjectRepository
	credentials  repositories.CredentialsRepository
	classifiers  repositories.ClassifierRepository
	scratchKeys  repositories.ScratchKeyRepository
	transactions repositories.TransactionManager
	backend      providers.Backend
	redeleter    *Redeleter
	trainer      ClassifierTrainer
	concurrency  int
	now          func() time.Time
	logger       *zap.Logger
}

// NewLifecycle creates the lifecycle manager. The trainer is attached with SetTrainer.
func NewLifecycle(
	repos *repositories.Repositories,
	transactions repositories.TransactionManager,
	backend providers.Backend,
	redeleter *Redeleter,
	cfg config.CleanupConfig,
	logger *zap.Logger,
) *Lifecycle {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Lifecycle{
		projects:     repos.Projects,
		credentials:  repos.Credentials,
		classifiers:  repos.Classifiers,
		scratchKeys:  repos.ScratchKeys,
		transactions: transactions,
		backend:      backend,
		redeleter:    redeleter,
		concurrency:  concurrency,
		now:          time.Now,
		logger:       logger,
	}
}

// SetTrainer attaches the trainer used by Create
func (l *Lifecycle) SetTrainer(trainer ClassifierTrainer) {
	l.trainer = trainer
}

// Create trains a new classifier for an images project
func (l *Lifecycle) Create(ctx context.Context, projectID string) (*models.Classifier, error) {
	project, err := l.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Type != models.ProjectTypeImages {
		return nil, services.Derive(services.ErrUnsupportedProject, nil).WithDetail("type", string(project.Type))
	}
	return l.trainer.Train(ctx, project)
}

// List returns the project's classifiers with their current remote status
func (l *Lifecycle) List(ctx context.Context, projectID string) ([]*models.Classifier, error) {
	if _, err := l.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	classifiers, err := l.classifiers.ListByProject(ctx, projectID)
	if err != nil {
		return nil, services.Derive(services.ErrDatabaseError, err)
	}
	return l.GetStatuses(ctx, classifiers), nil
}

// GetStatuses fills in Status from the backend. Classifiers that cannot be
// fetched are marked "Non Existent"; this never fails.
func (l *Lifecycle) GetStatuses(ctx context.Context, classifiers []*models.Classifier) []*models.Classifier {
	creds := l.resolveCredentials(ctx, classifiers)

	var g errgroup.Group
	g.SetLimit(statusConcurrency)

	for _, c := range classifiers {
		g.Go(func() error {
			cred, ok := creds[c.CredentialsID]
			if !ok {
				c.Status = models.ClassifierStatusNonExistent
				return nil
			}
			info, err := l.backend.GetClassifier(ctx, cred, c.ClassifierID)
			if err != nil {
				l.logger.Debug("failed to fetch classifier status",
					zap.String("classifier_id", c.ClassifierID),
					zap.Error(err))
				c.Status = models.ClassifierStatusNonExistent
				return nil
			}
			c.Status = info.Status
			return nil
		})
	}
	_ = g.Wait()

	return classifiers
}

// resolveCredentials loads each distinct credential set once
func (l *Lifecycle) resolveCredentials(ctx context.Context, classifiers []*models.Classifier) map[string]*models.Credentials {
	resolved := make(map[string]*models.Credentials)
	missing := make(map[string]bool)
	for _, c := range classifiers {
		if _, done := resolved[c.CredentialsID]; done || missing[c.CredentialsID] {
			continue
		}
		cred, err := l.credentials.GetByID(ctx, c.CredentialsID)
		if err != nil {
			l.logger.Warn("failed to resolve credentials",
				zap.String("credentials_id", c.CredentialsID),
				zap.Error(err))
			missing[c.CredentialsID] = true
			continue
		}
		resolved[c.CredentialsID] = cred
	}
	return resolved
}

// Delete removes the classifier from the backend and the local store. A classifier
// already gone from the backend counts as deleted, and the local record and scratch
// key binding are removed even when the remote delete fails. Deleting twice is safe.
func (l *Lifecycle) Delete(ctx context.Context, classifier *models.Classifier) error {
	creds, err := l.credentials.GetByID(ctx, classifier.CredentialsID)
	if err != nil {
		l.logger.Warn("cannot delete classifier remotely, credentials unavailable",
			zap.String("classifier_id", classifier.ClassifierID),
			zap.String("credentials_id", classifier.CredentialsID),
			zap.Error(err))
	}

	if creds != nil {
		err := l.backend.DeleteClassifier(ctx, creds, classifier.ClassifierID)
		switch {
		case err == nil:
			classifierDeletionsTotal.WithLabelValues("deleted").Inc()
		case providers.IsNotFound(err):
			classifierDeletionsTotal.WithLabelValues("already_gone").Inc()
		default:
			classifierDeletionsTotal.WithLabelValues("remote_failed").Inc()
			l.logger.Warn("failed to delete classifier from backend",
				zap.String("classifier_id", classifier.ClassifierID),
				zap.Error(err))
		}
	}

	err = l.transactions.InTransaction(ctx, func(ctx context.Context) error {
		if err := l.classifiers.Delete(ctx, classifier.ID); err != nil {
			return err
		}
		return l.scratchKeys.ResetExpired(ctx, classifier.ClassifierID, models.ProjectTypeImages)
	})
	if err != nil {
		return services.Derive(services.ErrDatabaseError, err)
	}

	if creds != nil {
		l.redeleter.Schedule(creds, classifier.ClassifierID)
	}
	return nil
}

// DeleteByID deletes a classifier that belongs to the project
func (l *Lifecycle) DeleteByID(ctx context.Context, projectID string, id uuid.UUID) error {
	classifier, err := l.classifiers.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if classifier.ProjectID != projectID {
		return fmt.Errorf("classifier %s is not in project %s: %w", id, projectID, services.ErrClassifierNotFound)
	}
	return l.Delete(ctx, classifier)
}

// CleanupResult summarises one expiry sweep
type CleanupResult struct {
	Expired int `json:"expired"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// CleanupExpired deletes every classifier past its expiry. Individual failures
// are counted in the result; only failing to list expired classifiers is an error.
func (l *Lifecycle) CleanupExpired(ctx context.Context) (*CleanupResult, error) {
	expired, err := l.classifiers.ListExpired(ctx, l.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired classifiers: %w", err)
	}

	result := &CleanupResult{Expired: len(expired)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for _, c := range expired {
		g.Go(func() error {
			err := l.Delete(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors++
				l.logger.Warn("failed to delete expired classifier",
					zap.String("classifier_id", c.ClassifierID),
					zap.Error(err))
				return nil
			}
			result.Deleted++
			return nil
		})
	}
	_ = g.Wait()

	l.logger.Info("expired classifier cleanup finished",
		zap.Int("expired", result.Expired),
		zap.Int("deleted", result.Deleted),
		zap.Int("errors", result.Errors))

	return result, nil
}

// StartCleanupWorker runs CleanupExpired every interval until stopCh is closed
func (l *Lifecycle) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		l.logger.Info("started expired classifier cleanup worker", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				if _, err := l.CleanupExpired(context.Background()); err != nil {
					l.logger.Error("expired classifier cleanup failed", zap.Error(err))
				}
			case <-stopCh:
				l.logger.Info("stopped expired classifier cleanup worker")
				return
			}
		}
	}()
}
