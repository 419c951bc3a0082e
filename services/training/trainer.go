package training

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/repositories"
	"github.com/upb/classifier-control-plane/services"
	"github.com/upb/classifier-control-plane/services/images"
	"github.com/upb/classifier-control-plane/services/notify"
	"github.com/upb/classifier-control-plane/services/providers"
	"go.uber.org/zap"
)

var trainingAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "training_attempts_total",
	Help: "Classifier training submissions by outcome",
}, []string{"outcome"})

// ArchiveBuilder builds one training archive per label
type ArchiveBuilder interface {
	AssembleAll(ctx context.Context, refs map[string][]images.ImageRef) (map[string]string, error)
}

// ClassifierRemover deletes a classifier both remotely and locally
type ClassifierRemover interface {
	Delete(ctx context.Context, classifier *models.Classifier) error
}

// Trainer submits a project's training data to the backend, trying each
// credential set of the class in order until one accepts it.
type Trainer struct {
	training     repositories.TrainingRepository
	credentials  repositories.CredentialsRepository
	tenants      repositories.TenantRepository
	classifiers  repositories.ClassifierRepository
	scratchKeys  repositories.ScratchKeyRepository
	transactions repositories.TransactionManager
	assembler    ArchiveBuilder
	backend      providers.Backend
	remover      ClassifierRemover
	notifier     notify.Notifier
	defaultTTL   time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewTrainer creates a trainer. remover handles classifiers that already exist for the project.
func NewTrainer(
	repos *repositories.Repositories,
	transactions repositories.TransactionManager,
	assembler ArchiveBuilder,
	backend providers.Backend,
	remover ClassifierRemover,
	notifier notify.Notifier,
	cfg config.VisualRecognitionConfig,
	logger *zap.Logger,
) *Trainer {
	hours := cfg.DefaultExpiryHours
	if hours <= 0 {
		hours = models.DefaultImageClassifierExpiryHours
	}
	return &Trainer{
		training:     repos.Training,
		credentials:  repos.Credentials,
		tenants:      repos.Tenants,
		classifiers:  repos.Classifiers,
		scratchKeys:  repos.ScratchKeys,
		transactions: transactions,
		assembler:    assembler,
		backend:      backend,
		remover:      remover,
		notifier:     notifier,
		defaultTTL:   time.Duration(hours) * time.Hour,
		now:          time.Now,
		logger:       logger,
	}
}

// Train builds the project's archives and submits them. Archives never outlive
// the call, whatever the outcome. The work is detached from ctx cancellation so
// an abandoned request still finishes and cleans up.
func (t *Trainer) Train(ctx context.Context, project *models.Project) (*models.Classifier, error) {
	ctx = context.WithoutCancel(ctx)

	refs, err := t.collectRefs(ctx, project)
	if err != nil {
		return nil, err
	}

	archives, err := t.assembler.AssembleAll(ctx, refs)
	if err != nil {
		trainingAttemptsTotal.WithLabelValues("assembly_failed").Inc()
		return nil, err
	}
	defer images.RemoveArchives(archives)

	t.removeExisting(ctx, project)

	pool, err := t.credentials.ListByClass(ctx, project.ClassID, models.ServiceTypeVisualRecognition)
	if err != nil {
		return nil, services.WrapInternal("failed to load credentials", err)
	}

	tenant, err := t.tenants.GetByID(ctx, project.ClassID)
	if err != nil {
		return nil, services.WrapInternal("failed to load class policy", err)
	}

	req := &providers.CreateClassifierRequest{
		Name:     project.Name,
		Examples: archives,
	}

	var lastErr error = services.Derive(services.ErrInsufficientAPIKeys, nil)
	for _, creds := range pool {
		result := t.attempt(ctx, project, tenant, creds, req)
		if result.err == nil {
			trainingAttemptsTotal.WithLabelValues("success").Inc()
			return result.classifier, nil
		}

		t.logger.Warn("training submission failed",
			zap.String("project_id", project.ID),
			zap.String("credentials_id", creds.ID),
			zap.String("kind", string(services.GetErrorKind(result.err))),
			zap.Bool("fatal", result.fatal),
			zap.Error(result.err))
		trainingAttemptsTotal.WithLabelValues(outcomeLabel(result.err)).Inc()

		if result.alert != "" {
			t.notifier.Notify(alertMessage(project, creds, result), result.alert)
		}
		if result.fatal {
			return nil, result.err
		}
		lastErr = result.err
	}

	if len(pool) == 0 {
		t.logger.Warn("class has no credentials for training", zap.String("class_id", project.ClassID))
	}
	return nil, lastErr
}

// collectRefs returns the image references of every label that has examples
func (t *Trainer) collectRefs(ctx context.Context, project *models.Project) (map[string][]images.ImageRef, error) {
	counts, err := t.training.CountByLabel(ctx, project.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to count training data", err)
	}

	refs := make(map[string][]images.ImageRef, len(counts))
	for label, count := range counts {
		if count == 0 {
			continue
		}
		rows, err := t.training.ListImagesByLabel(ctx, project.ID, label, count, 0)
		if err != nil {
			return nil, services.WrapInternal("failed to load training data", err)
		}
		labelRefs := make([]images.ImageRef, 0, len(rows))
		for _, row := range rows {
			labelRefs = append(labelRefs, images.RefFor(project, row))
		}
		refs[label] = labelRefs
	}

	if len(refs) == 0 {
		return nil, services.Derive(services.ErrNotEnoughTrainingData, nil).WithDetail("project_id", project.ID)
	}
	return refs, nil
}

// removeExisting deletes the project's current classifiers. Failures are logged only.
func (t *Trainer) removeExisting(ctx context.Context, project *models.Project) {
	existing, err := t.classifiers.ListByProject(ctx, project.ID)
	if err != nil {
		t.logger.Warn("failed to list existing classifiers", zap.String("project_id", project.ID), zap.Error(err))
		return
	}
	for _, c := range existing {
		if err := t.remover.Delete(ctx, c); err != nil {
			t.logger.Warn("failed to delete existing classifier",
				zap.String("project_id", project.ID),
				zap.String("classifier_id", c.ClassifierID),
				zap.Error(err))
		}
	}
}

func (t *Trainer) attempt(ctx context.Context, project *models.Project, tenant *models.Tenant, creds *models.Credentials, req *providers.CreateClassifierRequest) attemptResult {
	info, err := t.backend.CreateClassifier(ctx, creds, req)
	if err != nil {
		return classifyFailure(err)
	}

	created := t.now().UTC().Truncate(time.Second)
	classifier := models.NewClassifier(project, creds, info.ClassifierID, info.Status, created, t.ttl(tenant))

	if err := t.persist(ctx, project, creds, classifier); err != nil {
		t.logger.Error("failed to store trained classifier",
			zap.String("project_id", project.ID),
			zap.String("classifier_id", info.ClassifierID),
			zap.Error(err))
		if delErr := t.backend.DeleteClassifier(ctx, creds, info.ClassifierID); delErr != nil && !providers.IsNotFound(delErr) {
			t.logger.Warn("failed to delete unrecorded classifier",
				zap.String("classifier_id", info.ClassifierID),
				zap.Error(delErr))
		}
		return attemptResult{err: services.Derive(services.ErrDatabaseError, err), fatal: true}
	}

	t.logger.Info("classifier training started",
		zap.String("project_id", project.ID),
		zap.String("credentials_id", creds.ID),
		zap.String("classifier_id", classifier.ClassifierID),
		zap.Time("expiry", classifier.Expiry))

	return attemptResult{classifier: classifier}
}

// persist records the classifier and points the project's scratch key at it
func (t *Trainer) persist(ctx context.Context, project *models.Project, creds *models.Credentials, classifier *models.Classifier) error {
	return t.transactions.InTransaction(ctx, func(ctx context.Context) error {
		if err := t.classifiers.Store(ctx, classifier); err != nil {
			return err
		}
		_, err := t.scratchKeys.StoreOrUpdate(ctx, project, creds, classifier.ClassifierID, classifier.Created)
		return err
	})
}

func (t *Trainer) ttl(tenant *models.Tenant) time.Duration {
	if tenant == nil || tenant.ImageClassifierExpiry <= 0 {
		return t.defaultTTL
	}
	return tenant.ClassifierTTL()
}

func alertMessage(project *models.Project, creds *models.Credentials, result attemptResult) string {
	if result.alert == notify.ChannelCredentials {
		return fmt.Sprintf("Credentials %s of class %s were refused while training project %s: %v",
			creds.ID, project.ClassID, project.ID, result.err)
	}
	return fmt.Sprintf("Unexpected failure training classifier for project %s with credentials %s: %v",
		project.ID, creds.ID, result.err)
}

func outcomeLabel(err error) string {
	if kind := services.GetErrorKind(err); kind != services.KindNone {
		return string(kind)
	}
	return string(services.GetErrorType(err))
}
