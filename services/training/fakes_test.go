package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/repositories"
	"github.com/upb/classifier-control-plane/services"
	"github.com/upb/classifier-control-plane/services/images"
	"github.com/upb/classifier-control-plane/services/notify"
	"github.com/upb/classifier-control-plane/services/providers"
)

// MockBackend is a mock implementation of providers.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Name() string {
	return "mock"
}

func (m *MockBackend) CreateClassifier(ctx context.Context, creds *models.Credentials, req *providers.CreateClassifierRequest) (*providers.ClassifierInfo, error) {
	args := m.Called(ctx, creds, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.ClassifierInfo), args.Error(1)
}

func (m *MockBackend) GetClassifier(ctx context.Context, creds *models.Credentials, classifierID string) (*providers.ClassifierInfo, error) {
	args := m.Called(ctx, creds, classifierID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.ClassifierInfo), args.Error(1)
}

func (m *MockBackend) DeleteClassifier(ctx context.Context, creds *models.Credentials, classifierID string) error {
	args := m.Called(ctx, creds, classifierID)
	return args.Error(0)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	sent     []notify.Channel
}

func (n *recordingNotifier) Notify(message string, channel notify.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, string(channel)+": "+message)
	n.sent = append(n.sent, channel)
}

func (n *recordingNotifier) channels() []notify.Channel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Channel(nil), n.sent...)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// fakeAssembler writes one placeholder archive per label into dir
type fakeAssembler struct {
	dir      string
	err      error
	calls    int
	archives map[string]string
}

func (a *fakeAssembler) AssembleAll(ctx context.Context, refs map[string][]images.ImageRef) (map[string]string, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	a.archives = make(map[string]string, len(refs))
	for label := range refs {
		path := filepath.Join(a.dir, label+".zip")
		if err := os.WriteFile(path, []byte("zip"), 0o600); err != nil {
			return nil, err
		}
		a.archives[label] = path
	}
	return a.archives, nil
}

type memProjects struct {
	projects map[string]*models.Project
}

func (r *memProjects) GetByID(ctx context.Context, id string) (*models.Project, error) {
	if p, ok := r.projects[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("project %s: %w", id, services.ErrProjectNotFound)
}

type memTraining struct {
	rows map[string][]*models.ImageTraining
}

func (r *memTraining) CountByLabel(ctx context.Context, projectID string) (map[string]int, error) {
	counts := make(map[string]int, len(r.rows))
	for label, rows := range r.rows {
		counts[label] = len(rows)
	}
	return counts, nil
}

func (r *memTraining) ListImagesByLabel(ctx context.Context, projectID, label string, limit, offset int) ([]*models.ImageTraining, error) {
	rows := r.rows[label]
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

type memCredentials struct {
	mu      sync.Mutex
	pool    []*models.Credentials
	lookups int
}

func (r *memCredentials) ListByClass(ctx context.Context, classID, serviceType string) ([]*models.Credentials, error) {
	return r.pool, nil
}

func (r *memCredentials) GetByID(ctx context.Context, id string) (*models.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	for _, c := range r.pool {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("credentials %s: %w", id, services.ErrCredentialsNotFound)
}

type memTenants struct {
	tenant *models.Tenant
}

func (r *memTenants) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	if r.tenant == nil {
		return models.DefaultTenant(id), nil
	}
	return r.tenant, nil
}

type memClassifiers struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*models.Classifier
	storeErr  error
	listErr   error
	deleteErr map[uuid.UUID]error
}

func (r *memClassifiers) Store(ctx context.Context, c *models.Classifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.storeErr != nil {
		return r.storeErr
	}
	r.items[c.ID] = c
	return nil
}

func (r *memClassifiers) GetByID(ctx context.Context, id uuid.UUID) (*models.Classifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.items[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("classifier %s: %w", id, services.ErrClassifierNotFound)
}

func (r *memClassifiers) ListByProject(ctx context.Context, projectID string) ([]*models.Classifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Classifier
	for _, c := range r.items {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memClassifiers) ListExpired(ctx context.Context, now time.Time) ([]*models.Classifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*models.Classifier
	for _, c := range r.items {
		if c.Expiry.Before(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memClassifiers) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.deleteErr[id]; err != nil {
		return err
	}
	delete(r.items, id)
	return nil
}

func (r *memClassifiers) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type memScratchKeys struct {
	mu     sync.Mutex
	bound  map[string]string
	resets []string
}

func (r *memScratchKeys) StoreOrUpdate(ctx context.Context, project *models.Project, creds *models.Credentials, classifierID string, updated time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bound[project.ID] = classifierID
	return "key-" + project.ID, nil
}

func (r *memScratchKeys) ResetExpired(ctx context.Context, classifierID string, projectType models.ProjectType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, classifierID)
	for project, bound := range r.bound {
		if bound == classifierID {
			delete(r.bound, project)
		}
	}
	return nil
}

// inlineTransactions runs the function without a real transaction
type inlineTransactions struct{}

func (inlineTransactions) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	projects    *memProjects
	training    *memTraining
	credentials *memCredentials
	tenants     *memTenants
	classifiers *memClassifiers
	scratchKeys *memScratchKeys
	backend     *MockBackend
	notifier    *recordingNotifier
	assembler   *fakeAssembler
	workDir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		projects:    &memProjects{projects: map[string]*models.Project{}},
		training:    &memTraining{rows: map[string][]*models.ImageTraining{}},
		credentials: &memCredentials{},
		tenants:     &memTenants{},
		classifiers: &memClassifiers{items: map[uuid.UUID]*models.Classifier{}},
		scratchKeys: &memScratchKeys{bound: map[string]string{}},
		backend:     new(MockBackend),
		notifier:    &recordingNotifier{},
		assembler:   &fakeAssembler{dir: dir},
		workDir:     dir,
	}
}

func (f *fixture) repos() *repositories.Repositories {
	return &repositories.Repositories{
		Projects:    f.projects,
		Training:    f.training,
		Credentials: f.credentials,
		Tenants:     f.tenants,
		Classifiers: f.classifiers,
		ScratchKeys: f.scratchKeys,
	}
}

func (f *fixture) addImages(label string, n int) {
	for i := 0; i < n; i++ {
		f.training.rows[label] = append(f.training.rows[label], &models.ImageTraining{
			ID:       fmt.Sprintf("%s-%d", label, i),
			Label:    label,
			ImageURL: fmt.Sprintf("https://images.example.com/%s/%d.jpg", label, i),
		})
	}
}

func (f *fixture) addCredentials(ids ...string) []*models.Credentials {
	var added []*models.Credentials
	for _, id := range ids {
		c := &models.Credentials{
			ID:          id,
			ServiceType: models.ServiceTypeVisualRecognition,
			URL:         "https://" + id + ".example.com/visual-recognition/api",
			Username:    "user-" + id,
			Password:    "pass-" + id,
			CredType:    models.CredentialsTypeLegacy,
			ClassID:     "class-1",
		}
		f.credentials.pool = append(f.credentials.pool, c)
		added = append(added, c)
	}
	return added
}

func testProject() *models.Project {
	return &models.Project{
		ID:      "proj-1",
		ClassID: "class-1",
		UserID:  "user-1",
		Name:    "pets",
		Type:    models.ProjectTypeImages,
		Labels:  []string{"cats", "dogs", "fish"},
	}
}

func storedClassifier(project *models.Project, creds *models.Credentials, classifierID string, expiry time.Time) *models.Classifier {
	return &models.Classifier{
		ID:            uuid.New(),
		ProjectID:     project.ID,
		UserID:        project.UserID,
		ClassID:       project.ClassID,
		CredentialsID: creds.ID,
		ClassifierID:  classifierID,
		Name:          project.Name,
		Created:       expiry.Add(-24 * time.Hour),
		Expiry:        expiry,
	}
}

func workDirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func quotaError() error {
	return &providers.ProviderError{
		Provider:   "watson",
		Code:       "400",
		Message:    "Cannot execute learning task. : this plan instance can have only 1 custom classifier(s), and 1 already exist.",
		StatusCode: 400,
	}
}

func statusError(status int, message string) error {
	return &providers.ProviderError{Provider: "watson", Message: message, StatusCode: status}
}
