package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/services"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{DB: sqlDB, logger: zap.NewNop()}, mock
}

func TestProjectRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProjectRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("FROM projects")).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "classid", "userid", "name", "typeid", "labels"}).
			AddRow("proj-1", "class-1", "user-1", "pets", "images", "{cats,dogs}"))

	project, err := repo.GetByID(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "pets", project.Name)
	assert.Equal(t, models.ProjectTypeImages, project.Type)
	assert.Equal(t, []string{"cats", "dogs"}, project.Labels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProjectRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("FROM projects")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, services.ErrProjectNotFound)
}

func TestTrainingRepository_CountByLabel(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTrainingRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY label")).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"label", "count"}).
			AddRow("cats", 12).
			AddRow("dogs", 15))

	counts, err := repo.CountByLabel(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"cats": 12, "dogs": 15}, counts)
}

func TestTrainingRepository_ListImagesByLabel(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTrainingRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("FROM imagetraining")).
		WithArgs("proj-1", "cats", 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "projectid", "label", "imageurl", "isstored"}).
			AddRow("t1", "proj-1", "cats", "https://example.com/cat.jpg", false).
			AddRow("t2", "proj-1", "cats", "object-7", true))

	images, err := repo.ListImagesByLabel(context.Background(), "proj-1", "cats", 100, 0)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.False(t, images[0].IsStored)
	assert.True(t, images[1].IsStored)
	assert.Equal(t, "object-7", images[1].ImageURL)
}

func TestTrainingRepository_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTrainingRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY label")).WillReturnError(errors.New("connection reset"))

	_, err := repo.CountByLabel(context.Background(), "proj-1")
	assert.ErrorContains(t, err, "failed to count training data")
}

func TestCredentialsRepository_ListByClass(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCredentialsRepository(db, zap.NewNop())
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created ASC")).
		WithArgs("class-1", models.ServiceTypeVisualRecognition).
		WillReturnRows(sqlmock.NewRows([]string{"id", "classid", "servicetype", "url", "username", "password", "credstypeid", "created"}).
			AddRow("c1", "class-1", "visrec", "https://a.example.com", "abc", "def", "legacy", created).
			AddRow("c2", "class-1", "visrec", "https://b.example.com", "ghi", nil, "current", created))

	pool, err := repo.ListByClass(context.Background(), "class-1", models.ServiceTypeVisualRecognition)
	require.NoError(t, err)
	require.Len(t, pool, 2)
	assert.Equal(t, "abcdef", pool[0].APIKey())
	assert.True(t, pool[0].IsLegacy())
	assert.Equal(t, "ghi", pool[1].APIKey())
	assert.False(t, pool[1].IsLegacy())
}

func TestCredentialsRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCredentialsRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("FROM bluemixcredentials")).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "gone")
	assert.ErrorIs(t, err, services.ErrCredentialsNotFound)
}

func TestTenantRepository_GetByID(t *testing.T) {
	t.Run("configured tenant", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewTenantRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM tenants")).
			WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "maxusers", "maxprojectsperuser", "imageclassifierexpiry"}).
				AddRow("class-1", 50, 5, 6))

		tenant, err := repo.GetByID(context.Background(), "class-1")
		require.NoError(t, err)
		assert.Equal(t, 6*time.Hour, tenant.ClassifierTTL())
	})

	t.Run("missing tenant uses defaults", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewTenantRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM tenants")).
			WithArgs("class-2").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		tenant, err := repo.GetByID(context.Background(), "class-2")
		require.NoError(t, err)
		assert.Equal(t, models.DefaultTenant("class-2"), tenant)
	})
}

func TestClassifierRepository_StoreAndGet(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifierRepository(db, zap.NewNop())
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	c := &models.Classifier{
		ID:            uuid.New(),
		ProjectID:     "proj-1",
		UserID:        "user-1",
		ClassID:       "class-1",
		CredentialsID: "creds-1",
		ClassifierID:  "pets_1",
		Name:          "pets",
		URL:           "https://a.example.com/v3/classifiers/pets_1",
		Created:       created,
		Expiry:        created.Add(24 * time.Hour),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO imageclassifiers")).
		WithArgs(c.ID, c.UserID, c.ClassID, c.ProjectID, c.CredentialsID, c.ClassifierID, c.URL, c.Name, c.Created, c.Expiry).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM imageclassifiers")).
		WithArgs(c.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "userid", "classid", "projectid", "credentialsid", "classifierid", "url", "name", "created", "expiry"}).
			AddRow(c.ID.String(), c.UserID, c.ClassID, c.ProjectID, c.CredentialsID, c.ClassifierID, c.URL, c.Name, c.Created, c.Expiry))

	require.NoError(t, repo.Store(context.Background(), c))

	got, err := repo.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Expiry, got.Expiry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifierRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifierRepository(db, zap.NewNop())
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM imageclassifiers")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, services.ErrClassifierNotFound)
}

func TestClassifierRepository_ListExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifierRepository(db, zap.NewNop())
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE expiry < $1")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "userid", "classid", "projectid", "credentialsid", "classifierid", "url", "name", "created", "expiry"}).
			AddRow(uuid.NewString(), "u", "c", "p", "cr", "old_1", "https://x/v3/classifiers/old_1", "old", now.Add(-48*time.Hour), now.Add(-24*time.Hour)))

	expired, err := repo.ListExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old_1", expired[0].ClassifierID)
}

func TestClassifierRepository_DeleteMissingIsNotAnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifierRepository(db, zap.NewNop())
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM imageclassifiers")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Delete(context.Background(), id))
}

func TestScratchKeyRepository_StoreOrUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScratchKeyRepository(db, zap.NewNop())
	project := &models.Project{ID: "proj-1", ClassID: "class-1", UserID: "user-1", Name: "pets", Type: models.ProjectTypeImages}
	creds := &models.Credentials{ID: "creds-1"}
	updated := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (projectid) DO UPDATE")).
		WithArgs(sqlmock.AnyArg(), "pets", models.ProjectTypeImages, "proj-1", "user-1", "class-1", "creds-1", "pets_1", updated).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-key"))

	id, err := repo.StoreOrUpdate(context.Background(), project, creds, "pets_1", updated)
	require.NoError(t, err)
	assert.Equal(t, "existing-key", id)
}

func TestScratchKeyRepository_ResetExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScratchKeyRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("SET classifierid = NULL")).
		WithArgs("pets_1", models.ProjectTypeImages, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.ResetExpired(context.Background(), "pets_1", models.ProjectTypeImages))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewScratchKeyID(t *testing.T) {
	a, b := newScratchKeyID(), newScratchKeyID()
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
