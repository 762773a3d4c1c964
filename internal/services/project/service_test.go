package project

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	projectrepo "github.com/Ramsey-B/sepal/internal/repositories/project"
	"github.com/Ramsey-B/sepal/pkg/kafka"
	"github.com/Ramsey-B/sepal/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeProjectRepo struct {
	nameExists    bool
	nameExistsErr error
	created       *models.NewProject
	updated       *models.ProjectUpdate
	deletedID     int64
	excludeID     int64
}

func (f *fakeProjectRepo) NameExists(ctx context.Context, tenantID, name string, excludeID int64) (bool, error) {
	f.excludeID = excludeID
	return f.nameExists, f.nameExistsErr
}

func (f *fakeProjectRepo) Create(ctx context.Context, tenantID string, req models.NewProject) (*models.Project, error) {
	f.created = &req
	return &models.Project{ProjectID: 1, TenantID: tenantID, Name: req.Name, Platform: req.Platform}, nil
}

func (f *fakeProjectRepo) Update(ctx context.Context, tenantID string, projectID int64, upd models.ProjectUpdate) (*models.Project, error) {
	f.updated = &upd
	if upd.IsEmpty() {
		return nil, nil
	}
	p := &models.Project{ProjectID: projectID, TenantID: tenantID}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	return p, nil
}

func (f *fakeProjectRepo) SoftDelete(ctx context.Context, tenantID string, projectID int64) error {
	f.deletedID = projectID
	return nil
}

func (f *fakeProjectRepo) GetByID(ctx context.Context, tenantID string, projectID int64, opts projectrepo.GetOptions) (*models.Project, error) {
	return &models.Project{ProjectID: projectID, TenantID: tenantID, Name: "existing"}, nil
}

type fakeConditionRepo struct {
	reconciled *models.CaptureConditions
}

func (f *fakeConditionRepo) Reconcile(ctx context.Context, projectID int64, cfg models.CaptureConditions) (*models.CaptureConditions, error) {
	f.reconciled = &cfg
	return &cfg, nil
}

type fakeGate struct {
	allowed bool
	err     error
	calls   int
}

func (f *fakeGate) IsAdminOrSuperAdmin(ctx context.Context, tenantID, userID string) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

type fakePublisher struct {
	events []*kafka.ProjectEvent
}

func (f *fakePublisher) PublishProjectEvent(ctx context.Context, event *kafka.ProjectEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestService(repo *fakeProjectRepo, conditions *fakeConditionRepo, gate *fakeGate, events *fakePublisher) *Service {
	var publisher EventPublisher
	if events != nil {
		publisher = events
	}
	return NewService(getTestLogger(), repo, conditions, gate, publisher)
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func TestServiceCreate_DeniedForNonAdmin(t *testing.T) {
	repo := &fakeProjectRepo{}
	gate := &fakeGate{allowed: false}
	svc := newTestService(repo, &fakeConditionRepo{}, gate, nil)

	_, err := svc.Create(context.Background(), "tenant-1", "user-1", models.NewProject{Name: "app"}, false)

	assertStatus(t, err, http.StatusForbidden)
	assert.Nil(t, repo.created, "repository must not be touched on denial")
}

func TestServiceCreate_SkipAuthorizationBypassesGate(t *testing.T) {
	repo := &fakeProjectRepo{}
	gate := &fakeGate{allowed: false}
	svc := newTestService(repo, &fakeConditionRepo{}, gate, nil)

	created, err := svc.Create(context.Background(), "tenant-1", "", models.NewProject{Name: "app", Platform: "web"}, true)

	require.NoError(t, err)
	assert.Equal(t, 0, gate.calls)
	assert.Equal(t, "app", created.Name)
}

func TestServiceCreate_DuplicateNameRejectedBeforeInsert(t *testing.T) {
	repo := &fakeProjectRepo{nameExists: true}
	svc := newTestService(repo, &fakeConditionRepo{}, &fakeGate{allowed: true}, nil)

	_, err := svc.Create(context.Background(), "tenant-1", "user-1", models.NewProject{Name: "app"}, false)

	assertStatus(t, err, http.StatusBadRequest)
	assert.Nil(t, repo.created)
}

func TestServiceCreate_EmitsEvent(t *testing.T) {
	repo := &fakeProjectRepo{}
	events := &fakePublisher{}
	svc := newTestService(repo, &fakeConditionRepo{}, &fakeGate{allowed: true}, events)

	_, err := svc.Create(context.Background(), "tenant-1", "user-1", models.NewProject{Name: "app", Platform: "web"}, false)

	require.NoError(t, err)
	require.Len(t, events.events, 1)
	assert.Equal(t, "created", events.events[0].EventType)
	assert.Equal(t, "tenant-1", events.events[0].TenantID)
}

func TestServiceEdit_RenameChecksUniquenessExcludingSelf(t *testing.T) {
	repo := &fakeProjectRepo{}
	svc := newTestService(repo, &fakeConditionRepo{}, &fakeGate{allowed: true}, nil)

	name := "renamed"
	_, err := svc.Edit(context.Background(), "tenant-1", "user-1", 42, models.ProjectUpdate{Name: &name})

	require.NoError(t, err)
	assert.Equal(t, int64(42), repo.excludeID)
}

func TestServiceEdit_DuplicateRenameRejected(t *testing.T) {
	repo := &fakeProjectRepo{nameExists: true}
	svc := newTestService(repo, &fakeConditionRepo{}, &fakeGate{allowed: true}, nil)

	name := "taken"
	_, err := svc.Edit(context.Background(), "tenant-1", "user-1", 42, models.ProjectUpdate{Name: &name})

	assertStatus(t, err, http.StatusBadRequest)
	assert.Nil(t, repo.updated)
}

func TestServiceEdit_EmptyUpdateReturnsCurrentProject(t *testing.T) {
	repo := &fakeProjectRepo{}
	svc := newTestService(repo, &fakeConditionRepo{}, &fakeGate{allowed: true}, nil)

	current, err := svc.Edit(context.Background(), "tenant-1", "user-1", 42, models.ProjectUpdate{})

	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "existing", current.Name)
}

func TestServiceDelete_DeniedForNonAdmin(t *testing.T) {
	repo := &fakeProjectRepo{}
	svc := newTestService(repo, &fakeConditionRepo{}, &fakeGate{allowed: false}, nil)

	err := svc.Delete(context.Background(), "tenant-1", "user-1", 42)

	assertStatus(t, err, http.StatusForbidden)
	assert.Zero(t, repo.deletedID)
}

func TestServiceDelete_EmitsEvent(t *testing.T) {
	repo := &fakeProjectRepo{}
	events := &fakePublisher{}
	svc := newTestService(repo, &fakeConditionRepo{}, &fakeGate{allowed: true}, events)

	err := svc.Delete(context.Background(), "tenant-1", "user-1", 42)

	require.NoError(t, err)
	assert.Equal(t, int64(42), repo.deletedID)
	require.Len(t, events.events, 1)
	assert.Equal(t, "deleted", events.events[0].EventType)
}

func TestUpdateCaptureConditions_InvalidSetNeverReachesStorage(t *testing.T) {
	conditions := &fakeConditionRepo{}
	svc := newTestService(&fakeProjectRepo{}, conditions, &fakeGate{allowed: true}, nil)

	_, err := svc.UpdateCaptureConditions(context.Background(), 1, models.CaptureConditions{
		Rate: 50,
		Conditions: []models.ProjectCondition{
			{Name: "", CaptureRate: 50},
		},
	})

	assertStatus(t, err, http.StatusBadRequest)
	assert.Nil(t, conditions.reconciled)
}

func TestUpdateCaptureConditions_ValidSetReconciles(t *testing.T) {
	conditions := &fakeConditionRepo{}
	svc := newTestService(&fakeProjectRepo{}, conditions, &fakeGate{allowed: true}, nil)

	result, err := svc.UpdateCaptureConditions(context.Background(), 1, models.CaptureConditions{
		Rate:               30,
		ConditionalCapture: true,
		Conditions: []models.ProjectCondition{
			{Name: "checkout", CaptureRate: 100, Filters: []models.CaptureFilter{
				{Kind: models.FilterKindURL, Operator: models.OperatorContains, Values: []string{"/checkout"}},
			}},
		},
	})

	require.NoError(t, err)
	require.NotNil(t, conditions.reconciled)
	assert.Equal(t, 30, result.Rate)
}

func TestValidateConditions(t *testing.T) {
	t.Run("blank names are reported per condition", func(t *testing.T) {
		msgs := ValidateConditions([]models.ProjectCondition{
			{Name: "  ", CaptureRate: 50},
			{Name: "ok", CaptureRate: 50},
		})
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "name is required")
	})

	t.Run("duplicate names are listed once", func(t *testing.T) {
		msgs := ValidateConditions([]models.ProjectCondition{
			{Name: "checkout", CaptureRate: 50},
			{Name: "checkout", CaptureRate: 60},
			{Name: "checkout", CaptureRate: 70},
		})
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "duplicate condition names: checkout")
	})

	t.Run("duplicate check is case sensitive", func(t *testing.T) {
		msgs := ValidateConditions([]models.ProjectCondition{
			{Name: "Checkout", CaptureRate: 50},
			{Name: "checkout", CaptureRate: 50},
		})
		assert.Empty(t, msgs)
	})

	t.Run("rate bounds and filters are checked", func(t *testing.T) {
		msgs := ValidateConditions([]models.ProjectCondition{
			{Name: "bad", CaptureRate: 150, Filters: []models.CaptureFilter{
				{Kind: models.FilterKindURL, Operator: models.OperatorGreaterThan, Values: []string{"x"}},
			}},
		})
		assert.Len(t, msgs, 2)
	})

	t.Run("every problem is collected at once", func(t *testing.T) {
		msgs := ValidateConditions([]models.ProjectCondition{
			{Name: "", CaptureRate: -1},
			{Name: "dup", CaptureRate: 50},
			{Name: "dup", CaptureRate: 50},
		})
		assert.Len(t, msgs, 3)
	})
}
