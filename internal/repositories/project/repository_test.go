package project_test

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sepal/internal/repositories/project"
	"github.com/Ramsey-B/sepal/pkg/database"
	"github.com/Ramsey-B/sepal/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "sepal"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

// assertNotFound asserts that err is an HTTP 404 error
func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestProjectRepository_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	created, err := repo.Create(ctx, tenantID, models.NewProject{
		Name:                "Storefront",
		Platform:            "web",
		SaveRequestPayloads: true,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ProjectID)
	assert.Equal(t, tenantID, created.TenantID)
	assert.Equal(t, "Storefront", created.Name)
	assert.Len(t, created.ProjectKey, 32, "project key is a dash-stripped uuid")
	assert.True(t, created.Active)
	assert.True(t, created.SaveRequestPayloads)
	assert.Equal(t, 100, created.SampleRate)
	require.NotNil(t, created.Gdpr, "create returns the seeded gdpr document")
	require.NotNil(t, created.Gdpr.MaskEmails)
	assert.True(t, *created.Gdpr.MaskEmails)

	fetched, err := repo.GetByID(ctx, tenantID, created.ProjectID, project.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, created.ProjectID, fetched.ProjectID)
	assert.Nil(t, fetched.Gdpr, "gdpr projection is opt-in")

	// Other tenants cannot see the project
	_, err = repo.GetByID(ctx, uuid.New().String(), created.ProjectID, project.GetOptions{})
	assertNotFound(t, err)
}

func TestProjectRepository_NameExists(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	created, err := repo.Create(ctx, tenantID, models.NewProject{Name: "My App", Platform: "web"})
	require.NoError(t, err)

	exists, err := repo.NameExists(ctx, tenantID, "my app", 0)
	require.NoError(t, err)
	assert.True(t, exists, "uniqueness is case-insensitive")

	exists, err = repo.NameExists(ctx, tenantID, "My App", created.ProjectID)
	require.NoError(t, err)
	assert.False(t, exists, "a project may keep its own name")

	exists, err = repo.NameExists(ctx, uuid.New().String(), "My App", 0)
	require.NoError(t, err)
	assert.False(t, exists, "uniqueness is tenant-scoped")
}

func TestProjectRepository_Update(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	created, err := repo.Create(ctx, tenantID, models.NewProject{Name: "Before", Platform: "web"})
	require.NoError(t, err)

	name := "After"
	updated, err := repo.Update(ctx, tenantID, created.ProjectID, models.ProjectUpdate{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "After", updated.Name)
	require.NotNil(t, updated.Gdpr, "update returns the gdpr projection")

	noop, err := repo.Update(ctx, tenantID, created.ProjectID, models.ProjectUpdate{})
	require.NoError(t, err)
	assert.Nil(t, noop, "empty update is a no-op")

	_, err = repo.Update(ctx, tenantID, 999999999, models.ProjectUpdate{Name: &name})
	assertNotFound(t, err)
}

func TestProjectRepository_SoftDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	created, err := repo.Create(ctx, tenantID, models.NewProject{Name: "Doomed", Platform: "web"})
	require.NoError(t, err)

	require.NoError(t, repo.SoftDelete(ctx, tenantID, created.ProjectID))

	_, err = repo.GetByID(ctx, tenantID, created.ProjectID, project.GetOptions{})
	assertNotFound(t, err)

	// The name is freed for reuse
	exists, err := repo.NameExists(ctx, tenantID, "Doomed", 0)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again still reports success
	require.NoError(t, repo.SoftDelete(ctx, tenantID, created.ProjectID))
}

func TestProjectRepository_ListOrderingAndProjections(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mango"} {
		_, err := repo.Create(ctx, tenantID, models.NewProject{Name: name, Platform: "web"})
		require.NoError(t, err)
	}

	projects, err := repo.List(ctx, tenantID, project.ListOptions{})
	require.NoError(t, err)
	require.Len(t, projects, 3)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, "mango", projects[1].Name)
	assert.Equal(t, "zeta", projects[2].Name)
	assert.Nil(t, projects[0].Gdpr)
	assert.Nil(t, projects[0].Recorded)

	projects, err = repo.List(ctx, tenantID, project.ListOptions{IncludeGdpr: true, IncludeRecorded: true})
	require.NoError(t, err)
	require.NotNil(t, projects[0].Gdpr)
	require.NotNil(t, projects[0].Recorded)
	assert.False(t, *projects[0].Recorded, "no sessions captured yet")
}

func TestProjectRepository_RecordedCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{
		ScanWindow:      4 * time.Hour,
		RecheckCooldown: time.Hour,
	})

	tenantID := uuid.New().String()
	ctx := context.Background()

	created, err := repo.Create(ctx, tenantID, models.NewProject{Name: "Recorded", Platform: "web"})
	require.NoError(t, err)

	sessionStart := time.Now().UTC().Add(-time.Minute).UnixMilli()
	_, err = db.ExecContext(ctx, `INSERT INTO sessions (project_id, start_ts) VALUES ($1, $2)`,
		created.ProjectID, sessionStart)
	require.NoError(t, err)

	// Make the cache row stale so the list call recomputes and persists it
	_, err = db.ExecContext(ctx, `UPDATE projects
            SET sessions_last_check_at = timezone('utc', now()) - INTERVAL '2 hours'
            WHERE project_id = $1`, created.ProjectID)
	require.NoError(t, err)

	projects, err := repo.List(ctx, tenantID, project.ListOptions{IncludeRecorded: true})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.NotNil(t, projects[0].Recorded)
	assert.True(t, *projects[0].Recorded)
	require.NotNil(t, projects[0].FirstRecordedSessionAt)
	assert.Equal(t, sessionStart, *projects[0].FirstRecordedSessionAt)

	// The write-back runs async; wait for the cached column to land
	require.Eventually(t, func() bool {
		var firstRecorded sql.NullTime
		if err := db.GetContext(ctx, &firstRecorded,
			`SELECT first_recorded_session_at FROM projects WHERE project_id = $1`, created.ProjectID); err != nil {
			return false
		}
		return firstRecorded.Valid && firstRecorded.Time.UnixMilli() == sessionStart
	}, 5*time.Second, 100*time.Millisecond)

	// A later read serves the cached value without rescanning
	projects, err = repo.List(ctx, tenantID, project.ListOptions{IncludeRecorded: true})
	require.NoError(t, err)
	require.NotNil(t, projects[0].FirstRecordedSessionAt)
	assert.Equal(t, sessionStart, *projects[0].FirstRecordedSessionAt)
}

func TestProjectRepository_Gdpr(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	created, err := repo.Create(ctx, tenantID, models.NewProject{Name: "GDPR", Platform: "web"})
	require.NoError(t, err)

	gdpr, err := repo.GetGdpr(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, created.ProjectID, gdpr.ProjectID, "document is stamped with the project id")
	require.NotNil(t, gdpr.MaskEmails)
	assert.True(t, *gdpr.MaskEmails)
	require.NotNil(t, gdpr.DefaultInputMode)
	assert.Equal(t, "obscured", *gdpr.DefaultInputMode)

	// A partial patch merges; untouched fields survive
	maskNumbers := true
	merged, err := repo.UpdateGdpr(ctx, created.ProjectID, models.GdprSettings{MaskNumbers: &maskNumbers})
	require.NoError(t, err)
	require.NotNil(t, merged.MaskNumbers)
	assert.True(t, *merged.MaskNumbers)
	require.NotNil(t, merged.MaskEmails)
	assert.True(t, *merged.MaskEmails, "fields absent from the patch are untouched")
	assert.Equal(t, created.ProjectID, merged.ProjectID)

	_, err = repo.GetGdpr(ctx, 999999999)
	assertNotFound(t, err)
}

func TestProjectRepository_CaptureStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	created, err := repo.Create(ctx, tenantID, models.NewProject{Name: "Sampling", Platform: "web"})
	require.NoError(t, err)

	status, err := repo.GetCaptureStatus(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, 100, status.Rate)
	assert.True(t, status.CaptureAll, "a rate of 100 means capture everything")

	status, err = repo.UpdateCaptureStatus(ctx, created.ProjectID, models.CaptureStatus{Rate: 40})
	require.NoError(t, err)
	assert.Equal(t, 40, status.Rate)
	assert.False(t, status.CaptureAll)

	// captureAll wins over the supplied rate
	status, err = repo.UpdateCaptureStatus(ctx, created.ProjectID, models.CaptureStatus{Rate: 10, CaptureAll: true})
	require.NoError(t, err)
	assert.Equal(t, 100, status.Rate)
	assert.True(t, status.CaptureAll)

	_, err = repo.UpdateCaptureStatus(ctx, 999999999, models.CaptureStatus{Rate: 50})
	assertNotFound(t, err)
}

func TestProjectRepository_Keys(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	created, err := repo.Create(ctx, tenantID, models.NewProject{Name: "Keyed", Platform: "ios"})
	require.NoError(t, err)

	key, err := repo.GetKey(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, created.ProjectKey, key)

	byKey, err := repo.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, created.ProjectID, byKey.ProjectID)
	assert.Equal(t, "ios", byKey.Platform)

	// Deleted projects do not resolve by key
	require.NoError(t, repo.SoftDelete(ctx, tenantID, created.ProjectID))
	_, err = repo.GetByKey(ctx, key)
	assertNotFound(t, err)
}

func TestProjectRepository_ListIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := project.NewRepository(db, getTestLogger(), project.Config{})

	tenantID := uuid.New().String()
	ctx := context.Background()

	var expected []int64
	for _, name := range []string{"one", "two", "three"} {
		created, err := repo.Create(ctx, tenantID, models.NewProject{Name: name, Platform: "web"})
		require.NoError(t, err)
		expected = append(expected, created.ProjectID)
	}
	require.NoError(t, repo.SoftDelete(ctx, tenantID, expected[1]))

	ids, err := repo.ListIDs(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, []int64{expected[0], expected[2]}, ids)
}
