package user_test

import (
	"context"
	"os"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sepal/internal/repositories/user"
	"github.com/Ramsey-B/sepal/pkg/database"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
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

func seedUser(t *testing.T, db database.DB, tenantID, role string, superAdmin bool) string {
	t.Helper()
	userID := uuid.New().String()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (user_id, tenant_id, role, super_admin) VALUES ($1, $2, $3, $4)`,
		userID, tenantID, role, superAdmin)
	require.NoError(t, err)
	return userID
}

func TestUserRepository_IsAdminOrSuperAdmin(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := user.NewRepository(db, getTestLogger())
	ctx := context.Background()
	tenantID := uuid.New().String()

	tests := []struct {
		name       string
		role       string
		superAdmin bool
		want       bool
	}{
		{name: "owner is privileged", role: "owner", want: true},
		{name: "admin is privileged", role: "admin", want: true},
		{name: "member is not privileged", role: "member", want: false},
		{name: "super admin flag overrides role", role: "member", superAdmin: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID := seedUser(t, db, tenantID, tt.role, tt.superAdmin)
			allowed, err := repo.IsAdminOrSuperAdmin(ctx, tenantID, userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, allowed)
		})
	}

	t.Run("unknown user is not privileged", func(t *testing.T) {
		allowed, err := repo.IsAdminOrSuperAdmin(ctx, tenantID, uuid.New().String())
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("membership is tenant scoped", func(t *testing.T) {
		userID := seedUser(t, db, tenantID, "admin", false)
		allowed, err := repo.IsAdminOrSuperAdmin(ctx, uuid.New().String(), userID)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("deleted user is not privileged", func(t *testing.T) {
		userID := seedUser(t, db, tenantID, "admin", false)
		_, err := db.ExecContext(ctx,
			`UPDATE users SET deleted_at = timezone('utc', now()) WHERE user_id = $1`, userID)
		require.NoError(t, err)

		allowed, err := repo.IsAdminOrSuperAdmin(ctx, tenantID, userID)
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}
