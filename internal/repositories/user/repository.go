package user

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sepal/pkg/database"
	"github.com/Ramsey-B/sepal/pkg/tracing"
)

const usersTable = "users"

// AuthorizationGate reports membership privileges for project mutations.
type AuthorizationGate interface {
	IsAdminOrSuperAdmin(ctx context.Context, tenantID, userID string) (bool, error)
}

// Repository implements AuthorizationGate over the users table
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new user repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// IsAdminOrSuperAdmin reports whether the user holds an admin role (or the
// super-admin flag) within the tenant. An unknown or deleted user is simply
// not privileged; only storage failures surface as errors.
func (r *Repository) IsAdminOrSuperAdmin(ctx context.Context, tenantID, userID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.IsAdminOrSuperAdmin")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("role", "super_admin")
	sb.From(usersTable)
	sb.Where(
		sb.Equal("user_id", userID),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	var row struct {
		Role       sql.NullString `db:"role"`
		SuperAdmin sql.NullBool   `db:"super_admin"`
	}
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up user role")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up user role")
	}

	return row.SuperAdmin.Bool || row.Role.String == "admin" || row.Role.String == "owner", nil
}
