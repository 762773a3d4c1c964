package condition

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sepal/pkg/database"
	"github.com/Ramsey-B/sepal/pkg/models"
	"github.com/Ramsey-B/sepal/pkg/tracing"
)

// ConditionRepository defines the interface for capture condition data access
type ConditionRepository interface {
	GetConditions(ctx context.Context, projectID int64) (*models.CaptureConditions, error)
	Reconcile(ctx context.Context, projectID int64, cfg models.CaptureConditions) (*models.CaptureConditions, error)
}

// Repository implements ConditionRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new condition repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetConditions returns the project's capture configuration with its condition
// set ordered by ascending condition id. A project with no conditions gets an
// empty slice, never nil.
func (r *Repository) GetConditions(ctx context.Context, projectID int64) (*models.CaptureConditions, error) {
	ctx, span := tracing.StartSpan(ctx, "ConditionRepository.GetConditions")
	defer span.End()

	query := `SELECT sample_rate AS rate, conditional_capture
            FROM projects
            WHERE project_id = $1
                AND deleted_at IS NULL`

	var head struct {
		Rate               int  `db:"rate"`
		ConditionalCapture bool `db:"conditional_capture"`
	}
	if err := r.db.GetContext(ctx, &head, query, projectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get capture configuration")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get capture configuration")
	}

	sb := conditionStruct.SelectFrom(conditionsTable)
	sb.Where(sb.Equal("project_id", projectID))
	sb.OrderBy("condition_id").Asc()

	condQuery, args := sb.Build()

	var rows []ConditionRow
	if err := r.db.SelectContext(ctx, &rows, condQuery, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list capture conditions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list capture conditions")
	}

	conditions := make([]models.ProjectCondition, 0, len(rows))
	for i := range rows {
		conditions = append(conditions, ToCondition(&rows[i]))
	}

	return &models.CaptureConditions{
		Rate:               head.Rate,
		ConditionalCapture: head.ConditionalCapture,
		Conditions:         conditions,
	}, nil
}

// Reconcile stores the sampling columns and replaces the visible condition set
// with the desired one inside a single transaction: rows absent from the input
// are deleted, rows without a known id are created, and matching rows are
// rewritten. Returns the freshly persisted configuration.
func (r *Repository) Reconcile(ctx context.Context, projectID int64, cfg models.CaptureConditions) (*models.CaptureConditions, error) {
	ctx, span := tracing.StartSpan(ctx, "ConditionRepository.Reconcile")
	defer span.End()

	txCtx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin reconciliation")
	}
	defer tx.Rollback(ctx)

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("projects")
	ub.Set(
		ub.Assign("sample_rate", cfg.Rate),
		ub.Assign("conditional_capture", cfg.ConditionalCapture),
	)
	ub.Where(
		ub.Equal("project_id", projectID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(txCtx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update sampling configuration")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update sampling configuration")
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
	}

	existingIDs := []int64{}
	if err := tx.SelectContext(txCtx, &existingIDs,
		`SELECT condition_id FROM projects_conditions WHERE project_id = $1 ORDER BY condition_id`, projectID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to fetch existing conditions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to fetch existing conditions")
	}

	plan := planReconcile(existingIDs, cfg.Conditions)

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"deletes":    len(plan.toDelete),
		"creates":    len(plan.toCreate),
		"updates":    len(plan.toUpdate),
	}).Debug("Reconciling capture conditions")

	if len(plan.toDelete) > 0 {
		if err := r.deleteConditions(txCtx, tx, projectID, plan.toDelete); err != nil {
			return nil, err
		}
	}
	if len(plan.toCreate) > 0 {
		if err := r.createConditions(txCtx, tx, projectID, plan.toCreate); err != nil {
			return nil, err
		}
	}
	if len(plan.toUpdate) > 0 {
		if err := r.updateConditions(txCtx, tx, projectID, plan.toUpdate); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit reconciliation")
	}

	return r.GetConditions(ctx, projectID)
}

func (r *Repository) deleteConditions(ctx context.Context, tx database.Tx, projectID int64, ids []int64) error {
	db := conditionStruct.DeleteFrom(conditionsTable)
	db.Where(
		db.Equal("project_id", projectID),
		db.In("condition_id", ectolinq.Map(ids, func(id int64) any { return id })...),
	)

	query, args := db.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete capture conditions")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete capture conditions")
	}

	return nil
}

func (r *Repository) createConditions(ctx context.Context, tx database.Tx, projectID int64, conditions []models.ProjectCondition) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(conditionsTable)
	ib.Cols("project_id", "name", "capture_rate", "filters")
	for _, c := range conditions {
		ib.Values(projectID, c.Name, c.CaptureRate, database.JSONB[[]models.CaptureFilter]{Data: c.Filters})
	}

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create capture conditions")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create capture conditions")
	}

	return nil
}

// updateConditions rewrites name, capture_rate and filters for every matched
// id with one batched statement joined against a VALUES list. Placeholders are
// generated from loop indices only; every user-controlled value rides args.
func (r *Repository) updateConditions(ctx context.Context, tx database.Tx, projectID int64, conditions []models.ProjectCondition) error {
	values := make([]string, 0, len(conditions))
	args := make([]any, 0, len(conditions)*4+1)
	for i, c := range conditions {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d::BIGINT, $%d::TEXT, $%d::INT, $%d::JSONB)", base+1, base+2, base+3, base+4))
		args = append(args, c.ConditionID, c.Name, c.CaptureRate, database.JSONB[[]models.CaptureFilter]{Data: c.Filters})
	}
	args = append(args, projectID)

	query := fmt.Sprintf(`UPDATE projects_conditions
            SET name = c.name, capture_rate = c.capture_rate, filters = c.filters
            FROM (VALUES %s) AS c(condition_id, name, capture_rate, filters)
            WHERE c.condition_id = projects_conditions.condition_id
                AND projects_conditions.project_id = $%d`, strings.Join(values, ", "), len(conditions)*4+1)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update capture conditions")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update capture conditions")
	}

	return nil
}
