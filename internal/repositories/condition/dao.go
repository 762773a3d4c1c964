package condition

import (
	"database/sql"

	"github.com/Ramsey-B/sepal/pkg/database"
	"github.com/Ramsey-B/sepal/pkg/models"
)

const conditionsTable = "projects_conditions"

// ConditionRow represents the database row for a capture condition
type ConditionRow struct {
	ConditionID sql.NullInt64                          `db:"condition_id"`
	ProjectID   sql.NullInt64                          `db:"project_id"`
	Name        sql.NullString                         `db:"name"`
	CaptureRate sql.NullInt64                          `db:"capture_rate"`
	Filters     database.JSONB[[]models.CaptureFilter] `db:"filters"`
}

var conditionStruct = database.NewStruct(new(ConditionRow))

// ToCondition converts a database row to a domain model
func ToCondition(row *ConditionRow) models.ProjectCondition {
	filters := row.Filters.Data
	if filters == nil {
		filters = []models.CaptureFilter{}
	}
	return models.ProjectCondition{
		ConditionID: row.ConditionID.Int64,
		ProjectID:   row.ProjectID.Int64,
		Name:        row.Name.String,
		CaptureRate: int(row.CaptureRate.Int64),
		Filters:     filters,
	}
}
