package project

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/sepal/pkg/database"
	"github.com/Ramsey-B/sepal/pkg/models"
)

const projectsTable = "projects"

// ProjectRow represents the database row for a project
type ProjectRow struct {
	ProjectID              sql.NullInt64                         `db:"project_id"`
	TenantID               sql.NullString                        `db:"tenant_id"`
	Name                   sql.NullString                        `db:"name"`
	ProjectKey             sql.NullString                        `db:"project_key"`
	Platform               sql.NullString                        `db:"platform"`
	Active                 sql.NullBool                          `db:"active"`
	SampleRate             sql.NullInt64                         `db:"sample_rate"`
	ConditionalCapture     sql.NullBool                          `db:"conditional_capture"`
	SaveRequestPayloads    sql.NullBool                          `db:"save_request_payloads"`
	Gdpr                   database.JSONB[models.GdprSettings]   `db:"gdpr"`
	ConditionsCount        sql.NullInt64                         `db:"conditions_count"`
	CreatedAt              sql.NullTime                          `db:"created_at"`
	SessionsLastCheckAt    sql.NullTime                          `db:"sessions_last_check_at"`
	FirstRecordedSessionAt sql.NullTime                          `db:"first_recorded_session_at"`
	DeletedAt              sql.NullTime                          `db:"deleted_at"`
}

// ToProject converts a database row to a domain model
func ToProject(row *ProjectRow) *models.Project {
	return &models.Project{
		ProjectID:           row.ProjectID.Int64,
		TenantID:            row.TenantID.String,
		Name:                row.Name.String,
		ProjectKey:          row.ProjectKey.String,
		Platform:            row.Platform.String,
		Active:              row.Active.Bool,
		SampleRate:          int(row.SampleRate.Int64),
		ConditionalCapture:  row.ConditionalCapture.Bool,
		SaveRequestPayloads: row.SaveRequestPayloads.Bool,
		ConditionsCount:     int(row.ConditionsCount.Int64),
		CreatedAt:           row.CreatedAt.Time,
	}
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// NowMilli returns the current UTC wall clock as epoch milliseconds, the unit
// session timestamps are stored in.
func NowMilli() int64 {
	return time.Now().UTC().UnixMilli()
}
