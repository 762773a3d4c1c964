package project

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sepal/pkg/database"
	"github.com/Ramsey-B/sepal/pkg/metrics"
	"github.com/Ramsey-B/sepal/pkg/models"
	"github.com/Ramsey-B/sepal/pkg/tracing"
)

// ProjectRepository defines the interface for project data access
type ProjectRepository interface {
	NameExists(ctx context.Context, tenantID, name string, excludeID int64) (bool, error)
	Create(ctx context.Context, tenantID string, req models.NewProject) (*models.Project, error)
	Update(ctx context.Context, tenantID string, projectID int64, upd models.ProjectUpdate) (*models.Project, error)
	SoftDelete(ctx context.Context, tenantID string, projectID int64) error
	List(ctx context.Context, tenantID string, opts ListOptions) ([]*models.Project, error)
	GetByID(ctx context.Context, tenantID string, projectID int64, opts GetOptions) (*models.Project, error)
	GetGdpr(ctx context.Context, projectID int64) (*models.GdprSettings, error)
	UpdateGdpr(ctx context.Context, projectID int64, patch models.GdprSettings) (*models.GdprSettings, error)
	GetByKey(ctx context.Context, projectKey string) (*models.Project, error)
	GetKey(ctx context.Context, projectID int64) (string, error)
	GetCaptureStatus(ctx context.Context, projectID int64) (*models.CaptureStatus, error)
	UpdateCaptureStatus(ctx context.Context, projectID int64, status models.CaptureStatus) (*models.CaptureStatus, error)
	ListIDs(ctx context.Context, tenantID string) ([]int64, error)
}

// ListOptions selects the optional (expensive) projections of a list call.
type ListOptions struct {
	IncludeGdpr     bool
	IncludeRecorded bool
}

// GetOptions selects the optional projections of a single-project read.
type GetOptions struct {
	IncludeLastSession bool
	IncludeGdpr        bool
}

// Config holds the tunables of the recorded-session cache. Zero values fall
// back to the defaults (4h scan window, 1h recheck cooldown).
type Config struct {
	ScanWindow      time.Duration
	RecheckCooldown time.Duration
}

const (
	defaultScanWindow      = 4 * time.Hour
	defaultRecheckCooldown = time.Hour
)

// Repository implements ProjectRepository
type Repository struct {
	db              database.DB
	logger          ectologger.Logger
	scanWindow      time.Duration
	recheckCooldown time.Duration
}

// NewRepository creates a new project repository
func NewRepository(db database.DB, logger ectologger.Logger, cfg Config) *Repository {
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = defaultScanWindow
	}
	if cfg.RecheckCooldown <= 0 {
		cfg.RecheckCooldown = defaultRecheckCooldown
	}

	return &Repository{
		db:              db,
		logger:          logger,
		scanWindow:      cfg.ScanWindow,
		recheckCooldown: cfg.RecheckCooldown,
	}
}

// NameExists reports whether a live project in the tenant already uses the
// name, case-insensitively. excludeID lets a rename keep the project's own
// name; pass 0 to exclude nothing.
func (r *Repository) NameExists(ctx context.Context, tenantID, name string, excludeID int64) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.NameExists")
	defer span.End()

	query := `SELECT EXISTS(SELECT 1
                FROM projects
                WHERE tenant_id = $1
                    AND deleted_at IS NULL
                    AND LOWER(name) = LOWER($2)
                    AND ($3 = 0 OR project_id <> $3))`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, tenantID, name, excludeID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check project name")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check project name")
	}

	return exists, nil
}

// Create inserts a new live project and returns it with the GDPR projection.
func (r *Repository) Create(ctx context.Context, tenantID string, req models.NewProject) (*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.Create")
	defer span.End()

	projectKey := strings.ReplaceAll(uuid.New().String(), "-", "")
	if req.Platform == "" {
		req.Platform = "web"
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(projectsTable)
	ib.Cols("tenant_id", "name", "project_key", "platform", "active", "save_request_payloads")
	ib.Values(tenantID, req.Name, projectKey, req.Platform, true, req.SaveRequestPayloads)
	ib.Returning("project_id")

	query, args := ib.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"name":      req.Name,
		"platform":  req.Platform,
	}).Debug("Creating project")

	var projectID int64
	if err := r.db.GetContext(ctx, &projectID, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create project")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create project")
	}

	return r.GetByID(ctx, tenantID, projectID, GetOptions{IncludeGdpr: true})
}

// Update applies a partial update built from the whitelisted setters. When the
// update is empty it is a no-op and returns nil. The result carries only the
// returned projection: project id, name and the GDPR document.
func (r *Repository) Update(ctx context.Context, tenantID string, projectID int64, upd models.ProjectUpdate) (*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.Update")
	defer span.End()

	if upd.IsEmpty() {
		return nil, nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(projectsTable)

	assignments := []string{}
	if upd.Name != nil {
		assignments = append(assignments, ub.Assign("name", *upd.Name))
	}
	if upd.SaveRequestPayloads != nil {
		assignments = append(assignments, ub.Assign("save_request_payloads", *upd.SaveRequestPayloads))
	}
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("project_id", projectID),
		ub.Equal("tenant_id", tenantID),
		ub.IsNull("deleted_at"),
	)
	ub.SQL("RETURNING project_id, name, gdpr")

	query, args := ub.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  tenantID,
		"project_id": projectID,
	}).Debug("Updating project")

	var row ProjectRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update project")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update project")
	}

	updated := ToProject(&row)
	gdpr := row.Gdpr.Data
	gdpr.ProjectID = updated.ProjectID
	updated.Gdpr = &gdpr
	return updated, nil
}

// SoftDelete marks a project deleted and inactive. Deletion is logical only
// and deliberately idempotent: repeating the call rewrites the timestamp and
// reports success either way.
func (r *Repository) SoftDelete(ctx context.Context, tenantID string, projectID int64) error {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.SoftDelete")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(projectsTable)
	ub.Set(
		ub.Assign("deleted_at", Now()),
		ub.Assign("active", false),
	)
	ub.Where(
		ub.Equal("project_id", projectID),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  tenantID,
		"project_id": projectID,
	}).Debug("Soft deleting project")

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete project")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete project")
	}

	return nil
}

type listRow struct {
	ProjectRow
	FirstRecorded sql.NullInt64 `db:"first_recorded"`
	Recorded      sql.NullBool  `db:"recorded"`
}

type firstRecordedUpdate struct {
	projectID     int64
	firstRecorded *int64
}

// List returns the tenant's live projects ordered by name. The recorded
// projection derives, per project, whether a session was ever captured; when
// the cached first_recorded_session_at is missing and the last check has
// cooled down, the computed value is persisted back asynchronously as one
// batched update.
func (r *Repository) List(ctx context.Context, tenantID string, opts ListOptions) ([]*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.List")
	defer span.End()

	cols := `s.project_id, s.tenant_id, s.name, s.project_key, s.platform, s.active,
             s.save_request_payloads, s.sample_rate, s.conditional_capture,
             s.created_at, s.sessions_last_check_at, s.first_recorded_session_at,
             (SELECT count(*) FROM projects_conditions WHERE project_id = s.project_id) AS conditions_count`
	if opts.IncludeGdpr {
		cols += ", s.gdpr"
	}

	now := NowMilli()
	var query string
	var args []any
	if opts.IncludeRecorded {
		query = fmt.Sprintf(`SELECT raw.*, raw.first_recorded IS NOT NULL AS recorded FROM (
                SELECT %s,
                    COALESCE(CAST(EXTRACT(EPOCH FROM s.first_recorded_session_at) * 1000 AS BIGINT),
                        (SELECT MIN(ss.start_ts)
                         FROM sessions AS ss
                         WHERE ss.project_id = s.project_id
                             AND ss.start_ts >= CAST(EXTRACT(EPOCH FROM COALESCE(s.sessions_last_check_at, s.created_at)) * 1000 AS BIGINT) - $2
                             AND ss.start_ts <= $3)) AS first_recorded
                FROM projects AS s
                WHERE s.deleted_at IS NULL AND s.tenant_id = $1
                ORDER BY s.name) AS raw`, cols)
		args = []any{tenantID, r.scanWindow.Milliseconds(), now}
	} else {
		query = fmt.Sprintf(`SELECT %s
                FROM projects AS s
                WHERE s.deleted_at IS NULL AND s.tenant_id = $1
                ORDER BY s.name`, cols)
		args = []any{tenantID}
	}

	var rows []listRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list projects")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list projects")
	}

	projects := make([]*models.Project, 0, len(rows))
	var stale []firstRecordedUpdate
	for i := range rows {
		row := &rows[i]
		p := ToProject(&row.ProjectRow)
		if opts.IncludeGdpr {
			gdpr := row.Gdpr.Data
			p.Gdpr = &gdpr
		}
		if opts.IncludeRecorded {
			recorded := row.Recorded.Bool
			p.Recorded = &recorded
			if row.FirstRecorded.Valid {
				firstRecorded := row.FirstRecorded.Int64
				p.FirstRecordedSessionAt = &firstRecorded
			}

			// The cache row is refreshed only when the value is still missing
			// and the previous check has cooled down; a fresh check that found
			// nothing records NULL so the scan window keeps sliding forward.
			if !row.FirstRecordedSessionAt.Valid && row.SessionsLastCheckAt.Valid &&
				now-row.SessionsLastCheckAt.Time.UnixMilli() > r.recheckCooldown.Milliseconds() {
				upd := firstRecordedUpdate{projectID: p.ProjectID}
				if recorded && row.FirstRecorded.Valid {
					firstRecorded := row.FirstRecorded.Int64
					upd.firstRecorded = &firstRecorded
				}
				stale = append(stale, upd)
			}
		}
		projects = append(projects, p)
	}

	if len(stale) > 0 {
		go r.persistFirstRecorded(context.WithoutCancel(ctx), stale)
	}

	return projects, nil
}

// persistFirstRecorded writes the recomputed recorded-session cache back onto
// the project rows as a single multi-row update.
func (r *Repository) persistFirstRecorded(ctx context.Context, updates []firstRecordedUpdate) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.persistFirstRecorded")
	defer span.End()

	values := make([]string, 0, len(updates))
	args := make([]any, 0, len(updates)*2)
	for i, u := range updates {
		values = append(values, fmt.Sprintf("($%d::BIGINT, to_timestamp($%d::BIGINT / 1000.0))", i*2+1, i*2+2))
		args = append(args, u.projectID, u.firstRecorded)
	}

	query := fmt.Sprintf(`UPDATE projects
            SET sessions_last_check_at = timezone('utc', now()),
                first_recorded_session_at = u.first_recorded
            FROM (VALUES %s) AS u(project_id, first_recorded)
            WHERE projects.project_id = u.project_id`, strings.Join(values, ", "))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to persist recorded-session cache")
		return
	}

	metrics.RecordedCacheRefreshes.Add(float64(len(updates)))
}

type getRow struct {
	ProjectRow
	LastRecordedSessionAt sql.NullInt64 `db:"last_recorded_session_at"`
}

// GetByID returns a single live project, or a 404 when the project is missing
// or soft deleted.
func (r *Repository) GetByID(ctx context.Context, tenantID string, projectID int64, opts GetOptions) (*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.GetByID")
	defer span.End()

	extra := ""
	if opts.IncludeLastSession {
		extra += `, (SELECT max(ss.start_ts)
                     FROM sessions AS ss
                     WHERE ss.project_id = $2) AS last_recorded_session_at`
	}
	if opts.IncludeGdpr {
		extra += ", s.gdpr"
	}

	query := fmt.Sprintf(`SELECT s.project_id, s.tenant_id, s.project_key, s.name, s.platform,
                s.active, s.save_request_payloads, s.sample_rate, s.conditional_capture, s.created_at%s
            FROM projects AS s
            WHERE s.tenant_id = $1
                AND s.project_id = $2
                AND s.deleted_at IS NULL
            LIMIT 1`, extra)

	var row getRow
	if err := r.db.GetContext(ctx, &row, query, tenantID, projectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get project")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get project")
	}

	p := ToProject(&row.ProjectRow)
	if opts.IncludeGdpr {
		gdpr := row.Gdpr.Data
		p.Gdpr = &gdpr
	}
	if opts.IncludeLastSession && row.LastRecordedSessionAt.Valid {
		lastRecorded := row.LastRecordedSessionAt.Int64
		p.LastRecordedSessionAt = &lastRecorded
	}

	return p, nil
}

// GetGdpr returns the project's GDPR document stamped with the project id.
func (r *Repository) GetGdpr(ctx context.Context, projectID int64) (*models.GdprSettings, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.GetGdpr")
	defer span.End()

	query := `SELECT gdpr
            FROM projects
            WHERE project_id = $1
                AND deleted_at IS NULL`

	var gdpr database.JSONB[models.GdprSettings]
	if err := r.db.GetContext(ctx, &gdpr, query, projectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get project gdpr")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get project gdpr")
	}

	settings := gdpr.Data
	settings.ProjectID = projectID
	return &settings, nil
}

// UpdateGdpr shallow-merges the patch into the stored document. Fields absent
// from the patch are left untouched; the merged result is returned.
func (r *Repository) UpdateGdpr(ctx context.Context, projectID int64, patch models.GdprSettings) (*models.GdprSettings, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.UpdateGdpr")
	defer span.End()

	patch.ProjectID = 0 // never persisted, stamped on the way out

	query := `UPDATE projects
            SET gdpr = gdpr || $2::jsonb
            WHERE project_id = $1
                AND deleted_at IS NULL
            RETURNING gdpr`

	var gdpr database.JSONB[models.GdprSettings]
	if err := r.db.GetContext(ctx, &gdpr, query, projectID, database.JSONB[models.GdprSettings]{Data: patch}); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update project gdpr")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update project gdpr")
	}

	settings := gdpr.Data
	settings.ProjectID = projectID
	return &settings, nil
}

// GetByKey resolves a project by its stable capture key. Used by the recorder
// handshake, so it is not tenant scoped.
func (r *Repository) GetByKey(ctx context.Context, projectKey string) (*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.GetByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("project_id", "tenant_id", "project_key", "platform", "name")
	sb.From(projectsTable)
	sb.Where(
		sb.Equal("project_key", projectKey),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	var row ProjectRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get project by key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get project by key")
	}

	return ToProject(&row), nil
}

// GetKey returns the capture key of a live project.
func (r *Repository) GetKey(ctx context.Context, projectID int64) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.GetKey")
	defer span.End()

	query := `SELECT project_key
            FROM projects
            WHERE project_id = $1
                AND deleted_at IS NULL`

	var projectKey string
	if err := r.db.GetContext(ctx, &projectKey, query, projectID); err != nil {
		if err == sql.ErrNoRows {
			return "", httperror.NewHTTPError(http.StatusNotFound, "project not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get project key")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to get project key")
	}

	return projectKey, nil
}

// GetCaptureStatus returns the sampling configuration; captureAll is derived
// from the stored rate.
func (r *Repository) GetCaptureStatus(ctx context.Context, projectID int64) (*models.CaptureStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.GetCaptureStatus")
	defer span.End()

	query := `SELECT sample_rate AS rate, sample_rate = 100 AS capture_all
            FROM projects
            WHERE project_id = $1
                AND deleted_at IS NULL`

	var status struct {
		Rate       int  `db:"rate"`
		CaptureAll bool `db:"capture_all"`
	}
	if err := r.db.GetContext(ctx, &status, query, projectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get capture status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get capture status")
	}

	return &models.CaptureStatus{Rate: status.Rate, CaptureAll: status.CaptureAll}, nil
}

// UpdateCaptureStatus stores the sample rate. Requesting captureAll forces the
// rate to 100 regardless of the rate supplied alongside it.
func (r *Repository) UpdateCaptureStatus(ctx context.Context, projectID int64, status models.CaptureStatus) (*models.CaptureStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.UpdateCaptureStatus")
	defer span.End()

	sampleRate := status.Rate
	if status.CaptureAll {
		sampleRate = 100
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(projectsTable)
	ub.Set(ub.Assign("sample_rate", sampleRate))
	ub.Where(
		ub.Equal("project_id", projectID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update capture status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update capture status")
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "project not found")
	}

	return &models.CaptureStatus{Rate: sampleRate, CaptureAll: sampleRate == 100}, nil
}

// ListIDs enumerates the tenant's live project ids in ascending order. Used by
// batch jobs that fan out across projects.
func (r *Repository) ListIDs(ctx context.Context, tenantID string) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.ListIDs")
	defer span.End()

	query := `SELECT project_id
            FROM projects
            WHERE tenant_id = $1
                AND deleted_at IS NULL
            ORDER BY project_id`

	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids, query, tenantID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list project ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list project ids")
	}

	return ids, nil
}
