package project

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sepal/internal/repositories/project"
	"github.com/Ramsey-B/sepal/pkg/kafka"
	"github.com/Ramsey-B/sepal/pkg/metrics"
	"github.com/Ramsey-B/sepal/pkg/models"
	"github.com/Ramsey-B/sepal/pkg/tracing"
)

// ProjectRepository is the slice of project data access the service drives.
type ProjectRepository interface {
	NameExists(ctx context.Context, tenantID, name string, excludeID int64) (bool, error)
	Create(ctx context.Context, tenantID string, req models.NewProject) (*models.Project, error)
	Update(ctx context.Context, tenantID string, projectID int64, upd models.ProjectUpdate) (*models.Project, error)
	SoftDelete(ctx context.Context, tenantID string, projectID int64) error
	GetByID(ctx context.Context, tenantID string, projectID int64, opts project.GetOptions) (*models.Project, error)
}

// ConditionRepository reconciles a project's capture condition set.
type ConditionRepository interface {
	Reconcile(ctx context.Context, projectID int64, cfg models.CaptureConditions) (*models.CaptureConditions, error)
}

// AuthorizationGate reports whether a user may mutate projects in a tenant.
type AuthorizationGate interface {
	IsAdminOrSuperAdmin(ctx context.Context, tenantID, userID string) (bool, error)
}

// EventPublisher emits project lifecycle events. May be left nil to disable
// event emission.
type EventPublisher interface {
	PublishProjectEvent(ctx context.Context, event *kafka.ProjectEvent) error
}

// Service enforces the authorization and uniqueness rules around project
// mutations; reads go straight to the repositories.
type Service struct {
	logger     ectologger.Logger
	projects   ProjectRepository
	conditions ConditionRepository
	gate       AuthorizationGate
	events     EventPublisher
}

// NewService creates a new project service. events may be nil.
func NewService(logger ectologger.Logger, projects ProjectRepository, conditions ConditionRepository, gate AuthorizationGate, events EventPublisher) *Service {
	return &Service{
		logger:     logger,
		projects:   projects,
		conditions: conditions,
		gate:       gate,
		events:     events,
	}
}

// Create adds a project after checking the caller's role and the tenant-wide
// name uniqueness. skipAuthorization is for trusted internal callers such as
// tenant provisioning; the uniqueness check still applies.
func (s *Service) Create(ctx context.Context, tenantID, userID string, req models.NewProject, skipAuthorization bool) (*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectService.Create")
	defer span.End()

	if !skipAuthorization {
		if err := s.authorize(ctx, tenantID, userID, "create"); err != nil {
			return nil, err
		}
	}

	exists, err := s.projects.NameExists(ctx, tenantID, req.Name, 0)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "name already exists").
			AddMetaValue("errors", []string{"Project name already exists."})
	}

	created, err := s.projects.Create(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	metrics.ProjectsCreated.WithLabelValues(tenantID).Inc()
	s.emit(ctx, "created", created)

	return created, nil
}

// Edit applies a partial update. A rename is rejected when another live
// project in the tenant already holds the name; an empty update is a no-op and
// returns the current project.
func (s *Service) Edit(ctx context.Context, tenantID, userID string, projectID int64, upd models.ProjectUpdate) (*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectService.Edit")
	defer span.End()

	if err := s.authorize(ctx, tenantID, userID, "edit"); err != nil {
		return nil, err
	}

	if upd.Name != nil {
		exists, err := s.projects.NameExists(ctx, tenantID, *upd.Name, projectID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "name already exists").
				AddMetaValue("errors", []string{"Project name already exists."})
		}
	}

	updated, err := s.projects.Update(ctx, tenantID, projectID, upd)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return s.projects.GetByID(ctx, tenantID, projectID, project.GetOptions{IncludeGdpr: true})
	}

	s.emit(ctx, "updated", updated)

	return updated, nil
}

// Delete soft-deletes a project. The call is idempotent; deleting an already
// deleted project reports success.
func (s *Service) Delete(ctx context.Context, tenantID, userID string, projectID int64) error {
	ctx, span := tracing.StartSpan(ctx, "ProjectService.Delete")
	defer span.End()

	if err := s.authorize(ctx, tenantID, userID, "delete"); err != nil {
		return err
	}

	if err := s.projects.SoftDelete(ctx, tenantID, projectID); err != nil {
		return err
	}

	metrics.ProjectsDeleted.WithLabelValues(tenantID).Inc()
	s.emit(ctx, "deleted", &models.Project{ProjectID: projectID, TenantID: tenantID})

	return nil
}

// UpdateCaptureConditions validates the desired condition set and reconciles
// it against storage. Validation failures list every problem at once.
func (s *Service) UpdateCaptureConditions(ctx context.Context, projectID int64, cfg models.CaptureConditions) (*models.CaptureConditions, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectService.UpdateCaptureConditions")
	defer span.End()

	if msgs := ValidateConditions(cfg.Conditions); len(msgs) > 0 {
		metrics.ConditionReconciliations.WithLabelValues("invalid").Inc()
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid capture conditions").
			AddMetaValue("errors", msgs)
	}

	result, err := s.conditions.Reconcile(ctx, projectID, cfg)
	if err != nil {
		metrics.ConditionReconciliations.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ConditionReconciliations.WithLabelValues("ok").Inc()
	return result, nil
}

// ValidateConditions collects every validation problem in the condition set:
// blank names, duplicate names (exact match), rates outside 0-100 and invalid
// filters.
func ValidateConditions(conditions []models.ProjectCondition) []string {
	var msgs []string

	seen := map[string]bool{}
	var duplicates []string
	for i, c := range conditions {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			msgs = append(msgs, fmt.Sprintf("condition %d: name is required", i+1))
		} else if seen[c.Name] && !contains(duplicates, c.Name) {
			duplicates = append(duplicates, c.Name)
		}
		seen[c.Name] = true

		if c.CaptureRate < 0 || c.CaptureRate > 100 {
			msgs = append(msgs, fmt.Sprintf("condition %d: capture rate must be between 0 and 100, got %d", i+1, c.CaptureRate))
		}

		for _, f := range c.Filters {
			if err := f.Validate(); err != nil {
				msgs = append(msgs, fmt.Sprintf("condition %d: %s", i+1, err.Error()))
			}
		}
	}

	if len(duplicates) > 0 {
		msgs = append(msgs, "duplicate condition names: "+strings.Join(duplicates, ", "))
	}

	return msgs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Service) authorize(ctx context.Context, tenantID, userID, operation string) error {
	allowed, err := s.gate.IsAdminOrSuperAdmin(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !allowed {
		metrics.AuthorizationDenials.WithLabelValues(tenantID, operation).Inc()
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"tenant_id": tenantID,
			"user_id":   userID,
			"operation": operation,
		}).Warn("Project mutation denied")
		return httperror.NewHTTPError(http.StatusForbidden, "unauthorized").
			AddMetaValue("errors", []string{"You do not have permission to perform this action."})
	}
	return nil
}

func (s *Service) emit(ctx context.Context, eventType string, p *models.Project) {
	if s.events == nil {
		return
	}

	event := &kafka.ProjectEvent{
		EventType:  eventType,
		TenantID:   p.TenantID,
		ProjectID:  p.ProjectID,
		ProjectKey: p.ProjectKey,
		Platform:   p.Platform,
	}
	if err := s.events.PublishProjectEvent(ctx, event); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"project_id": strconv.FormatInt(p.ProjectID, 10),
		}).Warn("Failed to publish project event")
	}
}
