package project

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	conditionrepo "github.com/Ramsey-B/sepal/internal/repositories/condition"
	projectrepo "github.com/Ramsey-B/sepal/internal/repositories/project"
	projectservice "github.com/Ramsey-B/sepal/internal/services/project"
	ctxmiddleware "github.com/Ramsey-B/sepal/pkg/context"
	"github.com/Ramsey-B/sepal/pkg/models"
	"github.com/Ramsey-B/sepal/pkg/tracing"
	"github.com/Ramsey-B/sepal/pkg/utils"
)

// Handler exposes the project HTTP surface. Reads go straight to the
// repositories; mutations go through the service so authorization and
// uniqueness are enforced in one place.
type Handler struct {
	service    *projectservice.Service
	projects   projectrepo.ProjectRepository
	conditions conditionrepo.ConditionRepository
}

// NewHandler creates a new project handler
func NewHandler(service *projectservice.Service, projects projectrepo.ProjectRepository, conditions conditionrepo.ConditionRepository) *Handler {
	return &Handler{
		service:    service,
		projects:   projects,
		conditions: conditions,
	}
}

// RegisterRoutes registers project routes
func (h *Handler) RegisterRoutes(g *echo.Group) {
	projects := g.Group("/projects")
	projects.GET("", h.List)
	projects.POST("", h.Create)
	projects.GET("/key/:project_key", h.GetByKey)
	projects.GET("/:project_id", h.Get)
	projects.PUT("/:project_id", h.Edit)
	projects.DELETE("/:project_id", h.Delete)
	projects.GET("/:project_id/gdpr", h.GetGdpr)
	projects.PUT("/:project_id/gdpr", h.UpdateGdpr)
	projects.GET("/:project_id/capture-status", h.GetCaptureStatus)
	projects.PUT("/:project_id/capture-status", h.UpdateCaptureStatus)
	projects.GET("/:project_id/conditions", h.GetConditions)
	projects.PUT("/:project_id/conditions", h.UpdateConditions)
}

// List handles GET /projects
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.List")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	opts := projectrepo.ListOptions{
		IncludeGdpr:     boolQueryParam(c, "gdpr"),
		IncludeRecorded: boolQueryParam(c, "recorded"),
	}

	projects, err := h.projects.List(ctx, tenantID, opts)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, projects)
}

// Create handles POST /projects
func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.Create")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}
	userID := ctxmiddleware.GetUserID(ctx)

	req, err := utils.BindRequest[models.NewProject](c)
	if err != nil {
		return err
	}

	created, err := h.service.Create(ctx, tenantID, userID, req, false)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, created)
}

// Get handles GET /projects/:project_id
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.Get")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	projectID, err := projectIDParam(c)
	if err != nil {
		return err
	}

	opts := projectrepo.GetOptions{
		IncludeLastSession: boolQueryParam(c, "lastSession"),
		IncludeGdpr:        boolQueryParam(c, "gdpr"),
	}

	project, err := h.projects.GetByID(ctx, tenantID, projectID, opts)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, project)
}

// Edit handles PUT /projects/:project_id
func (h *Handler) Edit(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.Edit")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}
	userID := ctxmiddleware.GetUserID(ctx)

	projectID, err := projectIDParam(c)
	if err != nil {
		return err
	}

	upd, err := utils.BindRequest[models.ProjectUpdate](c)
	if err != nil {
		return err
	}

	updated, err := h.service.Edit(ctx, tenantID, userID, projectID, upd)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /projects/:project_id
func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.Delete")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}
	userID := ctxmiddleware.GetUserID(ctx)

	projectID, err := projectIDParam(c)
	if err != nil {
		return err
	}

	if err := h.service.Delete(ctx, tenantID, userID, projectID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"state": "success"}})
}

// GetGdpr handles GET /projects/:project_id/gdpr
func (h *Handler) GetGdpr(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.GetGdpr")
	defer span.End()

	projectID, err := h.tenantProjectID(c)
	if err != nil {
		return err
	}

	gdpr, err := h.projects.GetGdpr(ctx, projectID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, gdpr)
}

// UpdateGdpr handles PUT /projects/:project_id/gdpr
func (h *Handler) UpdateGdpr(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.UpdateGdpr")
	defer span.End()

	projectID, err := h.tenantProjectID(c)
	if err != nil {
		return err
	}

	patch, err := utils.BindRequest[models.GdprSettings](c)
	if err != nil {
		return err
	}

	gdpr, err := h.projects.UpdateGdpr(ctx, projectID, patch)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, gdpr)
}

// GetByKey handles GET /projects/key/:project_key. Serves the recorder
// handshake, which authenticates by key alone.
func (h *Handler) GetByKey(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.GetByKey")
	defer span.End()

	projectKey := c.Param("project_key")
	if projectKey == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "project_key is required")
	}

	project, err := h.projects.GetByKey(ctx, projectKey)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, project)
}

// GetCaptureStatus handles GET /projects/:project_id/capture-status
func (h *Handler) GetCaptureStatus(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.GetCaptureStatus")
	defer span.End()

	projectID, err := h.tenantProjectID(c)
	if err != nil {
		return err
	}

	status, err := h.projects.GetCaptureStatus(ctx, projectID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}

// UpdateCaptureStatus handles PUT /projects/:project_id/capture-status
func (h *Handler) UpdateCaptureStatus(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.UpdateCaptureStatus")
	defer span.End()

	projectID, err := h.tenantProjectID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.CaptureStatus](c)
	if err != nil {
		return err
	}

	status, err := h.projects.UpdateCaptureStatus(ctx, projectID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}

// GetConditions handles GET /projects/:project_id/conditions
func (h *Handler) GetConditions(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.GetConditions")
	defer span.End()

	projectID, err := h.tenantProjectID(c)
	if err != nil {
		return err
	}

	conditions, err := h.conditions.GetConditions(ctx, projectID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, conditions)
}

// UpdateConditions handles PUT /projects/:project_id/conditions
func (h *Handler) UpdateConditions(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "project_handler.UpdateConditions")
	defer span.End()

	projectID, err := h.tenantProjectID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.CaptureConditions](c)
	if err != nil {
		return err
	}

	result, err := h.service.UpdateCaptureConditions(ctx, projectID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// tenantProjectID resolves the path project id and confirms the project
// belongs to the caller's tenant before any per-project sub-resource is
// touched. The sub-resource queries themselves are keyed by project id only.
func (h *Handler) tenantProjectID(c echo.Context) (int64, error) {
	ctx := c.Request().Context()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return 0, httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	projectID, err := projectIDParam(c)
	if err != nil {
		return 0, err
	}

	if _, err := h.projects.GetByID(ctx, tenantID, projectID, projectrepo.GetOptions{}); err != nil {
		return 0, err
	}

	return projectID, nil
}

func projectIDParam(c echo.Context) (int64, error) {
	projectID, err := strconv.ParseInt(c.Param("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "invalid project_id")
	}
	return projectID, nil
}

func boolQueryParam(c echo.Context, name string) bool {
	value, _ := strconv.ParseBool(c.QueryParam(name))
	return value
}
