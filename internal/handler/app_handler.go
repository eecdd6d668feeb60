package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/taskapp/internal/middleware"
	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/service"
	"github.com/suteetoe/taskapp/pkg/logger"
	"go.uber.org/zap"
)

// AppRequest is the body of app creation
type AppRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	TenantMode  model.TenantMode `json:"tenantMode"`
}

// ModeRequest is the body of a mode switch
type ModeRequest struct {
	TenantMode model.TenantMode `json:"tenantMode"`
}

type AppHandler struct {
	apps *service.AppService
}

func NewAppHandler(apps *service.AppService) *AppHandler {
	return &AppHandler{apps: apps}
}

// CreateApp handles POST /api/apps
func (h *AppHandler) CreateApp(c echo.Context) error {
	var req AppRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	app, err := h.apps.CreateApp(c.Request().Context(), middleware.UserID(c), req.Name, req.Description, req.TenantMode)
	if err != nil {
		return respondError(c, err, "Failed to create app")
	}
	return c.JSON(http.StatusCreated, app)
}

// ListApps handles GET /api/apps
func (h *AppHandler) ListApps(c echo.Context) error {
	apps, err := h.apps.ListApps(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err, "Failed to list apps")
	}
	return c.JSON(http.StatusOK, apps)
}

// GetApp handles GET /api/apps/:id
func (h *AppHandler) GetApp(c echo.Context) error {
	app, err := h.apps.GetApp(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err, "Failed to get app")
	}
	return c.JSON(http.StatusOK, app)
}

// DeleteApp handles DELETE /api/apps/:id
func (h *AppHandler) DeleteApp(c echo.Context) error {
	if err := h.apps.DeleteApp(c.Request().Context(), middleware.UserID(c), c.Param("id")); err != nil {
		return respondError(c, err, "Failed to delete app")
	}
	return c.NoContent(http.StatusNoContent)
}

// SwitchMode handles POST /api/apps/:id/mode. A failed migration answers 409
// with the migration result so the caller sees how far it got.
func (h *AppHandler) SwitchMode(c echo.Context) error {
	log := logger.FromContext(c)

	var req ModeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	app, result, err := h.apps.SwitchMode(c.Request().Context(), middleware.UserID(c), c.Param("id"), req.TenantMode)
	if errors.Is(err, service.ErrMigrationFailed) {
		log.Warn("Mode switch failed", zap.String("app_id", c.Param("id")), zap.Error(err))
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     err.Error(),
			"migration": result,
		})
	}
	if err != nil {
		return respondError(c, err, "Failed to switch app mode")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"app":       app,
		"migration": result,
	})
}
