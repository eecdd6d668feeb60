package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/taskapp/internal/service"
	"github.com/suteetoe/taskapp/pkg/logger"
	"github.com/suteetoe/taskapp/prometheus"
	"go.uber.org/zap"
)

// HealthCheck handles the health check endpoint
func HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "healthy",
		"service": "task-service",
	})
}

// respondError maps service errors onto HTTP statuses. Anything unexpected is
// logged and reported as a 500.
func respondError(c echo.Context, err error, msg string) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrAppNotFound),
		errors.Is(err, service.ErrListNotFound),
		errors.Is(err, service.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidMode),
		errors.Is(err, service.ErrTenantMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrSwitchInProgress):
		status = http.StatusConflict
	}

	log := logger.FromContext(c)
	if status == http.StatusInternalServerError {
		log.Error(msg, zap.Error(err))
		prometheus.RecordError("internal")
		return c.JSON(status, echo.Map{"error": msg})
	}
	log.Info(msg, zap.Int("status", status), zap.Error(err))
	return c.JSON(status, echo.Map{"error": err.Error()})
}

// MetricsHandler exposes the Prometheus registry
func MetricsHandler(c echo.Context) error {
	handler := prometheus.GetPrometheusHandler()
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}
