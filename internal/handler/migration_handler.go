package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/taskapp/internal/journal"
	"github.com/suteetoe/taskapp/internal/maintenance"
	"github.com/suteetoe/taskapp/pkg/logger"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// MigrationHandler serves the administrative maintenance endpoints.
type MigrationHandler struct {
	backfill *maintenance.BackfillService
	indexes  *maintenance.IndexService
	reaper   *maintenance.Reaper
	journal  journal.Repository
}

func NewMigrationHandler(backfill *maintenance.BackfillService, indexes *maintenance.IndexService, reaper *maintenance.Reaper, runs journal.Repository) *MigrationHandler {
	return &MigrationHandler{
		backfill: backfill,
		indexes:  indexes,
		reaper:   reaper,
		journal:  runs,
	}
}

// Status handles GET /api/admin/migration/status
func (h *MigrationHandler) Status(c echo.Context) error {
	log := logger.FromContext(c)

	status, err := h.backfill.GetMigrationStatus(c.Request().Context())
	if err != nil {
		log.Error("Failed to get migration status", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to get migration status"})
	}
	return c.JSON(http.StatusOK, status)
}

// Run handles POST /api/admin/migration/run
func (h *MigrationHandler) Run(c echo.Context) error {
	log := logger.FromContext(c)
	log.Info("Backfill requested")

	result := h.backfill.RunMigration(c.Request().Context())
	if !result.Success {
		return c.JSON(http.StatusInternalServerError, result)
	}
	return c.JSON(http.StatusOK, result)
}

// CreateIndexes handles POST /api/admin/migration/create-indexes[?databaseName=]
func (h *MigrationHandler) CreateIndexes(c echo.Context) error {
	name := c.QueryParam("databaseName")
	if name != "" {
		if err := h.indexes.CheckDatabaseName(name); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
	}
	result := h.indexes.EnsureIndexesForDatabase(c.Request().Context(), name)
	if !result.Success {
		return c.JSON(http.StatusInternalServerError, result)
	}
	return c.JSON(http.StatusOK, result)
}

// CreateIndexesAllApps handles POST /api/admin/migration/create-indexes-all-apps
func (h *MigrationHandler) CreateIndexesAllApps(c echo.Context) error {
	log := logger.FromContext(c)

	results, err := h.indexes.EnsureIndexesForAllTenantDatabases(c.Request().Context())
	if err != nil {
		log.Error("Failed to create indexes for app databases", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create indexes for app databases"})
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"databases": len(results),
		"failed":    failed,
		"results":   results,
	})
}

// IndexStatus handles GET /api/admin/migration/index-status[?databaseName=]
func (h *MigrationHandler) IndexStatus(c echo.Context) error {
	log := logger.FromContext(c)

	status, err := h.indexes.GetIndexStatus(c.Request().Context(), c.QueryParam("databaseName"))
	if errors.Is(err, maintenance.ErrInvalidDatabase) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err != nil {
		log.Error("Failed to get index status", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to get index status"})
	}
	return c.JSON(http.StatusOK, status)
}

// OrphanedDatabases handles GET /api/admin/migration/databases/orphaned
func (h *MigrationHandler) OrphanedDatabases(c echo.Context) error {
	log := logger.FromContext(c)

	names, err := h.reaper.ListOrphanedDatabases(c.Request().Context())
	if err != nil {
		log.Error("Failed to list orphaned databases", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list orphaned databases"})
	}
	return c.JSON(http.StatusOK, echo.Map{"databases": names})
}

// ReapDatabase handles DELETE /api/admin/migration/databases/:name
func (h *MigrationHandler) ReapDatabase(c echo.Context) error {
	log := logger.FromContext(c)
	name := c.Param("name")

	err := h.reaper.ReapOrphanedDatabase(c.Request().Context(), name)
	switch {
	case errors.Is(err, maintenance.ErrNotDedicated):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, maintenance.ErrDatabaseInUse):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case err != nil:
		log.Error("Failed to reap database", zap.String("database", name), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to drop database"})
	}

	log.Info("Database reaped", zap.String("database", name))
	return c.NoContent(http.StatusNoContent)
}

// History handles GET /api/admin/migration/history?appId=&limit=
func (h *MigrationHandler) History(c echo.Context) error {
	log := logger.FromContext(c)

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	runs, err := h.journal.List(c.Request().Context(), c.QueryParam("appId"), limit)
	if err != nil {
		log.Error("Failed to list migration history", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list migration history"})
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}
