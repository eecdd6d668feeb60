package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/suteetoe/taskapp/internal/middleware"
	"github.com/suteetoe/taskapp/pkg/jwtutil"
)

// RegisterRoutes mounts every endpoint on e
func RegisterRoutes(e *echo.Echo, jwtUtil *jwtutil.JWTUtil, apps *AppHandler, todos *TodoHandler, migration *MigrationHandler) {
	// Public routes - no authentication required
	e.GET("/health", HealthCheck)
	e.GET("/metrics", MetricsHandler)

	// API routes - all require authentication
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtUtil))

	// Apps are the tenants
	appGroup := api.Group("/apps")
	appGroup.POST("", apps.CreateApp)
	appGroup.GET("", apps.ListApps)
	appGroup.GET("/:id", apps.GetApp)
	appGroup.DELETE("/:id", apps.DeleteApp)
	appGroup.POST("/:id/mode", apps.SwitchMode)

	// Task lists and items, routed to the app's database
	lists := api.Group("/lists")
	lists.POST("", todos.CreateList)
	lists.GET("", todos.ListLists)
	lists.DELETE("/:id", todos.DeleteList)
	lists.POST("/:id/items", todos.AddItem)
	lists.GET("/:id/items", todos.ListItems)

	items := api.Group("/items")
	items.PATCH("/:id/status", todos.UpdateItemStatus)
	items.DELETE("/:id", todos.DeleteItem)

	// Maintenance - admin only
	admin := api.Group("/admin/migration")
	admin.Use(middleware.RequireRole(jwtutil.RoleAdmin))
	admin.GET("/status", migration.Status)
	admin.POST("/run", migration.Run)
	admin.POST("/create-indexes", migration.CreateIndexes)
	admin.POST("/create-indexes-all-apps", migration.CreateIndexesAllApps)
	admin.GET("/index-status", migration.IndexStatus)
	admin.GET("/history", migration.History)
	admin.GET("/databases/orphaned", migration.OrphanedDatabases)
	admin.DELETE("/databases/:name", migration.ReapDatabase)
}
