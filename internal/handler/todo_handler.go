package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/taskapp/internal/middleware"
	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/service"
)

// ListRequest is the body of list creation
type ListRequest struct {
	AppID string `json:"appId"`
	Name  string `json:"name"`
}

// ItemRequest is the body of item creation
type ItemRequest struct {
	Title    string     `json:"title"`
	Priority int        `json:"priority"`
	DueDate  *time.Time `json:"dueDate"`
}

// StatusRequest is the body of an item status change
type StatusRequest struct {
	Status model.ItemStatus `json:"status"`
}

type TodoHandler struct {
	todos *service.TodoService
}

func NewTodoHandler(todos *service.TodoService) *TodoHandler {
	return &TodoHandler{todos: todos}
}

// CreateList handles POST /api/lists
func (h *TodoHandler) CreateList(c echo.Context) error {
	var req ListRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	list, err := h.todos.CreateList(c.Request().Context(), middleware.UserID(c), req.AppID, req.Name)
	if err != nil {
		return respondError(c, err, "Failed to create list")
	}
	return c.JSON(http.StatusCreated, list)
}

// ListLists handles GET /api/lists?appId=
func (h *TodoHandler) ListLists(c echo.Context) error {
	lists, err := h.todos.ListLists(c.Request().Context(), middleware.UserID(c), c.QueryParam("appId"))
	if err != nil {
		return respondError(c, err, "Failed to list lists")
	}
	return c.JSON(http.StatusOK, lists)
}

// DeleteList handles DELETE /api/lists/:id?appId=
func (h *TodoHandler) DeleteList(c echo.Context) error {
	err := h.todos.DeleteList(c.Request().Context(), middleware.UserID(c), c.QueryParam("appId"), c.Param("id"))
	if err != nil {
		return respondError(c, err, "Failed to delete list")
	}
	return c.NoContent(http.StatusNoContent)
}

// AddItem handles POST /api/lists/:id/items?appId=
func (h *TodoHandler) AddItem(c echo.Context) error {
	var req ItemRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	item, err := h.todos.AddItem(c.Request().Context(), middleware.UserID(c), c.QueryParam("appId"), c.Param("id"), service.ItemInput{
		Title:    req.Title,
		Priority: req.Priority,
		DueDate:  req.DueDate,
	})
	if err != nil {
		return respondError(c, err, "Failed to add item")
	}
	return c.JSON(http.StatusCreated, item)
}

// ListItems handles GET /api/lists/:id/items?appId=
func (h *TodoHandler) ListItems(c echo.Context) error {
	items, err := h.todos.ListItems(c.Request().Context(), middleware.UserID(c), c.QueryParam("appId"), c.Param("id"))
	if err != nil {
		return respondError(c, err, "Failed to list items")
	}
	return c.JSON(http.StatusOK, items)
}

// UpdateItemStatus handles PATCH /api/items/:id/status?appId=
func (h *TodoHandler) UpdateItemStatus(c echo.Context) error {
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	item, err := h.todos.UpdateItemStatus(c.Request().Context(), middleware.UserID(c), c.QueryParam("appId"), c.Param("id"), req.Status)
	if err != nil {
		return respondError(c, err, "Failed to update item")
	}
	return c.JSON(http.StatusOK, item)
}

// DeleteItem handles DELETE /api/items/:id?appId=
func (h *TodoHandler) DeleteItem(c echo.Context) error {
	if err := h.todos.DeleteItem(c.Request().Context(), middleware.UserID(c), c.QueryParam("appId"), c.Param("id")); err != nil {
		return respondError(c, err, "Failed to delete item")
	}
	return c.NoContent(http.StatusNoContent)
}
