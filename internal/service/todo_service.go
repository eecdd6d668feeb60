package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/internal/tenancy"
	"github.com/suteetoe/taskapp/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Ownership answers whether a user owns a tenant.
type Ownership interface {
	VerifyOwnership(ctx context.Context, tenantID, userID string) (bool, error)
}

// ItemInput carries the fields of a new task item.
type ItemInput struct {
	Title    string
	Priority int
	DueDate  *time.Time
}

// TodoService reads and writes task lists and items wherever their tenant
// currently lives. An empty appID addresses the user's legacy, untenanted data.
type TodoService struct {
	resolver  *tenancy.Resolver
	ownership Ownership
	log       *zap.Logger
}

func NewTodoService(resolver *tenancy.Resolver, ownership Ownership, log *zap.Logger) *TodoService {
	return &TodoService{resolver: resolver, ownership: ownership, log: log}
}

// collection checks userID may use appID and routes to its physical collection.
func (s *TodoService) collection(ctx context.Context, userID, appID, name string) (*tenancy.Handle, error) {
	if appID != "" {
		owned, err := s.ownership.VerifyOwnership(ctx, appID, userID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, ErrAppNotFound
		}
	}
	return s.resolver.Resolve(ctx, appID, name)
}

// ensureWritable refuses writes to a tenant whose mode switch is running.
func (s *TodoService) ensureWritable(ctx context.Context, appID string) error {
	if appID == "" {
		return nil
	}
	id, err := bson.ObjectIDFromHex(appID)
	if err != nil {
		return ErrAppNotFound
	}
	n, err := s.resolver.Apps().CountDocuments(ctx, bson.M{model.FieldID: id, model.FieldMigrating: true})
	if err != nil {
		return fmt.Errorf("failed to check mode switch of app %s: %w", appID, err)
	}
	if n > 0 {
		return ErrSwitchInProgress
	}
	return nil
}

func tenantRef(appID string) *string {
	if appID == "" {
		return nil
	}
	return &appID
}

// CreateList creates an empty task list.
func (s *TodoService) CreateList(ctx context.Context, userID, appID, name string) (*model.TodoList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	h, err := s.collection(ctx, userID, appID, model.CollectionTodoLists)
	if err != nil {
		return nil, err
	}
	if err := s.ensureWritable(ctx, appID); err != nil {
		return nil, err
	}

	list := &model.TodoList{
		ID:        bson.NewObjectID(),
		UserID:    userID,
		AppID:     tenantRef(appID),
		Name:      name,
		ItemIDs:   []string{},
		CreatedAt: time.Now(),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if _, err := h.Collection.InsertOne(ctx, list); err != nil {
		return nil, fmt.Errorf("failed to create list: %w", err)
	}
	return list, nil
}

// ListLists returns userID's lists in appID.
func (s *TodoService) ListLists(ctx context.Context, userID, appID string) ([]model.TodoList, error) {
	h, err := s.collection(ctx, userID, appID, model.CollectionTodoLists)
	if err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	lists := []model.TodoList{}
	if err := h.Collection.Find(ctx, h.Scope(bson.M{model.FieldUserID: userID}), &lists); err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	return lists, nil
}

// GetList returns one of userID's lists in appID.
func (s *TodoService) GetList(ctx context.Context, userID, appID, listID string) (*model.TodoList, error) {
	h, err := s.collection(ctx, userID, appID, model.CollectionTodoLists)
	if err != nil {
		return nil, err
	}
	return s.findList(ctx, h, userID, listID)
}

func (s *TodoService) findList(ctx context.Context, h *tenancy.Handle, userID, listID string) (*model.TodoList, error) {
	id, err := bson.ObjectIDFromHex(listID)
	if err != nil {
		return nil, ErrListNotFound
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var list model.TodoList
	err = h.Collection.FindOne(ctx, h.Scope(bson.M{model.FieldID: id, model.FieldUserID: userID}), &list)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load list: %w", err)
	}
	return &list, nil
}

// DeleteList deletes a list and every item in it.
func (s *TodoService) DeleteList(ctx context.Context, userID, appID, listID string) error {
	lists, err := s.collection(ctx, userID, appID, model.CollectionTodoLists)
	if err != nil {
		return err
	}
	list, err := s.findList(ctx, lists, userID, listID)
	if err != nil {
		return err
	}
	if err := s.ensureWritable(ctx, appID); err != nil {
		return err
	}
	items, err := s.resolver.Resolve(ctx, appID, model.CollectionTodoItems)
	if err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if _, err := items.Collection.DeleteMany(ctx, items.Scope(bson.M{model.FieldTodoListID: listID})); err != nil {
		return fmt.Errorf("failed to delete items of list %s: %w", listID, err)
	}
	if _, err := lists.Collection.DeleteOne(ctx, lists.Scope(bson.M{model.FieldID: list.ID})); err != nil {
		return fmt.Errorf("failed to delete list %s: %w", listID, err)
	}
	return nil
}

// AddItem adds an item to a list. The item takes the list's tenant.
func (s *TodoService) AddItem(ctx context.Context, userID, appID, listID string, in ItemInput) (*model.TodoItem, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	lists, err := s.collection(ctx, userID, appID, model.CollectionTodoLists)
	if err != nil {
		return nil, err
	}
	list, err := s.findList(ctx, lists, userID, listID)
	if err != nil {
		return nil, err
	}
	if !list.AcceptsTenant(tenantRef(appID)) {
		return nil, ErrTenantMismatch
	}
	if err := s.ensureWritable(ctx, appID); err != nil {
		return nil, err
	}
	items, err := s.resolver.Resolve(ctx, appID, model.CollectionTodoItems)
	if err != nil {
		return nil, err
	}

	item := &model.TodoItem{
		ID:         bson.NewObjectID(),
		Title:      title,
		Status:     model.StatusPending,
		Priority:   in.Priority,
		DueDate:    in.DueDate,
		TodoListID: listID,
		AppID:      list.AppID,
		CreatedAt:  time.Now(),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if _, err := items.Collection.InsertOne(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	if _, err := lists.Collection.UpdateOne(ctx, bson.M{model.FieldID: list.ID},
		bson.M{"$push": bson.M{model.FieldItemIDs: item.ID.Hex()}}); err != nil {
		s.log.Warn("Item created but list not updated", zap.String("list_id", listID), zap.Error(err))
	}
	return item, nil
}

// ListItems returns the items of one list.
func (s *TodoService) ListItems(ctx context.Context, userID, appID, listID string) ([]model.TodoItem, error) {
	if _, err := s.GetList(ctx, userID, appID, listID); err != nil {
		return nil, err
	}
	h, err := s.resolver.Resolve(ctx, appID, model.CollectionTodoItems)
	if err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	items := []model.TodoItem{}
	if err := h.Collection.Find(ctx, h.Scope(bson.M{model.FieldTodoListID: listID}), &items); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// UpdateItemStatus sets the status of an item on one of userID's lists.
func (s *TodoService) UpdateItemStatus(ctx context.Context, userID, appID, itemID string, status model.ItemStatus) (*model.TodoItem, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %d", ErrInvalidInput, status)
	}
	h, item, err := s.findItem(ctx, userID, appID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureWritable(ctx, appID); err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if _, err := h.Collection.UpdateOne(ctx, h.Scope(bson.M{model.FieldID: item.ID}),
		bson.M{"$set": bson.M{model.FieldStatus: status}}); err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	item.Status = status
	return item, nil
}

// DeleteItem removes an item and its reference from the parent list.
func (s *TodoService) DeleteItem(ctx context.Context, userID, appID, itemID string) error {
	h, item, err := s.findItem(ctx, userID, appID, itemID)
	if err != nil {
		return err
	}
	if err := s.ensureWritable(ctx, appID); err != nil {
		return err
	}
	lists, err := s.resolver.Resolve(ctx, appID, model.CollectionTodoLists)
	if err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if _, err := h.Collection.DeleteOne(ctx, h.Scope(bson.M{model.FieldID: item.ID})); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if listID, err := bson.ObjectIDFromHex(item.TodoListID); err == nil {
		if _, err := lists.Collection.UpdateOne(ctx, bson.M{model.FieldID: listID},
			bson.M{"$pull": bson.M{model.FieldItemIDs: itemID}}); err != nil {
			s.log.Warn("Item deleted but list not updated", zap.String("list_id", item.TodoListID), zap.Error(err))
		}
	}
	return nil
}

// findItem loads an item and checks its list belongs to userID.
func (s *TodoService) findItem(ctx context.Context, userID, appID, itemID string) (*tenancy.Handle, *model.TodoItem, error) {
	id, err := bson.ObjectIDFromHex(itemID)
	if err != nil {
		return nil, nil, ErrItemNotFound
	}
	h, err := s.collection(ctx, userID, appID, model.CollectionTodoItems)
	if err != nil {
		return nil, nil, err
	}

	var item model.TodoItem
	err = h.Collection.FindOne(ctx, h.Scope(bson.M{model.FieldID: id}), &item)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrItemNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load item: %w", err)
	}

	lists, err := s.resolver.Resolve(ctx, appID, model.CollectionTodoLists)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.findList(ctx, lists, userID, item.TodoListID); err != nil {
		if errors.Is(err, ErrListNotFound) {
			return nil, nil, ErrItemNotFound
		}
		return nil, nil, err
	}
	return h, &item, nil
}
