package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ItemStatus is the progress of a task item.
type ItemStatus int

const (
	StatusPending ItemStatus = iota
	StatusInProgress
	StatusDone
)

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	return s >= StatusPending && s <= StatusDone
}

// TodoList groups task items. A nil AppID marks a legacy list living in the
// main database without tenant scoping.
type TodoList struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string        `bson:"userId" json:"userId"`
	AppID     *string       `bson:"appId" json:"appId"`
	Name      string        `bson:"name" json:"name"`
	ItemIDs   []string      `bson:"itemIds" json:"itemIds"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
}

// TodoItem is a single task. AppID mirrors the parent list.
type TodoItem struct {
	ID         bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Title      string        `bson:"title" json:"title"`
	Status     ItemStatus    `bson:"status" json:"status"`
	Priority   int           `bson:"priority" json:"priority"`
	DueDate    *time.Time    `bson:"dueDate,omitempty" json:"dueDate,omitempty"`
	TodoListID string        `bson:"todoListId" json:"todoListId"`
	AppID      *string       `bson:"appId" json:"appId"`
	CreatedAt  time.Time     `bson:"createdAt" json:"createdAt"`
}

// AcceptsTenant reports whether an item scoped to appID may belong to the
// list: equal tenants, or either side legacy-null.
func (l *TodoList) AcceptsTenant(appID *string) bool {
	if l.AppID == nil || appID == nil {
		return true
	}
	return *l.AppID == *appID
}
