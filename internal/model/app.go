package model

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// TenantMode decides where an app's task data lives.
type TenantMode string

const (
	// TenantModeShared keeps data in the main database, filtered by appId.
	TenantModeShared TenantMode = "shared"
	// TenantModeSeparate keeps data in a dedicated app_* database.
	TenantModeSeparate TenantMode = "separate"
)

// Valid reports whether m is a known mode.
func (m TenantMode) Valid() bool {
	return m == TenantModeShared || m == TenantModeSeparate
}

// ErrPlacementInvariant is returned when databaseName and tenantMode disagree.
var ErrPlacementInvariant = errors.New("databaseName must be set if and only if tenantMode is separate")

// App is a tenant: a user's app/project whose task data may be isolated.
// Stored in the userApps collection of the main database.
type App struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string        `bson:"userId" json:"userId"`
	Name         string        `bson:"name" json:"name"`
	Description  string        `bson:"description,omitempty" json:"description,omitempty"`
	TenantMode   TenantMode    `bson:"tenantMode" json:"tenantMode"`
	DatabaseName *string       `bson:"databaseName" json:"databaseName,omitempty"`
	Migrating    bool          `bson:"migrating,omitempty" json:"migrating,omitempty"`
	CreatedAt    time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// TenantID is the string form of the app id used as appId on task data.
func (a *App) TenantID() string {
	return a.ID.Hex()
}

// IsSeparate reports whether the app has a dedicated database.
func (a *App) IsSeparate() bool {
	return a.TenantMode == TenantModeSeparate
}

// Validate checks the placement invariant.
func (a *App) Validate() error {
	hasName := a.DatabaseName != nil && *a.DatabaseName != ""
	if hasName != a.IsSeparate() {
		return ErrPlacementInvariant
	}
	return nil
}
