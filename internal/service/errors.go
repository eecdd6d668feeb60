// Package service implements the app and task operations behind the HTTP API.
package service

import "errors"

var (
	ErrAppNotFound      = errors.New("app not found")
	ErrForbidden        = errors.New("app belongs to another user")
	ErrListNotFound     = errors.New("task list not found")
	ErrItemNotFound     = errors.New("task item not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidMode      = errors.New("tenantMode must be shared or separate")
	ErrSwitchInProgress = errors.New("a mode switch is already running for this app")
	ErrMigrationFailed  = errors.New("tenant data migration failed")
	ErrTenantMismatch   = errors.New("item tenant does not match its list")
)
