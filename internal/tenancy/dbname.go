// Package tenancy decides where each tenant's task data lives and moves it
// between the shared database and dedicated per-tenant databases.
package tenancy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DatabasePrefix starts every dedicated tenant database name.
const DatabasePrefix = "app_"

const (
	maxDirectIDLength  = 50
	fingerprintLength  = 16
	maxDatabaseNameLen = 64
	forbiddenNameChars = "/\\. \"$"
)

// DeriveDatabaseName maps a tenant id to its dedicated database name. Short
// ids made of allowed characters are used as is; anything else is replaced by
// a truncated SHA-256 fingerprint so the name always fits the store's limits.
func DeriveDatabaseName(tenantID string) string {
	if tenantID != "" && len(tenantID) <= maxDirectIDLength && !strings.ContainsAny(tenantID, forbiddenNameChars) {
		return DatabasePrefix + tenantID
	}
	sum := sha256.Sum256([]byte(tenantID))
	return DatabasePrefix + hex.EncodeToString(sum[:])[:fingerprintLength]
}

// ValidDatabaseName reports whether name is an acceptable dedicated database name.
func ValidDatabaseName(name string) bool {
	return strings.HasPrefix(name, DatabasePrefix) &&
		len(name) > len(DatabasePrefix) &&
		len(name) <= maxDatabaseNameLen &&
		!strings.ContainsAny(name, forbiddenNameChars)
}
