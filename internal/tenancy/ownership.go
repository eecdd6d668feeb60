package tenancy

import (
	"context"
	"fmt"

	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// OwnershipVerifier answers whether a user owns a tenant.
type OwnershipVerifier struct {
	apps store.Collection
}

// NewOwnershipVerifier checks ownership against the tenant records in apps.
func NewOwnershipVerifier(apps store.Collection) *OwnershipVerifier {
	return &OwnershipVerifier{apps: apps}
}

// VerifyOwnership reports whether userID owns tenantID. Malformed or unknown
// tenant ids are simply not owned.
func (v *OwnershipVerifier) VerifyOwnership(ctx context.Context, tenantID, userID string) (bool, error) {
	if tenantID == "" || userID == "" {
		return false, nil
	}
	id, err := bson.ObjectIDFromHex(tenantID)
	if err != nil {
		return false, nil
	}

	count, err := v.apps.CountDocuments(ctx, bson.M{model.FieldID: id, model.FieldUserID: userID})
	if err != nil {
		return false, fmt.Errorf("failed to verify ownership of %s: %w", tenantID, err)
	}
	return count > 0, nil
}
