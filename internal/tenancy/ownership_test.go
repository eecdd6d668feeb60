package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/internal/store/memstore"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestVerifyOwnership(t *testing.T) {
	s := memstore.New()
	app := &model.App{UserID: "owner"}
	insertApp(t, s, app)
	v := NewOwnershipVerifier(s.Database(sharedDB).Collection(model.CollectionUserApps))

	tests := []struct {
		name     string
		tenantID string
		userID   string
		want     bool
	}{
		{name: "owner", tenantID: app.TenantID(), userID: "owner", want: true},
		{name: "someone else", tenantID: app.TenantID(), userID: "intruder"},
		{name: "unknown tenant", tenantID: bson.NewObjectID().Hex(), userID: "owner"},
		{name: "malformed tenant", tenantID: "xyz", userID: "owner"},
		{name: "no user", tenantID: app.TenantID(), userID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := v.VerifyOwnership(context.Background(), tt.tenantID, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestVerifyOwnershipStoreError(t *testing.T) {
	s := memstore.New()
	s.Fail(memstore.OpCount, sharedDB, model.CollectionUserApps, errors.New("timeout"))
	v := NewOwnershipVerifier(s.Database(sharedDB).Collection(model.CollectionUserApps))

	_, err := v.VerifyOwnership(context.Background(), bson.NewObjectID().Hex(), "owner")
	assert.Error(t, err)

	// A count never means "not found"; any error it returns is reported.
	s.ClearFaults()
	s.Fail(memstore.OpCount, sharedDB, model.CollectionUserApps, store.ErrNotFound)
	ok, err := v.VerifyOwnership(context.Background(), bson.NewObjectID().Hex(), "owner")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, ok)
}
