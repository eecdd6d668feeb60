package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store/memstore"
	"go.uber.org/zap"
)

func TestCreateDedicatedDatabase(t *testing.T) {
	s := memstore.New()
	p := NewProvisioner(s, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.CreateDedicatedDatabase(ctx, "app_abc"))
	require.NoError(t, p.CreateDedicatedDatabase(ctx, "app_abc"))

	names, err := s.Database("app_abc").ListCollectionNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{model.CollectionTodoItems, model.CollectionTodoLists}, names)
}

func TestCreateDedicatedDatabaseRejectsInvalidNames(t *testing.T) {
	s := memstore.New()
	p := NewProvisioner(s, zap.NewNop())

	for _, name := range []string{"", "app_", "taskapp", "app_a.b", "app_a b"} {
		err := p.CreateDedicatedDatabase(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidDatabaseName, name)
	}
	names, err := s.ListDatabaseNames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCreateDedicatedDatabaseSwallowsProbeErrors(t *testing.T) {
	s := memstore.New()
	s.Fail(memstore.OpInsert, "app_abc", probeCollection, errors.New("probe refused"))
	p := NewProvisioner(s, zap.NewNop())

	require.NoError(t, p.CreateDedicatedDatabase(context.Background(), "app_abc"))
}

func TestCreateDedicatedDatabasePropagatesCollectionErrors(t *testing.T) {
	s := memstore.New()
	boom := errors.New("not authorized")
	s.Fail(memstore.OpCreateCollection, "app_abc", model.CollectionTodoItems, boom)
	p := NewProvisioner(s, zap.NewNop())

	err := p.CreateDedicatedDatabase(context.Background(), "app_abc")
	assert.ErrorIs(t, err, boom)
}
