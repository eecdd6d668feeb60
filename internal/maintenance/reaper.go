package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/internal/tenancy"
	"github.com/suteetoe/taskapp/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

var (
	// ErrNotDedicated rejects reaping anything but an app_* database.
	ErrNotDedicated = errors.New("not a dedicated tenant database")
	// ErrDatabaseInUse rejects reaping a database a separate-mode or migrating app still points at.
	ErrDatabaseInUse = errors.New("database is still referenced by an app")
)

// Reaper drops dedicated databases left behind after tenants switched back to
// shared mode or were deleted. Nothing is dropped automatically.
type Reaper struct {
	client   store.Client
	resolver *tenancy.Resolver
	log      *zap.Logger
}

// NewReaper returns a reaper over client.
func NewReaper(client store.Client, resolver *tenancy.Resolver, log *zap.Logger) *Reaper {
	return &Reaper{client: client, resolver: resolver, log: log}
}

// ReapOrphanedDatabase drops databaseName if no app uses it.
func (r *Reaper) ReapOrphanedDatabase(ctx context.Context, databaseName string) error {
	if !tenancy.ValidDatabaseName(databaseName) || databaseName == r.resolver.SharedDatabaseName() {
		return fmt.Errorf("%w: %q", ErrNotDedicated, databaseName)
	}

	used, err := r.databasesInUse(ctx)
	if err != nil {
		return err
	}
	if appID, ok := used[databaseName]; ok {
		return fmt.Errorf("%w: app %s", ErrDatabaseInUse, appID)
	}

	if err := r.client.Database(databaseName).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop %s: %w", databaseName, err)
	}
	prometheus.RecordTenantOperation("reap_database")
	r.log.Info("Dropped orphaned tenant database", zap.String("database", databaseName))
	return nil
}

// ListOrphanedDatabases returns the app_* databases no app uses.
func (r *Reaper) ListOrphanedDatabases(ctx context.Context) ([]string, error) {
	names, err := r.client.ListDatabaseNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	used, err := r.databasesInUse(ctx)
	if err != nil {
		return nil, err
	}

	orphaned := []string{}
	for _, name := range names {
		if _, inUse := used[name]; tenancy.ValidDatabaseName(name) && name != r.resolver.SharedDatabaseName() && !inUse {
			orphaned = append(orphaned, name)
		}
	}
	return orphaned, nil
}

// databasesInUse maps each referenced dedicated database to an app using it.
// A separate-mode app uses its placement; an app in the middle of a mode
// switch also uses its derived database, which is either the copy target or
// the source still being drained.
func (r *Reaper) databasesInUse(ctx context.Context) (map[string]string, error) {
	var apps []model.App
	filter := bson.M{"$or": bson.A{
		bson.M{model.FieldTenantMode: model.TenantModeSeparate},
		bson.M{model.FieldMigrating: true},
	}}
	if err := r.resolver.Apps().Find(ctx, filter, &apps); err != nil {
		return nil, fmt.Errorf("failed to list apps with dedicated databases: %w", err)
	}

	used := make(map[string]string, len(apps))
	for i := range apps {
		app := &apps[i]
		if app.TenantMode == model.TenantModeSeparate {
			used[tenancy.PlacementOf(app).DatabaseName] = app.TenantID()
		}
		if app.Migrating {
			used[tenancy.DeriveDatabaseName(app.TenantID())] = app.TenantID()
		}
	}
	return used, nil
}
