package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Placement is where one tenant's data lives.
type Placement struct {
	Mode         model.TenantMode
	DatabaseName string
}

// PlacementCache remembers tenant placements so routing does not read the
// tenant record on every request.
type PlacementCache struct {
	mu      sync.RWMutex
	entries map[string]Placement
}

// NewPlacementCache returns an empty cache.
func NewPlacementCache() *PlacementCache {
	return &PlacementCache{entries: make(map[string]Placement)}
}

func (c *PlacementCache) Get(tenantID string) (Placement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[tenantID]
	return p, ok
}

func (c *PlacementCache) Set(tenantID string, p Placement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = p
}

func (c *PlacementCache) Delete(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}

// Handle is a physical collection resolved for a tenant.
type Handle struct {
	Collection   store.Collection
	TenantID     string
	DatabaseName string
	Dedicated    bool
}

// Scope returns a copy of filter restricted to the handle's tenant. Without a
// tenant the filter selects legacy rows whose appId is null or missing.
func (h *Handle) Scope(filter bson.M) bson.M {
	scoped := make(bson.M, len(filter)+1)
	for k, v := range filter {
		scoped[k] = v
	}
	if h.TenantID == "" {
		scoped[model.FieldAppID] = nil
	} else {
		scoped[model.FieldAppID] = h.TenantID
	}
	return scoped
}

// Resolver routes (tenant, logical collection) pairs to physical collections.
type Resolver struct {
	client store.Client
	shared string
	cache  *PlacementCache
	log    *zap.Logger
}

// NewResolver returns a resolver over client whose shared database is sharedDatabase.
func NewResolver(client store.Client, sharedDatabase string, log *zap.Logger) *Resolver {
	return &Resolver{
		client: client,
		shared: sharedDatabase,
		cache:  NewPlacementCache(),
		log:    log,
	}
}

// SharedDatabaseName is the main database holding shared tenants and tenant records.
func (r *Resolver) SharedDatabaseName() string {
	return r.shared
}

// Shared returns the main database.
func (r *Resolver) Shared() store.Database {
	return r.client.Database(r.shared)
}

// Apps returns the collection of tenant records.
func (r *Resolver) Apps() store.Collection {
	return r.Shared().Collection(model.CollectionUserApps)
}

// PlacementOf computes the placement recorded on app, deriving the database
// name when a separate app has none cached.
func PlacementOf(app *model.App) Placement {
	if !app.IsSeparate() {
		return Placement{Mode: model.TenantModeShared}
	}
	name := ""
	if app.DatabaseName != nil {
		name = *app.DatabaseName
	}
	if name == "" {
		name = DeriveDatabaseName(app.TenantID())
	}
	return Placement{Mode: model.TenantModeSeparate, DatabaseName: name}
}

// ResolveForApp routes using an already loaded tenant record.
func (r *Resolver) ResolveForApp(app *model.App, logicalName string) *Handle {
	if app == nil {
		return r.route("", Placement{}, logicalName)
	}
	placement := PlacementOf(app)
	r.cache.Set(app.TenantID(), placement)
	return r.route(app.TenantID(), placement, logicalName)
}

// Resolve routes tenantID's logicalName collection. An empty or unknown
// tenant routes to the shared database. Only a cache miss reads the tenant
// record; the returned error is a failure of that read.
func (r *Resolver) Resolve(ctx context.Context, tenantID, logicalName string) (*Handle, error) {
	if tenantID == "" {
		return r.route("", Placement{}, logicalName), nil
	}
	if placement, ok := r.cache.Get(tenantID); ok {
		return r.route(tenantID, placement, logicalName), nil
	}

	placement, err := r.lookup(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return r.route(tenantID, placement, logicalName), nil
}

// Remember refreshes the cached placement after a mode switch.
func (r *Resolver) Remember(app *model.App) {
	r.cache.Set(app.TenantID(), PlacementOf(app))
}

// Invalidate drops the cached placement of tenantID.
func (r *Resolver) Invalidate(tenantID string) {
	r.cache.Delete(tenantID)
}

func (r *Resolver) lookup(ctx context.Context, tenantID string) (Placement, error) {
	id, err := bson.ObjectIDFromHex(tenantID)
	if err != nil {
		r.log.Debug("Tenant id is not an object id, routing to shared database", zap.String("tenant_id", tenantID))
		return Placement{Mode: model.TenantModeShared}, nil
	}

	var app model.App
	err = r.Apps().FindOne(ctx, bson.M{model.FieldID: id}, &app)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Debug("Unknown tenant, routing to shared database", zap.String("tenant_id", tenantID))
		return Placement{Mode: model.TenantModeShared}, nil
	}
	if err != nil {
		return Placement{}, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	placement := PlacementOf(&app)
	r.cache.Set(tenantID, placement)
	return placement, nil
}

func (r *Resolver) route(tenantID string, placement Placement, logicalName string) *Handle {
	if placement.Mode == model.TenantModeSeparate && placement.DatabaseName != "" {
		prometheus.RecordRoute("dedicated")
		return &Handle{
			Collection:   r.client.Database(placement.DatabaseName).Collection(logicalName),
			TenantID:     tenantID,
			DatabaseName: placement.DatabaseName,
			Dedicated:    true,
		}
	}

	prometheus.RecordRoute("shared")
	return &Handle{
		Collection:   r.Shared().Collection(logicalName),
		TenantID:     tenantID,
		DatabaseName: r.shared,
	}
}
