package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suteetoe/taskapp/internal/maintenance"
	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/internal/tenancy"
	"github.com/suteetoe/taskapp/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type AppService struct {
	resolver    *tenancy.Resolver
	provisioner *tenancy.Provisioner
	migrator    *tenancy.Migrator
	indexes     *maintenance.IndexService
	log         *zap.Logger
}

func NewAppService(resolver *tenancy.Resolver, provisioner *tenancy.Provisioner, migrator *tenancy.Migrator, indexes *maintenance.IndexService, log *zap.Logger) *AppService {
	return &AppService{
		resolver:    resolver,
		provisioner: provisioner,
		migrator:    migrator,
		indexes:     indexes,
		log:         log,
	}
}

// CreateApp creates an app owned by userID. A separate-mode app gets its
// dedicated database and indexes before the record is written.
func (s *AppService) CreateApp(ctx context.Context, userID, name, description string, mode model.TenantMode) (*model.App, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if mode == "" {
		mode = model.TenantModeShared
	}
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	now := time.Now()
	app := &model.App{
		ID:          bson.NewObjectID(),
		UserID:      userID,
		Name:        name,
		Description: description,
		TenantMode:  mode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if mode == model.TenantModeSeparate {
		dbName := tenancy.DeriveDatabaseName(app.TenantID())
		if err := s.provisioner.CreateDedicatedDatabase(ctx, dbName); err != nil {
			return nil, fmt.Errorf("failed to provision app database: %w", err)
		}
		if result := s.indexes.EnsureIndexesForDatabase(ctx, dbName); !result.Success {
			s.log.Warn("Indexes not ensured for new app database",
				zap.String("database", dbName),
				zap.String("error", result.ErrorMessage))
		}
		app.DatabaseName = &dbName
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if _, err := s.resolver.Apps().InsertOne(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}
	s.resolver.Remember(app)
	prometheus.RecordTenantOperation("create")

	s.log.Info("App created",
		zap.String("app_id", app.TenantID()),
		zap.String("user_id", userID),
		zap.String("tenant_mode", string(mode)))
	return app, nil
}

// GetApp returns appID if userID owns it.
func (s *AppService) GetApp(ctx context.Context, userID, appID string) (*model.App, error) {
	id, err := bson.ObjectIDFromHex(appID)
	if err != nil {
		return nil, ErrAppNotFound
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var app model.App
	err = s.resolver.Apps().FindOne(ctx, bson.M{model.FieldID: id}, &app)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load app: %w", err)
	}
	if app.UserID != userID {
		return nil, ErrForbidden
	}
	return &app, nil
}

// ListApps returns every app owned by userID.
func (s *AppService) ListApps(ctx context.Context, userID string) ([]model.App, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	apps := []model.App{}
	if err := s.resolver.Apps().Find(ctx, bson.M{model.FieldUserID: userID}, &apps); err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	prometheus.RecordTenantOperation("list")
	return apps, nil
}

// SwitchMode moves the app's task data to the placement named by mode. The
// app record is marked as migrating for the duration so a second switch of the
// same app is refused. On failure the record keeps its old placement and the
// returned result explains why.
func (s *AppService) SwitchMode(ctx context.Context, userID, appID string, mode model.TenantMode) (*model.App, *model.MigrationResult, error) {
	if !mode.Valid() {
		return nil, nil, ErrInvalidMode
	}
	app, err := s.GetApp(ctx, userID, appID)
	if err != nil {
		return nil, nil, err
	}
	if app.TenantMode == mode {
		return app, nil, nil
	}

	if err := s.lock(ctx, app); err != nil {
		return nil, nil, err
	}

	var (
		result *model.MigrationResult
		dbName *string
	)
	if mode == model.TenantModeSeparate {
		name := tenancy.DeriveDatabaseName(app.TenantID())
		result = s.migrator.MigrateToSeparate(ctx, app.TenantID(), name)
		dbName = &name
	} else {
		result = s.migrator.MigrateToShared(ctx, app.TenantID(), tenancy.PlacementOf(app).DatabaseName)
	}

	if !result.Success {
		s.unlock(ctx, app)
		return app, result, fmt.Errorf("%w: %s", ErrMigrationFailed, result.ErrorMessage)
	}

	if dbName != nil {
		if idx := s.indexes.EnsureIndexesForDatabase(ctx, *dbName); !idx.Success {
			s.log.Warn("Indexes not ensured after switch", zap.String("database", *dbName), zap.String("error", idx.ErrorMessage))
		}
	}

	now := time.Now()
	_, err = s.resolver.Apps().UpdateOne(ctx, bson.M{model.FieldID: app.ID}, bson.M{"$set": bson.M{
		model.FieldTenantMode:   mode,
		model.FieldDatabaseName: dbName,
		model.FieldMigrating:    false,
		model.FieldUpdatedAt:    now,
	}})
	if err != nil {
		// Data already moved; the record still says the old placement.
		s.log.Error("Failed to record new placement after migration",
			zap.String("app_id", app.TenantID()),
			zap.String("tenant_mode", string(mode)),
			zap.Error(err))
		prometheus.RecordError("placement_update")
		return app, result, fmt.Errorf("data moved but app record update failed: %w", err)
	}

	app.TenantMode = mode
	app.DatabaseName = dbName
	app.Migrating = false
	app.UpdatedAt = now
	s.resolver.Remember(app)
	prometheus.RecordTenantOperation("switch_mode")

	s.log.Info("App mode switched",
		zap.String("app_id", app.TenantID()),
		zap.String("tenant_mode", string(mode)),
		zap.Int64("lists", result.ListsMigrated),
		zap.Int64("items", result.ItemsMigrated))
	return app, result, nil
}

// DeleteApp removes the app record and its task data. A dedicated database is
// left in place for an explicit reap.
func (s *AppService) DeleteApp(ctx context.Context, userID, appID string) error {
	app, err := s.GetApp(ctx, userID, appID)
	if err != nil {
		return err
	}
	if app.Migrating {
		return ErrSwitchInProgress
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	for _, name := range model.TenantCollections {
		h := s.resolver.ResolveForApp(app, name)
		if _, err := h.Collection.DeleteMany(ctx, h.Scope(nil)); err != nil {
			return fmt.Errorf("failed to delete %s of app %s: %w", name, appID, err)
		}
	}
	if _, err := s.resolver.Apps().DeleteOne(ctx, bson.M{model.FieldID: app.ID}); err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}
	s.resolver.Invalidate(app.TenantID())
	prometheus.RecordTenantOperation("delete")

	fields := []zap.Field{zap.String("app_id", app.TenantID())}
	if app.IsSeparate() {
		fields = append(fields, zap.String("orphaned_database", tenancy.PlacementOf(app).DatabaseName))
	}
	s.log.Info("App deleted", fields...)
	return nil
}

// lock marks the app as migrating unless another switch already did.
func (s *AppService) lock(ctx context.Context, app *model.App) error {
	res, err := s.resolver.Apps().UpdateOne(ctx,
		bson.M{model.FieldID: app.ID, model.FieldMigrating: bson.M{"$ne": true}},
		bson.M{"$set": bson.M{model.FieldMigrating: true}})
	if err != nil {
		return fmt.Errorf("failed to lock app for mode switch: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrSwitchInProgress
	}
	return nil
}

func (s *AppService) unlock(ctx context.Context, app *model.App) {
	_, err := s.resolver.Apps().UpdateOne(ctx,
		bson.M{model.FieldID: app.ID},
		bson.M{"$set": bson.M{model.FieldMigrating: false}})
	if err != nil {
		s.log.Error("Failed to release mode switch lock", zap.String("app_id", app.TenantID()), zap.Error(err))
	}
}
