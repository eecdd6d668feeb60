package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

const probeCollection = "_provision"

// ErrInvalidDatabaseName rejects names that are not dedicated tenant databases.
var ErrInvalidDatabaseName = errors.New("invalid dedicated database name")

// Provisioner materializes dedicated tenant databases.
type Provisioner struct {
	client store.Client
	log    *zap.Logger
}

// NewProvisioner returns a provisioner over client.
func NewProvisioner(client store.Client, log *zap.Logger) *Provisioner {
	return &Provisioner{client: client, log: log}
}

// CreateDedicatedDatabase makes databaseName exist with empty todoLists and
// todoItems collections. Safe to call repeatedly.
func (p *Provisioner) CreateDedicatedDatabase(ctx context.Context, databaseName string) error {
	if !ValidDatabaseName(databaseName) {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseName, databaseName)
	}
	db := p.client.Database(databaseName)

	// Databases appear on first write; the probe is best effort only.
	p.probe(ctx, db)

	existing, err := db.ListCollectionNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections of %s: %w", databaseName, err)
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	for _, name := range model.TenantCollections {
		if present[name] {
			continue
		}
		if err := db.CreateCollection(ctx, name); err != nil && !errors.Is(err, store.ErrCollectionExists) {
			return fmt.Errorf("failed to create collection %s in %s: %w", name, databaseName, err)
		}
	}

	p.log.Info("Dedicated database ready", zap.String("database", databaseName))
	return nil
}

func (p *Provisioner) probe(ctx context.Context, db store.Database) {
	probe := db.Collection(probeCollection)
	id, err := probe.InsertOne(ctx, bson.M{"createdAt": time.Now()})
	if err != nil {
		p.log.Debug("Provisioning probe write failed", zap.String("database", db.Name()), zap.Error(err))
		return
	}
	if _, err := probe.DeleteOne(ctx, bson.M{model.FieldID: id}); err != nil {
		p.log.Debug("Provisioning probe delete failed", zap.String("database", db.Name()), zap.Error(err))
	}
	if err := db.DropCollection(ctx, probeCollection); err != nil {
		p.log.Debug("Provisioning probe drop failed", zap.String("database", db.Name()), zap.Error(err))
	}
}
