package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// registryDocHex pins the _id of the single queue-registry document so that
// concurrent Gateway instances can never create duplicates.
const registryDocHex = "000000000000aaaabbbbffff"

// RegistryRepo persists the queue registry in col_queue_registry.
type RegistryRepo struct{ col *mongo.Collection }

// NewRegistryRepo constructs a RegistryRepo over the given database.
func NewRegistryRepo(db *mongo.Database) *RegistryRepo {
	return &RegistryRepo{col: db.Collection(RegistryCollection)}
}

func registryID() primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(registryDocHex)
	if err != nil {
		// The hex literal is a compile-time constant of valid length.
		panic(err)
	}
	return id
}

// Ensure loads the registry, creating an empty one if it does not exist yet.
func (r *RegistryRepo) Ensure(ctx context.Context) (map[string]string, error) {
	tracer := otel.Tracer("repo.registry")
	ctx, span := tracer.Start(ctx, "registry.Ensure")
	defer span.End()
	reg, err := r.Load(ctx)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	doc := bson.M{"_id": registryID(), "queue_registry": bson.M{}}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		// A concurrent instance may have inserted first; duplicate keys mean
		// the registry now exists.
		if mongo.IsDuplicateKeyError(err) {
			return r.Load(ctx)
		}
		return nil, storeErr("registry.ensure", err)
	}
	return map[string]string{}, nil
}

// Load reads the registry document.
func (r *RegistryRepo) Load(ctx context.Context) (map[string]string, error) {
	tracer := otel.Tracer("repo.registry")
	ctx, span := tracer.Start(ctx, "registry.Load")
	defer span.End()
	var raw struct {
		QueueRegistry map[string]string `bson:"queue_registry"`
	}
	if err := r.col.FindOne(ctx, bson.M{"_id": registryID()}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("op=registry.load: %w", domain.ErrNotFound)
		}
		return nil, storeErr("registry.load", err)
	}
	if raw.QueueRegistry == nil {
		return map[string]string{}, nil
	}
	return raw.QueueRegistry, nil
}

// Save overwrites the registry mapping.
func (r *RegistryRepo) Save(ctx context.Context, reg map[string]string) error {
	tracer := otel.Tracer("repo.registry")
	ctx, span := tracer.Start(ctx, "registry.Save")
	defer span.End()
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": registryID()},
		bson.M{"$set": bson.M{"queue_registry": reg}})
	if err != nil {
		return storeErr("registry.save", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("op=registry.save: %w", domain.ErrNotFound)
	}
	return nil
}
