package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kabsmeiou/Pamahres/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository implements UserRepository using MongoDB collections
// "users", "profiles" and "user_activities".
type MongoRepository struct {
	users      *mongo.Collection
	profiles   *mongo.Collection
	activities *mongo.Collection
	now        func() time.Time
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		users:      db.Collection("users"),
		profiles:   db.Collection("profiles"),
		activities: db.Collection("user_activities"),
		now:        time.Now,
	}
}

// EnsureIndexes creates the unique indexes the upserts rely on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := r.users.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	for _, col := range []*mongo.Collection{r.profiles, r.activities} {
		if _, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "userId", Value: 1}}, Options: unique}); err != nil {
			return fmt.Errorf("%s index: %w", col.Name(), err)
		}
	}
	return nil
}

func (r *MongoRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.users.FindOne(ctx, bson.M{"username": username}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateWithDependents upserts the user with $setOnInsert so an existing
// document is never modified. Profile and activity upserts are idempotent and
// run on every call, which also repairs a user left without them.
func (r *MongoRepository) CreateWithDependents(ctx context.Context, u *models.User) (*models.User, bool, error) {
	now := r.now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.DateJoined.IsZero() {
		u.DateJoined = now
	}

	stored, err := r.upsertUser(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		// concurrent upsert won the unique index; the document exists now
		stored, err = r.GetByUsername(ctx, u.Username)
		if err == nil && stored == nil {
			err = fmt.Errorf("user %q conflicted on insert but cannot be read back", u.Username)
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}

	for _, col := range []*mongo.Collection{r.profiles, r.activities} {
		if err := r.ensureDependent(ctx, col, stored.ID, now); err != nil {
			return nil, false, err
		}
	}
	return stored, stored.ID == u.ID, nil
}

func (r *MongoRepository) upsertUser(ctx context.Context, u *models.User) (*models.User, error) {
	doc := bson.M{
		"_id":        u.ID,
		"email":      u.Email,
		"firstName":  u.FirstName,
		"lastName":   u.LastName,
		"dateJoined": u.DateJoined,
	}
	if u.LastLogin != nil {
		doc["lastLogin"] = *u.LastLogin
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored models.User
	err := r.users.FindOneAndUpdate(ctx, bson.M{"username": u.Username}, bson.M{"$setOnInsert": doc}, opts).Decode(&stored)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *MongoRepository) ensureDependent(ctx context.Context, col *mongo.Collection, userID string, now time.Time) error {
	_, err := col.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{"$setOnInsert": bson.M{"_id": uuid.NewString(), "createdAt": now}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("upsert %s: %w", col.Name(), err)
	}
	return nil
}
