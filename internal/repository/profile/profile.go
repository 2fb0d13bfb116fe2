package profile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"clearchat/internal/model"
)

type (
	ProfileRepo struct {
		collection *mongo.Collection
	}
)

func NewProfileRepo(db *mongo.Database) *ProfileRepo {
	return &ProfileRepo{
		collection: db.Collection("profiles"),
	}
}

func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	filter := bson.M{
		"_id": id,
	}

	var p model.Profile
	err := r.collection.FindOne(ctx, filter).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "find profile by id")
	}

	return &p, nil
}

func (r *ProfileRepo) GetByUsername(ctx context.Context, username string) (*model.Profile, error) {
	filter := bson.M{
		"username": username,
	}

	var p model.Profile
	err := r.collection.FindOne(ctx, filter).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "find profile by username")
	}

	return &p, nil
}

func (r *ProfileRepo) GetByIDs(ctx context.Context, ids []string) ([]model.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"_id": bson.M{"$in": ids},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find profiles by ids")
	}

	var profiles []model.Profile
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, errors.Wrap(err, "decode profiles")
	}

	return profiles, nil
}

func (r *ProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now().UTC()
	}

	_, err := r.collection.InsertOne(ctx, p)
	return errors.Wrap(err, "insert profile")
}
