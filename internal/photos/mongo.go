package photos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoCollection is the collection photos are stored in.
const MongoCollection = "photos"

type photoDoc struct {
	ID          string    `bson:"_id"`
	OwnerID     string    `bson:"owner_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description,omitempty"`
	ContentType string    `bson:"content_type"`
	Size        int64     `bson:"size_bytes"`
	StorageKey  string    `bson:"storage_key"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d photoDoc) photo() (*Photo, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode photo id %q: %w", d.ID, err)
	}
	owner, err := uuid.Parse(d.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("decode owner id %q: %w", d.OwnerID, err)
	}
	return &Photo{
		ID:          id,
		OwnerID:     owner,
		Title:       d.Title,
		Description: d.Description,
		ContentType: d.ContentType,
		Size:        d.Size,
		StorageKey:  d.StorageKey,
		CreatedAt:   d.CreatedAt,
	}, nil
}

// MongoRepository stores photos as documents.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates a MongoRepository on db's photos collection.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(MongoCollection)}
}

// EnsureIndexes creates the owner/created_at listing index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("photos_owner_created_idx"),
	})
	if err != nil {
		return fmt.Errorf("create photo indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Insert(ctx context.Context, p *Photo) error {
	_, err := r.coll.InsertOne(ctx, photoDoc{
		ID:          p.ID.String(),
		OwnerID:     p.OwnerID.String(),
		Title:       p.Title,
		Description: p.Description,
		ContentType: p.ContentType,
		Size:        p.Size,
		StorageKey:  p.StorageKey,
		CreatedAt:   p.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id uuid.UUID) (*Photo, error) {
	var d photoDoc
	if err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return d.photo()
}

func (r *MongoRepository) List(ctx context.Context, f ListFilter) ([]*Photo, error) {
	f = f.normalized()
	filter := bson.D{}
	if f.OwnerID != nil {
		filter = bson.D{{Key: "owner_id", Value: f.OwnerID.String()}}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64(f.Offset))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	var docs []photoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode photos: %w", err)
	}

	out := make([]*Photo, 0, len(docs))
	for _, d := range docs {
		p, err := d.photo()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *MongoRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
