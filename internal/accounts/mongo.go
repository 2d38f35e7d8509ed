package accounts

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

// MongoCollection is the collection accounts are stored in.
const MongoCollection = "accounts"

// accountDoc is the BSON shape of an Account. Ids are stored as canonical
// UUID strings.
type accountDoc struct {
	ID                  string       `bson:"_id"`
	Email               string       `bson:"email"`
	FirstName           string       `bson:"first_name"`
	LastName            string       `bson:"last_name"`
	Phone               string       `bson:"phone"`
	Avatar              string       `bson:"avatar"`
	Role                string       `bson:"role"`
	StudentID           string       `bson:"student_id"`
	PasswordHash        string       `bson:"password_hash"`
	AuthMethods         []AuthMethod `bson:"auth_methods"`
	PasswordResetToken  string       `bson:"password_reset_token,omitempty"`
	PasswordResetExpiry *time.Time   `bson:"password_reset_expiry,omitempty"`
	Version             int64        `bson:"version"`
	CreatedAt           time.Time    `bson:"created_at"`
	UpdatedAt           time.Time    `bson:"updated_at"`
}

func toDoc(a *Account) accountDoc {
	return accountDoc{
		ID:                  a.ID.String(),
		Email:               a.Email,
		FirstName:           a.FirstName,
		LastName:            a.LastName,
		Phone:               a.Phone,
		Avatar:              a.Avatar,
		Role:                string(a.Role),
		StudentID:           a.StudentID,
		PasswordHash:        a.PasswordHash,
		AuthMethods:         a.AuthMethods,
		PasswordResetToken:  a.PasswordResetToken,
		PasswordResetExpiry: a.PasswordResetExpiry,
		Version:             a.Version,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func (d accountDoc) account() (*Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode account id %q: %w", d.ID, err)
	}
	return &Account{
		ID:                  id,
		Email:               d.Email,
		FirstName:           d.FirstName,
		LastName:            d.LastName,
		Phone:               d.Phone,
		Avatar:              d.Avatar,
		Role:                Role(d.Role),
		StudentID:           d.StudentID,
		PasswordHash:        d.PasswordHash,
		AuthMethods:         d.AuthMethods,
		PasswordResetToken:  d.PasswordResetToken,
		PasswordResetExpiry: d.PasswordResetExpiry,
		Version:             d.Version,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}, nil
}

// MongoBackend stores accounts as documents keyed by a unique email index.
type MongoBackend struct {
	coll *mongo.Collection
}

// NewMongoBackend creates a MongoBackend on db's accounts collection.
func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{coll: db.Collection(MongoCollection)}
}

// EnsureIndexes creates the unique email index and the reset-token lookup
// index. Safe to call on every start.
func (r *MongoBackend) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("accounts_email_key"),
		},
		{
			Keys: bson.D{{Key: "password_reset_token", Value: 1}},
			Options: options.Index().
				SetName("accounts_reset_token_idx").
				SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create account indexes: %w", err)
	}
	return nil
}

func (r *MongoBackend) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (r *MongoBackend) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
}

func (r *MongoBackend) FindByResetToken(ctx context.Context, digest string, now time.Time) (*Account, error) {
	return r.findOne(ctx, bson.D{
		{Key: "password_reset_token", Value: digest},
		{Key: "password_reset_expiry", Value: bson.D{{Key: "$gt", Value: now}}},
	})
}

func (r *MongoBackend) FindNeedingRepair(ctx context.Context) ([]*Account, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "auth_methods", Value: nil}},
		bson.D{
			{Key: "password_hash", Value: bson.D{{Key: "$nin", Value: bson.A{"", nil}}}},
			{Key: "auth_methods.kind", Value: bson.D{{Key: "$ne", Value: string(MethodLocal)}}},
		},
		bson.D{
			{Key: "password_hash", Value: bson.D{{Key: "$in", Value: bson.A{"", nil}}}},
			{Key: "auth_methods.kind", Value: string(MethodLocal)},
		},
	}}}
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find legacy accounts: %w", err)
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode legacy accounts: %w", err)
	}

	out := make([]*Account, 0, len(docs))
	for _, d := range docs {
		a, err := d.account()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *MongoBackend) Insert(ctx context.Context, a *Account) error {
	if _, err := r.coll.InsertOne(ctx, toDoc(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Update replaces the whole document guarded by the version field.
func (r *MongoBackend) Update(ctx context.Context, a *Account, expectedVersion int64) error {
	filter := bson.D{
		{Key: "_id", Value: a.ID.String()},
		{Key: "version", Value: expectedVersion},
	}
	res, err := r.coll.ReplaceOne(ctx, filter, toDoc(a))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("replace account: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.FindByID(ctx, a.ID); errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (r *MongoBackend) findOne(ctx context.Context, filter bson.D) (*Account, error) {
	var d accountDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return d.account()
}
