package profiles

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matedash/authbridge/internal/models"
)

// MongoRepository implements Repository using MongoDB. Profiles are keyed by
// the identity provider id stored as _id.
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository creates a new repository for the given collection
func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the unique email index. Safe to call on every start.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	}
	_, err := r.col.Indexes().CreateOne(ctx, idx)
	return err
}

func (r *MongoRepository) Insert(ctx context.Context, p *models.Profile) error {
	if _, err := r.col.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*models.Profile, error) {
	var p models.Profile
	if err := r.col.FindOne(ctx, filter).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoRepository) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.Profile, error) {
	set := patchToSet(patch)
	set["updatedAt"] = time.Now().UTC()
	return r.findOneAndSet(ctx, bson.M{"_id": id}, set)
}

func (r *MongoRepository) CompleteOnboarding(ctx context.Context, id string) (*models.Profile, error) {
	p, err := r.findOneAndSet(ctx,
		bson.M{"_id": id, "isFirstTimeUser": true},
		bson.M{"isFirstTimeUser": false, "updatedAt": time.Now().UTC()})
	if errors.Is(err, ErrNotFound) {
		// already onboarded, or no such profile
		return r.GetByID(ctx, id)
	}
	return p, err
}

func (r *MongoRepository) findOneAndSet(ctx context.Context, filter, set bson.M) (*models.Profile, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Profile
	if err := r.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &updated, nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	opts = opts.normalized()
	filter := bson.M{}
	if opts.Role != "" {
		filter["role"] = opts.Role
	}
	if !opts.CreatedAfter.IsZero() {
		filter["createdAt"] = bson.M{"$gt": opts.CreatedAfter}
	}
	if opts.FirstTimeOnly {
		filter["isFirstTimeUser"] = true
	}

	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}

	field, desc := opts.sortKey()
	dir := 1
	if desc {
		dir = -1
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: field, Value: dir}, {Key: "_id", Value: 1}}).
		SetSkip(int64(opts.skip())).
		SetLimit(int64(opts.Limit))
	cur, err := r.col.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.Profile{}
	for cur.Next(ctx) {
		var p models.Profile
		if err := cur.Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return &ListResult{Items: out, Total: total, Page: opts.Page, Limit: opts.Limit}, nil
}

// patchToSet maps the non-nil fields of a patch to their bson field names.
func patchToSet(p models.ProfilePatch) bson.M {
	set := bson.M{}
	if p.Email != nil {
		set["email"] = *p.Email
	}
	if p.FirstName != nil {
		set["firstName"] = *p.FirstName
	}
	if p.LastName != nil {
		set["lastName"] = *p.LastName
	}
	if p.DisplayName != nil {
		set["displayName"] = *p.DisplayName
	}
	if p.Role != nil {
		set["role"] = *p.Role
	}
	if p.TokenBalance != nil {
		set["tokenBalance"] = *p.TokenBalance
	}
	if p.IsFirstTimeUser != nil {
		set["isFirstTimeUser"] = *p.IsFirstTimeUser
	}
	if p.ProfilePictureURL != nil {
		set["profilePictureUrl"] = *p.ProfilePictureURL
	}
	if p.Settings != nil {
		set["settings"] = p.Settings
	}
	if p.Shortcuts != nil {
		set["shortcuts"] = p.Shortcuts
	}
	if p.LoginRedirectURL != nil {
		set["loginRedirectUrl"] = *p.LoginRedirectURL
	}
	return set
}
