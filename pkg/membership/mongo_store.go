package membership

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

const membershipCollection = "memberships"

// MongoStore implements Store on a MongoDB collection. Each Insert/Update is
// a single document write, which is the atomicity unit the reconciliation
// logic relies on.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a membership store backed by the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(membershipCollection)}
}

// EnsureIndexes creates the lookup indexes. The subscription_ref index is
// unique and sparse so the one-subscription-one-record invariant holds at
// the storage layer once a ref is set.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subscription_ref", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{Keys: bson.D{{Key: "owner_ref", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "current_period_end", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create membership indexes: %w", err)
	}
	return nil
}

// membershipDoc is the persisted shape. Internal ids are stored as strings
// to keep documents readable and queryable from shell tooling.
type membershipDoc struct {
	ID                 string    `bson:"_id"`
	OwnerRef           string    `bson:"owner_ref"`
	Type               Type      `bson:"type"`
	Status             Status    `bson:"status"`
	CustomerRef        string    `bson:"customer_ref"`
	SubscriptionRef    string    `bson:"subscription_ref,omitempty"`
	PriceRef           string    `bson:"price_ref"`
	CurrentPeriodStart int64     `bson:"current_period_start"`
	CurrentPeriodEnd   int64     `bson:"current_period_end"`
	CancelAtPeriodEnd  bool      `bson:"cancel_at_period_end"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

func toDoc(m *Membership) *membershipDoc {
	return &membershipDoc{
		ID:                 m.ID.String(),
		OwnerRef:           m.OwnerRef,
		Type:               m.Type,
		Status:             m.Status,
		CustomerRef:        m.CustomerRef,
		SubscriptionRef:    m.SubscriptionRef,
		PriceRef:           m.PriceRef,
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func fromDoc(d *membershipDoc) (*Membership, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid membership id %q: %w", d.ID, err)
	}
	return &Membership{
		ID:                 id,
		OwnerRef:           d.OwnerRef,
		Type:               d.Type,
		Status:             d.Status,
		CustomerRef:        d.CustomerRef,
		SubscriptionRef:    d.SubscriptionRef,
		PriceRef:           d.PriceRef,
		CurrentPeriodStart: d.CurrentPeriodStart,
		CurrentPeriodEnd:   d.CurrentPeriodEnd,
		CancelAtPeriodEnd:  d.CancelAtPeriodEnd,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}, nil
}

func (s *MongoStore) GetByID(ctx context.Context, id uuid.UUID) (*Membership, error) {
	return s.findOne(ctx, bson.M{"_id": id.String()})
}

func (s *MongoStore) GetBySubscriptionRef(ctx context.Context, subscriptionRef string) (*Membership, error) {
	if subscriptionRef == "" {
		return nil, ErrMembershipNotFound
	}
	return s.findOne(ctx, bson.M{"subscription_ref": subscriptionRef})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Membership, error) {
	var doc membershipDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	return fromDoc(&doc)
}

func (s *MongoStore) ListByOwner(ctx context.Context, ownerRef string) ([]*Membership, error) {
	return s.find(ctx, bson.M{"owner_ref": ownerRef},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *MongoStore) ListByStatus(ctx context.Context, status Status) ([]*Membership, error) {
	return s.find(ctx, bson.M{"status": status})
}

func (s *MongoStore) ListRepairNeeded(ctx context.Context) ([]*Membership, error) {
	// Either bound missing/zero, or the bounds inverted.
	return s.find(ctx, bson.M{"$or": bson.A{
		bson.M{"current_period_start": bson.M{"$lte": 0}},
		bson.M{"current_period_end": bson.M{"$lte": 0}},
		bson.M{"$expr": bson.M{"$lte": bson.A{"$current_period_end", "$current_period_start"}}},
	}})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts ...options.Lister[options.FindOptions]) ([]*Membership, error) {
	cur, err := s.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Membership
	for cur.Next(ctx) {
		var doc membershipDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode membership: %w", err)
		}
		m, err := fromDoc(&doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("membership cursor failed: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ListSubscriptionRefs(ctx context.Context) ([]string, error) {
	var out []string
	err := s.coll.Distinct(ctx, "subscription_ref",
		bson.M{"subscription_ref": bson.M{"$nin": bson.A{nil, ""}}}).Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription refs: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Insert(ctx context.Context, m *Membership) error {
	if _, err := s.coll.InsertOne(ctx, toDoc(m)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Join(ErrDuplicateSubscriptionRef, err)
		}
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, m *Membership) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": m.ID.String()}, toDoc(m))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Join(ErrDuplicateSubscriptionRef, err)
		}
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrMembershipNotFound
	}
	return nil
}
