package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const ledgerCollection = "webhook_events"

// MongoLedger implements EventLedger on a MongoDB collection keyed by the
// provider event id. The entry write happens before any side effect of the
// event, so concurrent deliveries of the same event converge on one apply.
type MongoLedger struct {
	coll *mongo.Collection
}

// NewMongoLedger creates an event ledger backed by the given database.
func NewMongoLedger(db *mongo.Database) *MongoLedger {
	return &MongoLedger{coll: db.Collection(ledgerCollection)}
}

func (l *MongoLedger) Get(ctx context.Context, eventID string) (*EventRecord, error) {
	var rec EventRecord
	if err := l.coll.FindOne(ctx, bson.M{"_id": eventID}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to load ledger entry: %w", err)
	}
	return &rec, nil
}

func (l *MongoLedger) Record(ctx context.Context, eventID, eventType string) error {
	// Upsert keyed on event id: first sight inserts the entry, a retry of
	// a failed event clears the error, and an already-processed event is
	// rejected by the filter so the caller can skip re-applying it.
	res, err := l.coll.UpdateOne(ctx,
		bson.M{"_id": eventID, "processed": bson.M{"$ne": true}},
		bson.M{
			"$set": bson.M{"error": ""},
			"$setOnInsert": bson.M{
				"event_type": eventType,
				"processed":  false,
				"created_at": time.Now().UTC(),
			},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Upsert lost the filter race against a processed entry.
			return ErrEventAlreadyProcessed
		}
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return ErrEventAlreadyProcessed
	}
	return nil
}

func (l *MongoLedger) MarkProcessed(ctx context.Context, eventID string) error {
	res, err := l.coll.UpdateOne(ctx, bson.M{"_id": eventID}, bson.M{
		"$set": bson.M{
			"processed":    true,
			"processed_at": time.Now().UTC(),
			"error":        "",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (l *MongoLedger) MarkFailed(ctx context.Context, eventID string, reason string) error {
	res, err := l.coll.UpdateOne(ctx, bson.M{"_id": eventID}, bson.M{
		"$set": bson.M{"error": reason},
	})
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}
