package queue

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

const (
	taskCollection = "tasks"
	deadCollection = "tasks_dead"
)

// MongoRepository implements all queue repository interfaces on MongoDB.
// Claims use findOneAndUpdate so two workers can never take the same task.
type MongoRepository struct {
	tasks *mongo.Collection
	dead  *mongo.Collection
}

// NewMongoRepository creates a queue repository backed by the given
// database.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		tasks: db.Collection(taskCollection),
		dead:  db.Collection(deadCollection),
	}
}

// EnsureIndexes creates the claim index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduled_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}
	return nil
}

// taskDoc mirrors Task with string ids, matching the membership store's
// document conventions.
type taskDoc struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Payload     []byte     `bson:"payload,omitempty"`
	Status      Status     `bson:"status"`
	RetryCount  int8       `bson:"retry_count"`
	MaxRetries  int8       `bson:"max_retries"`
	ScheduledAt time.Time  `bson:"scheduled_at"`
	LockedUntil *time.Time `bson:"locked_until,omitempty"`
	LockedBy    string     `bson:"locked_by,omitempty"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty"`
	Error       string     `bson:"error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
}

func toTaskDoc(t *Task) *taskDoc {
	doc := &taskDoc{
		ID:          t.ID.String(),
		Name:        t.Name,
		Payload:     t.Payload,
		Status:      t.Status,
		RetryCount:  t.RetryCount,
		MaxRetries:  t.MaxRetries,
		ScheduledAt: t.ScheduledAt,
		LockedUntil: t.LockedUntil,
		ProcessedAt: t.ProcessedAt,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
	}
	if t.LockedBy != nil {
		doc.LockedBy = t.LockedBy.String()
	}
	return doc
}

func fromTaskDoc(d *taskDoc) (*Task, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", d.ID, err)
	}
	t := &Task{
		ID:          id,
		Name:        d.Name,
		Payload:     d.Payload,
		Status:      d.Status,
		RetryCount:  d.RetryCount,
		MaxRetries:  d.MaxRetries,
		ScheduledAt: d.ScheduledAt,
		LockedUntil: d.LockedUntil,
		ProcessedAt: d.ProcessedAt,
		Error:       d.Error,
		CreatedAt:   d.CreatedAt,
	}
	if d.LockedBy != "" {
		if workerID, err := uuid.Parse(d.LockedBy); err == nil {
			t.LockedBy = &workerID
		}
	}
	return t, nil
}

func (r *MongoRepository) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrPayloadNil
	}
	if _, err := r.tasks.InsertOne(ctx, toTaskDoc(task)); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (r *MongoRepository) ClaimTask(ctx context.Context, workerID uuid.UUID, lockDuration time.Duration) (*Task, error) {
	now := time.Now()

	// Processing tasks whose lock has lapsed are claimable again, so work
	// held by a crashed worker is not lost.
	var doc taskDoc
	err := r.tasks.FindOneAndUpdate(ctx,
		bson.M{"$or": bson.A{
			bson.M{
				"status":       StatusPending,
				"scheduled_at": bson.M{"$lte": now},
			},
			bson.M{
				"status":       StatusProcessing,
				"locked_until": bson.M{"$lt": now},
			},
		}},
		bson.M{"$set": bson.M{
			"status":       StatusProcessing,
			"locked_until": now.Add(lockDuration),
			"locked_by":    workerID.String(),
		}},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "scheduled_at", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoTaskToClaim
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	return fromTaskDoc(&doc)
}

func (r *MongoRepository) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	res, err := r.tasks.UpdateOne(ctx,
		bson.M{"_id": taskID.String(), "status": StatusProcessing},
		bson.M{
			"$set":   bson.M{"status": StatusCompleted, "processed_at": time.Now()},
			"$unset": bson.M{"locked_until": "", "locked_by": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *MongoRepository) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	var doc taskDoc
	err := r.tasks.FindOne(ctx, bson.M{"_id": taskID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to load task: %w", err)
	}

	retryCount := doc.RetryCount + 1
	set := bson.M{
		"retry_count": retryCount,
		"error":       errorMsg,
	}
	if retryCount >= doc.MaxRetries {
		set["status"] = StatusFailed
	} else {
		set["status"] = StatusPending
		set["scheduled_at"] = time.Now().Add(time.Duration(retryCount) * 30 * time.Second)
	}

	_, err = r.tasks.UpdateOne(ctx, bson.M{"_id": taskID.String()}, bson.M{
		"$set":   set,
		"$unset": bson.M{"locked_until": "", "locked_by": ""},
	})
	if err != nil {
		return fmt.Errorf("failed to record task failure: %w", err)
	}
	return nil
}

func (r *MongoRepository) MoveToDead(ctx context.Context, taskID uuid.UUID) error {
	var doc taskDoc
	err := r.tasks.FindOne(ctx, bson.M{"_id": taskID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to load task: %w", err)
	}

	_, err = r.dead.InsertOne(ctx, bson.M{
		"_id":         uuid.New().String(),
		"task_id":     doc.ID,
		"name":        doc.Name,
		"payload":     doc.Payload,
		"error":       doc.Error,
		"retry_count": doc.RetryCount,
		"failed_at":   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to park dead task: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	var doc taskDoc
	err := r.tasks.FindOne(ctx, bson.M{"name": taskName, "status": StatusPending}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load pending task: %w", err)
	}
	return fromTaskDoc(&doc)
}
