package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is a unit of deferred work. Enqueueing and execution never share a
// transaction boundary: a task becomes visible to workers only once its
// document is durably written.
type Task struct {
	ID          uuid.UUID  `bson:"_id" json:"id"`
	Name        string     `bson:"name" json:"name"`
	Payload     []byte     `bson:"payload,omitempty" json:"payload,omitempty"`
	Status      Status     `bson:"status" json:"status"`
	RetryCount  int8       `bson:"retry_count" json:"retry_count"`
	MaxRetries  int8       `bson:"max_retries" json:"max_retries"`
	ScheduledAt time.Time  `bson:"scheduled_at" json:"scheduled_at"`
	LockedUntil *time.Time `bson:"locked_until,omitempty" json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `bson:"locked_by,omitempty" json:"locked_by,omitempty"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
}

// DeadTask is a task that exhausted all retries, parked for manual
// inspection and re-drive.
type DeadTask struct {
	ID         uuid.UUID `bson:"_id" json:"id"`
	TaskID     uuid.UUID `bson:"task_id" json:"task_id"`
	Name       string    `bson:"name" json:"name"`
	Payload    []byte    `bson:"payload,omitempty" json:"payload,omitempty"`
	Error      string    `bson:"error" json:"error"`
	RetryCount int8      `bson:"retry_count" json:"retry_count"`
	FailedAt   time.Time `bson:"failed_at" json:"failed_at"`
}
