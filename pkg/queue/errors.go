package queue

import "errors"

var (
	ErrRepositoryNil    = errors.New("queue repository is required")
	ErrPayloadNil       = errors.New("task payload cannot be nil")
	ErrNoTaskToClaim    = errors.New("no task available to claim")
	ErrTaskNotFound     = errors.New("task not found")
	ErrHandlerNotFound  = errors.New("no handler registered for task")
	ErrNoHandlers       = errors.New("worker has no registered handlers")
	ErrAlreadyStarted   = errors.New("already started")
	ErrNotStarted       = errors.New("not started")
	ErrTaskRegistered   = errors.New("periodic task already registered")
	ErrNoScheduledTasks = errors.New("scheduler has no registered tasks")
)
