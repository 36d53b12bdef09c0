// Package queue provides a persistent task queue: an enqueuer writing
// tasks to storage, a worker pool claiming and executing them with retry
// and a dead-letter park, and a scheduler creating named tasks on fixed
// intervals.
//
// The enqueuing write and the task execution never share a transaction
// boundary. A caller that needs fire-and-forget semantics enqueues and
// returns; the worker pool converges the side effect later, at-least-once.
package queue
