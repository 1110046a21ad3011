// Package queue carries chunk-processing tasks from the API to the workers.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"marketdash/internal/models"
)

// Task is one unit of pipeline work. Mode in_memory enqueues a single task
// covering the whole upload; mode persisted_chunks enqueues one per chunk.
type Task struct {
	JobID      string             `json:"job_id"`
	OwnerID    int64              `json:"owner_id"`
	DatasetID  int64              `json:"dataset_id"`
	Type       models.DatasetType `json:"type"`
	ObjectKey  string             `json:"object_key"`
	ChunkIndex int                `json:"chunk_index"`
	// Attempt starts at 0 and counts re-enqueues after transient failures.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (t *Task) Marshal() ([]byte, error) { return json.Marshal(t) }

func (t *Task) Unmarshal(b []byte) error { return json.Unmarshal(b, t) }

// Queue is a FIFO of tasks. Dequeue blocks until a task arrives, the timeout
// elapses (returns nil, nil), or the context is cancelled.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
	// Depth is the number of waiting tasks, used for admission control.
	Depth(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}
