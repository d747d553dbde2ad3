package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Background task kinds.
const (
	TaskExtract     = "memory_extraction"
	TaskConsolidate = "memory_consolidation"
)

// Task priorities. Lower runs first.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 9
)

// Task is one unit of background memory work. Extraction tasks carry
// the rendered conversation window so workers never re-read the
// conversation store.
type Task struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	TurnID         string    `json:"turn_id,omitempty"`
	Window         string    `json:"window,omitempty"`
	Priority       int       `json:"priority"`
	Attempts       int       `json:"attempts"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	NotBefore      time.Time `json:"not_before,omitempty"`
}

// Queue is the background task queue, a sorted set in the key-value
// layer ordered by (priority, due time).
type Queue struct {
	store kv.Store
	now   func() time.Time
	newID func() string
}

// NewQueue builds a queue over the given store.
func NewQueue(store kv.Store) *Queue {
	return &Queue{store: store, now: time.Now, newID: uuid.NewString}
}

// Enqueue schedules a task, filling in id, priority and enqueued_at
// when absent, and returns the stored form.
func (q *Queue) Enqueue(ctx context.Context, task Task) (Task, error) {
	if task.Kind == "" || task.UserID == "" {
		return Task{}, protocol.Errorf(protocol.KindValidation, "memory.enqueue",
			"a task requires a kind and a user id")
	}
	if task.ID == "" {
		task.ID = q.newID()
	}
	if task.Priority == 0 {
		task.Priority = PriorityNormal
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now().UTC()
	}
	if err := q.push(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Dequeue pops the most urgent due task. It returns (nil, nil) when the
// queue is empty or its head is not due yet.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	members, err := q.store.ZPopMin(ctx, kv.BackgroundTasksKey, 1)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	var task Task
	if err := json.Unmarshal([]byte(members[0].Value), &task); err != nil {
		// the corrupt entry is already popped and stays dropped
		return nil, protocol.Errorf(protocol.KindDataIntegrity, "memory.dequeue",
			"corrupt background task: %v", err)
	}
	if task.NotBefore.After(q.now()) {
		if err := q.store.ZAdd(ctx, kv.BackgroundTasksKey, members[0]); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &task, nil
}

// Requeue puts a failed task back with one more attempt on it, due
// after delay.
func (q *Queue) Requeue(ctx context.Context, task Task, delay time.Duration) error {
	task.Attempts++
	task.NotBefore = q.now().UTC().Add(delay)
	return q.push(ctx, task)
}

// Depth returns the number of queued tasks.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.store.ZCard(ctx, kv.BackgroundTasksKey)
}

func (q *Queue) push(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return protocol.E(protocol.KindInternal, "memory.enqueue", err)
	}
	return q.store.ZAdd(ctx, kv.BackgroundTasksKey, kv.Member{
		Score: taskScore(task),
		Value: string(payload),
	})
}

// priorityStride dwarfs any realistic millisecond timestamp so priority
// always dominates the due time in the score.
const priorityStride = 1e13

func taskScore(task Task) float64 {
	due := task.EnqueuedAt
	if task.NotBefore.After(due) {
		due = task.NotBefore
	}
	return float64(task.Priority)*priorityStride + float64(due.UnixMilli())
}
