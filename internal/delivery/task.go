package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TypeDeliver is the asynq task type that emails purchased photos.
	TypeDeliver = "order:deliver"
	// Queue is the asynq queue delivery tasks run on.
	Queue = "delivery"
)

// Payload is the body of a TypeDeliver task.
type Payload struct {
	OrderID string `json:"orderId"`
}

// TaskID is the asynq task id of the delivery task for orderID.
func TaskID(orderID string) string { return "deliver:" + orderID }

// NewDeliverTask builds the task for orderID. The task id is derived from
// the order so concurrent enqueues of the same order collapse into one.
func NewDeliverTask(orderID string) (*asynq.Task, error) {
	if orderID == "" {
		return nil, errors.New("delivery: order id is required")
	}
	body, err := json.Marshal(Payload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeliver, body,
		asynq.TaskID(TaskID(orderID)),
		asynq.Queue(Queue),
		asynq.MaxRetry(10),
		asynq.Timeout(2*time.Minute),
	), nil
}

// TaskEnqueuer is implemented by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is implemented by *asynq.Inspector.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Enqueuer schedules delivery tasks.
type Enqueuer struct {
	Client TaskEnqueuer
	// Inspector resolves task id conflicts. Without it a conflict always
	// counts as already scheduled.
	Inspector TaskInspector
	// MaxRetry overrides the task default when positive.
	MaxRetry int
}

// EnqueueDelivery schedules delivery for orderID. A task already pending,
// running or waiting to retry counts as success. A task that ran out of
// retries and was archived, or a retained completed one, still holds the id:
// it is deleted and the delivery enqueued again with a fresh retry budget.
func (e Enqueuer) EnqueueDelivery(ctx context.Context, orderID string) error {
	if e.Client == nil {
		return errors.New("delivery: task client not configured")
	}
	task, err := NewDeliverTask(orderID)
	if err != nil {
		return err
	}
	var opts []asynq.Option
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}

	_, err = e.Client.EnqueueContext(ctx, task, opts...)
	if err == nil {
		return nil
	}
	if !errors.Is(err, asynq.ErrTaskIDConflict) && !errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("enqueue %s: %w", TypeDeliver, err)
	}
	if e.Inspector == nil {
		return nil
	}

	id := TaskID(orderID)
	info, err := e.Inspector.GetTaskInfo(Queue, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		// Finished and removed since the conflict.
	case err != nil:
		return fmt.Errorf("inspect %s: %w", id, err)
	case info.State == asynq.TaskStateArchived || info.State == asynq.TaskStateCompleted:
		if err := e.Inspector.DeleteTask(Queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("delete %s task %s: %w", info.State, id, err)
		}
	default:
		return nil
	}

	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("re-enqueue %s: %w", TypeDeliver, err)
	}
	return nil
}
