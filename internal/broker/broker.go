// Package broker abstracts the shared queue and key/value store used for all
// cross-process coordination between the dispatcher, the workers and the
// completion supervisor.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable reports that the underlying store cannot be reached.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrNoMessage reports an empty queue after the block timeout, or a
	// missing or expired key.
	ErrNoMessage = errors.New("no message")
)

// Broker provides at-least-once ordered queues and expiring keys.
//
// Dequeue removes the message; there is no acknowledgement, so a consumer that
// crashes after Dequeue loses it.
type Broker interface {
	Enqueue(ctx context.Context, queueKey string, message []byte) error
	Dequeue(ctx context.Context, queueKey string, blockTimeout time.Duration) ([]byte, error)
	PutResult(ctx context.Context, resultKey string, value []byte, ttl time.Duration) error
	GetResult(ctx context.Context, resultKey string) ([]byte, error)
	// Claim stores value under key only if the key is absent and reports
	// whether this call created it.
	Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Close() error
}

// TaskQueueKey is the dedicated queue of one worker.
func TaskQueueKey(workerID string) string {
	return "agent_tasks:" + workerID
}

// ResultKey is where one worker publishes its result for one task.
func ResultKey(taskID, workerID string) string {
	return fmt.Sprintf("result:%s:%s", taskID, workerID)
}

// TaskKey records that a task identifier has been dispatched.
func TaskKey(taskID string) string {
	return "task:" + taskID
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
