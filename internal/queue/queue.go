// Package queue implements the job plumbing between the scheduler, external
// producers and the worker: a Redis-list backed queue, the typed job bridge,
// and the periodic scheduler.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue names shared with external producers.
const (
	ResourceQueue     = "match_resources_queue"
	AutoCompleteQueue = "auto_complete_match_queue"
)

// Recognized job names. The data schema per name is parsed by the bridge.
const (
	JobClassifyResource         = "classifyResource"
	JobMatchResources           = "matchResources"
	JobPopulatePotentialMatches = "populatePotentialMatches"
	JobAssignErrand             = "assignErrand"
	JobCleanupTimedOutMatches   = "cleanupTimedOutMatches"
	JobAutoCompleteMatch        = "auto_complete_match_job"
)

// Job is the wire envelope for one unit of work.
type Job struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data,omitempty"`
	Attempts int             `json:"attempts"`
}

// EnqueueOptions bound a job's retries and how long its result sticks around.
type EnqueueOptions struct {
	Attempts  int
	ResultTTL time.Duration
}

// retryPolicy enumerates attempts and result TTL per job name, in one place.
var retryPolicy = map[string]EnqueueOptions{
	JobClassifyResource:         {Attempts: 1},
	JobMatchResources:           {Attempts: 1},
	JobPopulatePotentialMatches: {Attempts: 1, ResultTTL: 5 * time.Minute},
	JobAssignErrand:             {Attempts: 3, ResultTTL: 5 * time.Minute},
	JobCleanupTimedOutMatches:   {Attempts: 3, ResultTTL: time.Hour},
	JobAutoCompleteMatch:        {Attempts: 3, ResultTTL: time.Hour},
}

// PolicyFor returns the standing retry policy for a job name. Unknown names
// get a single attempt.
func PolicyFor(jobName string) EnqueueOptions {
	if p, ok := retryPolicy[jobName]; ok {
		return p
	}
	return EnqueueOptions{Attempts: 1}
}

// Broker is the minimal list-store surface the queue needs. Any Redis
// library can satisfy it; the concrete client is created in main and
// injected.
type Broker interface {
	Push(ctx context.Context, queue string, payload []byte) error
	// Pop blocks up to timeout waiting on any of the queues. A timeout with
	// no job returns ("", nil, nil).
	Pop(ctx context.Context, queues []string, timeout time.Duration) (queue string, payload []byte, err error)
	Len(ctx context.Context, queue string) (int64, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Queue pushes and pulls job envelopes through a Broker.
type Queue struct {
	broker Broker
}

func New(broker Broker) *Queue {
	return &Queue{broker: broker}
}

// Enqueue assigns the job an id, stamps its retry budget and pushes it.
// A zero opts falls back to the standing policy for the job name.
func (q *Queue) Enqueue(ctx context.Context, queueName, jobName string, data interface{}, opts EnqueueOptions) (string, error) {
	if opts.Attempts == 0 {
		opts = PolicyFor(jobName)
	}
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal job data: %w", err)
		}
		raw = b
	}
	job := Job{
		ID:       uuid.NewString(),
		Name:     jobName,
		Data:     raw,
		Attempts: opts.Attempts,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.broker.Push(ctx, queueName, payload); err != nil {
		return "", fmt.Errorf("enqueue %s on %s: %w", jobName, queueName, err)
	}
	return job.ID, nil
}

// Requeue pushes a job back with its remaining attempt budget.
func (q *Queue) Requeue(ctx context.Context, queueName string, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.broker.Push(ctx, queueName, payload); err != nil {
		return fmt.Errorf("requeue %s on %s: %w", job.Name, queueName, err)
	}
	return nil
}

// Dequeue blocks for up to timeout on the given queues and returns the next
// job with the queue it came from. No job within the timeout returns
// (nil, "", nil).
func (q *Queue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*Job, string, error) {
	queueName, payload, err := q.broker.Pop(ctx, queues, timeout)
	if err != nil {
		return nil, "", err
	}
	if payload == nil {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, "", fmt.Errorf("decode job from %s: %w", queueName, err)
	}
	return &job, queueName, nil
}

// Depth reports the current length of a queue.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	return q.broker.Len(ctx, queueName)
}

// StoreResult keeps a job's outcome under a TTL'd key for external pollers.
func (q *Queue) StoreResult(ctx context.Context, jobID string, result interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	return q.broker.SetWithTTL(ctx, resultKey(jobID), payload, ttl)
}

func resultKey(jobID string) string {
	return "queue:result:" + jobID
}
