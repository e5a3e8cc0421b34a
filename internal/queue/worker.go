package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/metrics"
)

const (
	jobTimeout   = 5 * time.Minute
	popTimeout   = 5 * time.Second
	heartbeatTTL = 7 * time.Minute
)

// Worker pulls jobs from its queues and runs them through the bridge, one at
// a time. One-job-at-a-time keeps heavy handlers (the match pass) from
// overlapping themselves.
type Worker struct {
	queue   *Queue
	bridge  *Bridge
	queues  []string
	metrics *metrics.Set
	logger  *log.Logger
	id      string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker builds a worker over the given queues. metrics may be nil.
func NewWorker(q *Queue, bridge *Bridge, queues []string, m *metrics.Set) *Worker {
	host, _ := os.Hostname()
	return &Worker{
		queue:   q,
		bridge:  bridge,
		queues:  queues,
		metrics: m,
		logger:  log.New(log.Writer(), "[WORKER] ", log.LstdFlags),
		id:      fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// Start launches the consume loop and the heartbeat ticker.
func (w *Worker) Start() {
	w.stopCh = make(chan struct{})
	w.wg.Add(2)
	go w.consumeLoop()
	go w.heartbeatLoop()
	w.logger.Printf("worker %s consuming %v", w.id, w.queues)
}

// Stop shuts the loops down and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) consumeLoop() {
	defer w.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		job, queueName, err := w.queue.Dequeue(ctx, w.queues, popTimeout)
		if err != nil {
			w.logger.Printf("dequeue failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, job, queueName)
	}
}

func (w *Worker) handle(ctx context.Context, job *Job, queueName string) {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	err := w.bridge.Dispatch(jobCtx, job)
	elapsed := time.Since(start)

	if w.metrics != nil {
		w.metrics.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	}

	if err != nil {
		w.countJob(job.Name, "error")
		if job.Attempts > 1 {
			job.Attempts--
			if rqErr := w.queue.Requeue(ctx, queueName, job); rqErr != nil {
				w.logger.Printf("job %s (%s) failed and could not be requeued: %v (handler error: %v)", job.ID, job.Name, rqErr, err)
				return
			}
			w.logger.Printf("job %s (%s) failed, requeued with %d attempts left: %v", job.ID, job.Name, job.Attempts, err)
			return
		}
		w.logger.Printf("job %s (%s) failed terminally after %s: %v", job.ID, job.Name, elapsed, err)
		return
	}

	w.countJob(job.Name, "ok")
	if ttl := PolicyFor(job.Name).ResultTTL; ttl > 0 {
		if err := w.queue.StoreResult(ctx, job.ID, map[string]interface{}{
			"job":        job.Name,
			"finishedAt": time.Now().UTC(),
			"durationMs": elapsed.Milliseconds(),
		}, ttl); err != nil {
			w.logger.Printf("failed to store result of job %s: %v", job.ID, err)
		}
	}
	w.logger.Printf("job %s (%s) done in %s", job.ID, job.Name, elapsed)
}

func (w *Worker) countJob(name, outcome string) {
	if w.metrics != nil {
		w.metrics.JobsTotal.WithLabelValues(name, outcome).Inc()
	}
}

// heartbeatLoop registers the worker under a TTL'd key and samples queue
// depths. A worker gone for longer than the TTL simply ages out.
func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	ctx := context.Background()
	w.beat(ctx)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

func (w *Worker) beat(ctx context.Context) {
	if err := w.queue.broker.SetWithTTL(ctx, "queue:worker:"+w.id, []byte(time.Now().UTC().Format(time.RFC3339)), heartbeatTTL); err != nil {
		w.logger.Printf("heartbeat failed: %v", err)
	}
	if w.metrics == nil {
		return
	}
	for _, queueName := range w.queues {
		depth, err := w.queue.Depth(ctx, queueName)
		if err != nil {
			continue
		}
		w.metrics.QueueDepth.WithLabelValues(queueName).Set(float64(depth))
	}
}
