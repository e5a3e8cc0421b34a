package queue

import (
	"context"
	"log"
	"sync"
	"time"
)

// Periodic cadences. The assigner runs on the populator's cadence, staggered
// so fresh potential matches land before assignment starts.
const (
	populateInterval     = 10 * time.Minute
	assignInterval       = 10 * time.Minute
	assignStagger        = 2 * time.Minute
	cleanupInterval      = 24 * time.Hour
	autoCompleteInterval = 24 * time.Hour
)

// Scheduler enqueues the periodic jobs. It ticks independently of worker
// load; a failed enqueue is logged and the next tick tries again.
type Scheduler struct {
	queue  *Queue
	logger *log.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(q *Queue) *Scheduler {
	return &Scheduler{
		queue:  q,
		logger: log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags),
	}
}

// Start launches one ticker goroutine per periodic job.
func (s *Scheduler) Start() {
	s.stopCh = make(chan struct{})
	s.tick(ResourceQueue, JobPopulatePotentialMatches, populateInterval, 0)
	s.tick(ResourceQueue, JobAssignErrand, assignInterval, assignStagger)
	s.tick(ResourceQueue, JobCleanupTimedOutMatches, cleanupInterval, 0)
	s.tick(AutoCompleteQueue, JobAutoCompleteMatch, autoCompleteInterval, 0)
	s.logger.Printf("scheduler started")
}

// Stop halts all tickers.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) tick(queueName, jobName string, interval, offset time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if offset > 0 {
			select {
			case <-time.After(offset):
			case <-s.stopCh:
				return
			}
		}
		s.enqueue(queueName, jobName)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.enqueue(queueName, jobName)
			}
		}
	}()
}

func (s *Scheduler) enqueue(queueName, jobName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := s.queue.Enqueue(ctx, queueName, jobName, nil, EnqueueOptions{})
	if err != nil {
		s.logger.Printf("failed to enqueue %s: %v", jobName, err)
		return
	}
	s.logger.Printf("enqueued %s as job %s", jobName, id)
}
