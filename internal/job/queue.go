package job

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueStopped is returned by Enqueue once the queue is stopped
var ErrQueueStopped = errors.New("job queue stopped")

// RunFunc executes one job
type RunFunc func(ctx context.Context, jobID string)

// Queue runs queued job ids on a bounded worker pool. Jobs are dispatched in
// submission order; at most workers run at once.
type Queue struct {
	mu      sync.Mutex
	pending []string
	started bool
	stopped bool

	run       RunFunc
	workerSem chan struct{}
	notify    chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewQueue creates a queue with the given concurrency limit
func NewQueue(workers int, run RunFunc) *Queue {
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		run:       run,
		workerSem: make(chan struct{}, workers),
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins dispatching. Jobs run under a context derived from ctx that is
// cancelled when Stop gives up waiting.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	q.started = true
	q.runCtx, q.cancelRun = context.WithCancel(ctx)
	go q.dispatch()
	return nil
}

// Enqueue adds a job id without blocking
func (q *Queue) Enqueue(jobID string) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	q.pending = append(q.pending, jobID)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of jobs waiting for a worker
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) dispatch() {
	defer close(q.done)
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.notify:
		}
		for {
			select {
			case q.workerSem <- struct{}{}:
			case <-q.stopCh:
				return
			}
			id, ok := q.pop()
			if !ok {
				<-q.workerSem
				break
			}
			q.wg.Add(1)
			go func() {
				defer func() {
					<-q.workerSem
					q.wg.Done()
				}()
				q.run(q.runCtx, id)
			}()
		}
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.stopped {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	return id, true
}

// Stop stops dispatching and waits for running jobs until ctx is done, after
// which their context is cancelled and Stop waits for them to return. It
// returns the ids that never started.
func (q *Queue) Stop(ctx context.Context) []string {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	leftover := q.pending
	q.pending = nil
	started := q.started
	q.mu.Unlock()

	close(q.stopCh)
	if !started {
		return leftover
	}
	<-q.done

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		q.cancelRun()
		<-finished
	}
	q.cancelRun()
	return leftover
}
