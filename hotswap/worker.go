package hotswap

import (
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("redefine worker stopped")

// redefineJob is one unit of work for the redefinition goroutine.
type redefineJob struct {
	fn   func() error
	done chan error
}

// RedefineWorker serializes redefinition calls through a single
// goroutine. The runtime's replace primitive is a global, serializing
// operation; funneling every Perform through one worker guarantees no
// two redefinitions make progress at once, for the same class or
// otherwise. Hot-swaps are human-triggered, so the lost parallelism
// across unrelated classes costs nothing.
type RedefineWorker struct {
	mu      sync.Mutex
	jobs    chan redefineJob
	stopped bool
}

// NewRedefineWorker creates a worker and starts its goroutine.
func NewRedefineWorker() *RedefineWorker {
	w := &RedefineWorker{
		jobs: make(chan redefineJob, 16),
	}
	go w.loop()
	return w
}

// loop processes jobs sequentially on a dedicated goroutine until the
// jobs channel closes, finishing anything still queued at Stop.
func (w *RedefineWorker) loop() {
	for job := range w.jobs {
		job.done <- w.execute(job.fn)
	}
}

// execute runs one job, converting a panic into an error so a fault in
// one redefinition can never take down the worker.
func (w *RedefineWorker) execute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn()
}

// Do submits a job and blocks until it completes. After Stop it returns
// ErrWorkerStopped without running the job.
func (w *RedefineWorker) Do(fn func() error) error {
	job := redefineJob{
		fn:   fn,
		done: make(chan error, 1),
	}

	// The enqueue happens under the same lock Stop takes, so a job is
	// either refused here or guaranteed to be drained by the loop.
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrWorkerStopped
	}
	w.jobs <- job
	w.mu.Unlock()

	return <-job.done
}

// Stop shuts down the worker. Jobs already submitted still run to
// completion; later Do calls are refused. Stop is idempotent.
func (w *RedefineWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.jobs)
}
