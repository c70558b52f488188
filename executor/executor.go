// Package executor implements the single-threaded, strictly FIFO job queue
// BLE's async transport and handshake paths run their continuations on.
//
// This is deliberately not a goroutine pool: spec.md requires jobs to run
// one at a time, in the order they were queued, on whichever goroutine calls
// Run/RunOne, so that async callbacks never race each other. Callers that
// want concurrency run multiple Executors, not multiple workers pulling from
// one queue.
package executor

import "sync"

// Job is a unit of queued work.
type Job func()

// Executor is a FIFO job queue drained by a single caller-driven loop. It is
// the Go analogue of the original's cooperative Worker: jobs never run on a
// goroutine the Executor spawns itself, only on whatever goroutine calls
// Run or RunOne.
type Executor struct {
	mu         sync.Mutex
	cond       *sync.Cond
	jobs       []Job
	expectWork bool
}

// New creates an Executor ready to accept jobs. expectWork starts true: a
// freshly constructed Executor blocks in Run/RunOne until either a job is
// queued or Stop is called.
func New() *Executor {
	e := &Executor{expectWork: true}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// QueueJob appends job to the end of the queue and wakes one waiter.
func (e *Executor) QueueJob(job Job) {
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()
	e.cond.Signal()
}

// RunOne blocks until either a job is available or the executor has been
// stopped with no work left, then runs at most one job. It reports whether a
// job was run; false means the executor was stopped and the queue is empty.
func (e *Executor) RunOne() bool {
	e.mu.Lock()
	for len(e.jobs) == 0 && e.expectWork {
		e.cond.Wait()
	}
	if len(e.jobs) == 0 {
		e.mu.Unlock()
		return false
	}
	job := e.jobs[0]
	e.jobs = e.jobs[1:]
	e.mu.Unlock()

	job()
	return true
}

// Run drains the queue, calling RunOne repeatedly until the executor is
// stopped and empty.
func (e *Executor) Run() {
	for e.RunOne() {
	}
}

// NotifyExpectWork marks the executor as expecting further work, re-arming
// it after a Stop so Run/RunOne will block again instead of draining and
// returning immediately.
func (e *Executor) NotifyExpectWork() {
	e.mu.Lock()
	e.expectWork = true
	e.mu.Unlock()
}

// NotifyFinishedWork marks the executor as not expecting further work. Any
// goroutine blocked in RunOne with an empty queue wakes and returns false.
func (e *Executor) NotifyFinishedWork() {
	e.mu.Lock()
	e.expectWork = false
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Stop is an alias for NotifyFinishedWork, matching the original Worker's
// naming.
func (e *Executor) Stop() {
	e.NotifyFinishedWork()
}

// Pending reports the number of jobs currently queued, mainly useful for
// tests and diagnostics.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}
