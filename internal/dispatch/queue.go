// Package dispatch provides the single-consumer task queue that serialises
// state-touching work onto one delivery goroutine.
//
// Network callbacks and retry timers arrive on arbitrary goroutines. Instead
// of mutating shared state directly they Post a task; the goroutine running
// Queue.Run executes tasks one at a time in submission order.
//
// Direct is an Executor that runs tasks immediately on the caller, used by
// tests and one-shot CLI commands that have no delivery loop.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned by Post after Close.
var ErrClosed = errors.New("dispatch: queue closed")

// Executor runs units of work asynchronously with respect to the caller.
type Executor interface {
	Post(task func()) error
}

// Logger defines the logging interface used by the Queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Queue is an unbounded FIFO of tasks drained by a single Run loop.
//
// Post never blocks, so it is safe to call from MQTT callbacks and from
// tasks already running on the queue.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	logger Logger
}

// NewQueue creates an empty queue. Call Run to start executing tasks.
func NewQueue() *Queue {
	return &Queue{
		wake:   make(chan struct{}, 1),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used to report task panics.
func (q *Queue) SetLogger(logger Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger = logger
}

// Post appends a task to the queue.
func (q *Queue) Post(task func()) error {
	if task == nil {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting new tasks. Run finishes the tasks already queued
// and then returns nil.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Run executes tasks in submission order until the queue is closed and
// drained, or ctx is cancelled.
//
// Only one goroutine may call Run.
func (q *Queue) Run(ctx context.Context) error {
	for {
		task, closed := q.next()
		if task != nil {
			q.execute(task)
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// next pops the oldest task, reporting whether the queue is closed when empty.
func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, q.closed
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, false
}

func (q *Queue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.mu.Lock()
			logger := q.logger
			q.mu.Unlock()
			logger.Error("dispatch task panic recovered",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Direct runs every task immediately on the calling goroutine.
type Direct struct{}

// Post runs the task and returns nil.
func (Direct) Post(task func()) error {
	if task != nil {
		task()
	}
	return nil
}
