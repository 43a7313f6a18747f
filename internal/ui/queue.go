package ui

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// Sentinel errors for the queue.
var (
	// ErrQueueClosed is returned when posting to a closed queue.
	ErrQueueClosed = errors.New("ui queue is closed")

	// ErrQueueFull is returned when the queue cannot accept more tasks.
	ErrQueueFull = errors.New("ui queue is full")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("ui queue is already running")
)

// PanicHandler is called when a task panics.
type PanicHandler func(value any, stack []byte)

// Queue serializes UI work onto one goroutine. Tasks may be posted from any
// goroutine; they run one at a time, in order, on the goroutine that called
// Run.
type Queue struct {
	mu      sync.RWMutex
	tasks   chan func()
	closed  bool
	running atomic.Bool
	done    chan struct{}

	log          commonlog.Logger
	panicHandler PanicHandler

	enqueued  atomic.Uint64
	processed atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Queue.
type Option func(*Queue)

// WithQueueSize sets the task buffer size.
func WithQueueSize(size int) Option {
	return func(q *Queue) {
		if size > 0 {
			q.tasks = make(chan func(), size)
		}
	}
}

// WithPanicHandler replaces the default panic logging.
func WithPanicHandler(h PanicHandler) Option {
	return func(q *Queue) {
		q.panicHandler = h
	}
}

// NewQueue creates a queue. Nothing runs until Run is called.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		tasks: make(chan func(), 1024),
		done:  make(chan struct{}),
		log:   commonlog.GetLogger("lsp-typescript.ui"),
	}
	q.panicHandler = q.logPanic
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Post schedules task to run on the queue goroutine.
func (q *Queue) Post(task func()) error {
	if task == nil {
		return nil
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run executes tasks until ctx is cancelled or the queue is closed and
// drained.
func (q *Queue) Run(ctx context.Context) error {
	if q.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-q.tasks:
			if !ok {
				return nil
			}
			q.execute(task)
		}
	}
}

// Done is closed when Run returns.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close stops accepting tasks. Tasks already posted still run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}

func (q *Queue) execute(task func()) {
	defer func() {
		q.processed.Add(1)
		if r := recover(); r != nil {
			q.panicked.Add(1)
			stack := debug.Stack()
			if q.panicHandler != nil {
				func() {
					defer func() { _ = recover() }()
					q.panicHandler(r, stack)
				}()
			}
		}
	}()

	task()
}

func (q *Queue) logPanic(value any, stack []byte) {
	q.log.Errorf("ui task panicked: %v\n%s", value, stack)
}

// QueueStats contains statistics for a queue.
type QueueStats struct {
	Enqueued  uint64
	Processed uint64
	Panicked  uint64
	Dropped   uint64
	Depth     int
}

// Stats returns queue statistics.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Panicked:  q.panicked.Load(),
		Dropped:   q.dropped.Load(),
		Depth:     len(q.tasks),
	}
}
