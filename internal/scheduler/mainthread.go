// Package scheduler separates storage I/O from world mutation.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when work is submitted after Stop.
	ErrStopped = errors.New("main thread stopped")
	// ErrTaskPanicked is returned by Call when the task panicked.
	ErrTaskPanicked = errors.New("main thread task panicked")
)

// Call task states.
const (
	taskPending int32 = iota
	taskRunning
	taskSkipped
)

// MainThread runs submitted functions one at a time on a single goroutine.
// Every world read and write goes through it.
type MainThread struct {
	mu      sync.Mutex
	tasks   []func()
	stopped bool
	signal  chan struct{}
	done    chan struct{}
	logger  *zap.Logger
}

// NewMainThread creates an executor. Call Start to begin running tasks.
func NewMainThread(logger *zap.Logger) *MainThread {
	return &MainThread{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger.Named("main_thread"),
	}
}

// Start runs the task loop until Stop is called or the context ends.
func (m *MainThread) Start(ctx context.Context) {
	go m.run(ctx)
}

// Submit queues fn without waiting. It never blocks, so it is safe to call from the main thread.
func (m *MainThread) Submit(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}

	m.tasks = append(m.tasks, fn)

	select {
	case m.signal <- struct{}{}:
	default:
	}

	return nil
}

// Call runs fn on the main thread and waits for its result.
// If ctx ends before fn starts, fn is skipped and ctx.Err() is returned.
// Once fn has started, Call waits for it and returns its result.
func (m *MainThread) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)

	var state atomic.Int32

	err := m.Submit(func() {
		if !state.CompareAndSwap(taskPending, taskRunning) {
			return
		}

		err := ErrTaskPanicked
		defer func() { result <- err }()

		err = fn()
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(taskPending, taskSkipped) {
			return ctx.Err()
		}

		return <-result
	case <-m.done:
		// The loop may have run the task right before exiting
		if state.CompareAndSwap(taskPending, taskSkipped) {
			return ErrStopped
		}

		return <-result
	}
}

// Stop rejects new work, runs what is already queued and waits for the loop to exit.
func (m *MainThread) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		<-m.done

		return
	}

	m.stopped = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}

	<-m.done
}

func (m *MainThread) run(ctx context.Context) {
	defer close(m.done)

	for {
		for _, task := range m.take() {
			m.execute(task)
		}

		m.mu.Lock()
		stopped := m.stopped && len(m.tasks) == 0
		m.mu.Unlock()

		if stopped {
			return
		}

		select {
		case <-m.signal:
		case <-ctx.Done():
			m.mu.Lock()
			m.stopped = true
			m.mu.Unlock()

			for _, task := range m.take() {
				m.execute(task)
			}

			return
		}
	}
}

func (m *MainThread) take() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := m.tasks
	m.tasks = nil

	return tasks
}

func (m *MainThread) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Main thread task panicked", zap.Any("panic", r))
		}
	}()

	task()
}
