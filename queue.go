package iosocket

import (
	"context"
	"sync"
)

// taskQueue is the unbounded queue of the event loop. Posting never blocks,
// so socket listeners can post from the socket's goroutine.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
	ch    chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ch: make(chan struct{}, 1)}
}

// post adds a task to run after the ones already posted
func (q *taskQueue) post(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.ch <- struct{}{}:
	default:
	}
}

// take removes and returns the posted tasks
func (q *taskQueue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks
	q.tasks = nil
	return tasks
}

// run executes tasks in order until the context is closed
func (q *taskQueue) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.ch:
		}
		for _, task := range q.take() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			task()
		}
	}
}
