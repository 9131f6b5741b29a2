package iosocket

import (
	"testing"

	"github.com/ridge/iosocket/test"
	"github.com/ridge/parallel"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueOrder(t *testing.T) {
	q := newTaskQueue()
	group := test.Group(t)
	group.Spawn("queue", parallel.Fail, q.run)

	results := make(chan int, 10)
	for i := 0; i < 3; i++ {
		i := i
		q.post(func() {
			results <- i
			if i == 0 {
				// posted from a task: runs after the ones already queued
				q.post(func() { results <- 3 })
			}
		})
	}
	test.AssertEvents(t, results, 0, 1, 2, 3)
}

func TestTaskQueueTake(t *testing.T) {
	q := newTaskQueue()
	require.Empty(t, q.take())

	q.post(func() {})
	q.post(func() {})
	require.Len(t, q.take(), 2)
	require.Empty(t, q.take())
}
