package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ridge/parallel"
	"github.com/stretchr/testify/require"
)

// Group returns a parallel.Group with a testing context.
//
// The group is shut down when the test ends. If it finishes with an error
// other than context.Canceled, the test is failed.
func Group(t *testing.T) *parallel.Group {
	return GroupWithTimeout(t, 30*time.Second)
}

// GroupWithTimeout is a version of Group with an explicit timeout
func GroupWithTimeout(t *testing.T, timeout time.Duration) *parallel.Group {
	group := parallel.NewGroup(ContextWithTimeout(t, timeout))
	t.Cleanup(func() {
		group.Exit(nil)
		if err := group.Wait(); !errors.Is(err, context.Canceled) {
			require.NoError(t, err)
		}
	})
	return group
}
