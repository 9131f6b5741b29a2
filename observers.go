package iosocket

import (
	"sync"

	"github.com/ridge/iosocket/wire"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Disposer removes an observer. Calling it more than once has no effect.
type Disposer func()

// observers is a list of callbacks, called in the order of registration
type observers[F any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]F
}

func (o *observers[F]) add(fn F) Disposer {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = map[int]F{}
	}
	o.nextID++
	id := o.nextID
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.fns, id)
	}
}

func (o *observers[F]) list() []F {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := maps.Keys(o.fns)
	slices.Sort(ids)
	res := make([]F, 0, len(ids))
	for _, id := range ids {
		res = append(res, o.fns[id])
	}
	return res
}

// CmdOutput is the output of a command started with CmdExec
type CmdOutput struct {
	ID int

	// Stream is "stdout" or "stderr"; empty for the exit notification
	Stream string
	Data   string

	// Exited and ExitCode are set by the exit notification
	Exited   bool
	ExitCode int
}

// OnConnectionChange registers a callback called with true when the client
// connects and with false when it disconnects
func (c *Client) OnConnectionChange(fn func(connected bool)) Disposer {
	return c.connectionObservers.add(fn)
}

// OnLog registers a callback for streamed backend log messages
func (c *Client) OnLog(fn func(msg wire.LogMessage)) Disposer {
	return c.logObservers.add(fn)
}

// OnCmdOutput registers a callback for the output of commands started with
// CmdExec
func (c *Client) OnCmdOutput(fn func(out CmdOutput)) Disposer {
	return c.cmdObservers.add(fn)
}
