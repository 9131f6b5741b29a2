// Package request funnels every RPC of the client through one primitive.
//
// A Request describes a call: how to perform it (Body) and the policies around
// it: result caching under a key, a timeout, and gating on connection state,
// admin mode and backend features. Coordinator.Call applies the policies and
// returns an Outcome that callers wait on.
package request

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ridge/iosocket/tcontext"
	"github.com/ridge/iosocket/tlog"
	"go.uber.org/zap"
)

// NoTimeout disables the timer of a call
const NoTimeout time.Duration = -1

// Body performs the call. It receives a context that is closed when the
// timeout elapses and the token of the call.
type Body func(ctx context.Context, token *Token) ([]json.RawMessage, error)

// Request describes a call
type Request struct {
	// Name is used for logging only
	Name string

	// CacheKey, if set, makes concurrent and subsequent calls with the same
	// key share one Outcome
	CacheKey string

	// ForceUpdate bypasses and replaces the cached Outcome
	ForceUpdate bool

	// Timeout of the call: 0 means the coordinator default, NoTimeout
	// disables the timer
	Timeout time.Duration

	// OnTimeout is invoked once when the timeout elapses
	OnTimeout func()

	// RequireAdmin fails the call with ErrNotAdmin in web mode
	RequireAdmin bool

	// RequireFeatures are checked one by one before the call is made
	RequireFeatures []string

	Body Body
}

// Env is what the coordinator needs to know about the client
type Env interface {
	IsConnected() bool
	IsWeb() bool
	CheckFeatureSupported(ctx context.Context, feature string) (bool, error)
}

// Coordinator applies the Request policies and owns the in-flight cache
type Coordinator struct {
	env            Env
	defaultTimeout time.Duration

	mu    sync.Mutex
	cache map[string]*Outcome
}

// New creates a Coordinator
func New(env Env, defaultTimeout time.Duration) *Coordinator {
	return &Coordinator{
		env:            env,
		defaultTimeout: defaultTimeout,
		cache:          map[string]*Outcome{},
	}
}

// Call starts the call described by req and returns its Outcome.
//
// The body runs in its own goroutine with a context that keeps the values of
// ctx but not its cancellation: a cached Outcome may outlive the caller that
// started it. Closing ctx only stops the feature checks.
func (c *Coordinator) Call(ctx context.Context, req Request) *Outcome {
	if req.RequireAdmin && c.env.IsWeb() {
		return Failed(ErrNotAdmin)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if req.CacheKey != "" && !req.ForceUpdate {
		if o := c.cache[req.CacheKey]; o != nil {
			return o
		}
	}
	if !c.env.IsConnected() {
		return Failed(ErrNotConnected)
	}

	o := newOutcome()
	if req.CacheKey != "" {
		c.cache[req.CacheKey] = o
	}
	go c.run(ctx, req, o)
	return o
}

// Forget drops the cached Outcome for the key
func (c *Coordinator) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cache, key)
}

// Reset drops all cached Outcomes
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = map[string]*Outcome{}
}

// forgetFailed removes a failed Outcome from the cache unless it has already
// been replaced
func (c *Coordinator) forgetFailed(key string, o *Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache[key] == o {
		delete(c.cache, key)
	}
}

func (c *Coordinator) run(ctx context.Context, req Request, o *Outcome) {
	logger := tlog.Get(ctx).With(zap.String("request", req.Name))

	err := c.checkFeatures(ctx, req.RequireFeatures)
	if err == nil {
		err = c.perform(tcontext.Reopen(ctx), req, o, logger)
	}
	if err != nil {
		o.settle(nil, err)
	}
	if req.CacheKey != "" {
		<-o.done
		if o.err != nil {
			c.forgetFailed(req.CacheKey, o)
		}
	}
}

func (c *Coordinator) checkFeatures(ctx context.Context, features []string) error {
	for _, feature := range features {
		ok, err := c.env.CheckFeatureSupported(ctx, feature)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotSupported, feature)
		}
	}
	return nil
}

// perform runs the body under the timer. The returned error is nil when the
// outcome has already been settled.
func (c *Coordinator) perform(ctx context.Context, req Request, o *Outcome, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	token := &Token{ctx: ctx}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.defaultTimeout
	}
	if timeout > 0 {
		token.mu.Lock()
		token.timer = time.AfterFunc(timeout, func() {
			if !token.expire() {
				return
			}
			logger.Debug("Request timed out", zap.Duration("timeout", timeout))
			if req.OnTimeout != nil {
				req.OnTimeout()
			}
			o.settle(nil, ErrTimeout)
			cancel()
		})
		token.mu.Unlock()
	}

	results, err := runBody(ctx, req.Body, token)
	if !token.Cancel() {
		logger.Debug("Dropping late answer")
		return nil
	}
	if err != nil {
		return err
	}
	o.settle(results, nil)
	return nil
}

func runBody(ctx context.Context, body Body, token *Token) (results []json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("request body panicked: %v", p)
		}
	}()
	return body(ctx, token)
}
