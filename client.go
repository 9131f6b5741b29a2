package iosocket

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/ridge/iosocket/mirror"
	"github.com/ridge/iosocket/registry"
	"github.com/ridge/iosocket/request"
	"github.com/ridge/iosocket/retry"
	"github.com/ridge/iosocket/sio"
	"github.com/ridge/iosocket/tlog"
	"github.com/ridge/iosocket/wire"
	"github.com/ridge/parallel"
	"go.uber.org/zap"
)

// ErrNoTransport is returned by Run when the platform provides no transport
var ErrNoTransport = errors.New("socket transport is not available")

var transportWait = retry.FixedConfig{RetryAfter: 100 * time.Millisecond, MaxAttempts: 30}

// Client is a connection to the backend
type Client struct {
	config   Config
	platform Platform

	coordinator *request.Coordinator
	mirror      *mirror.Cache
	states      *registry.Registry[StateHandler]
	objects     *registry.Registry[ObjectHandler]
	tasks       *taskQueue

	connectionObservers observers[func(bool)]
	logObservers        observers[func(wire.LogMessage)]
	cmdObservers        observers[func(CmdOutput)]

	firstConnect     chan struct{}
	firstConnectOnce sync.Once

	mu             sync.Mutex
	logger         *zap.Logger
	socket         Socket
	group          *parallel.Group
	epoch          int
	phase          Phase
	progress       Progress
	connected      bool
	announced      bool // last state told to the connection observers
	loaded         bool // bootstrap reached the point where config is known
	bootstrapped   bool // bootstrap completed at least once
	loadingEpoch   int  // epoch of the bootstrap in progress, 0 if none
	secure         bool
	language       string
	systemConfig   *wire.Object
	permissions    *wire.Permissions
	waitForRestart bool
	logRequired    bool
}

// New creates a Client. Nothing happens until Run is called.
func New(cfg Config, platform Platform) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		config:       cfg.withDefaults(platform.ResolveEndpoint()),
		platform:     platform,
		mirror:       mirror.New(),
		tasks:        newTaskQueue(),
		firstConnect: make(chan struct{}),
		logger:       zap.NewNop(),
	}
	c.coordinator = request.New(env{c}, c.config.IOTimeout)
	c.states = registry.New[StateHandler](sink{c: c, subscribe: "subscribe", unsubscribe: "unsubscribe"})
	c.objects = registry.New[ObjectHandler](sink{c: c, subscribe: "subscribeObjects", unsubscribe: "unsubscribeObjects"})
	return c, nil
}

// Config returns the effective configuration
func (c *Client) Config() Config {
	return c.config
}

// URL returns the socket URL
func (c *Client) URL() string {
	return Endpoint{Protocol: c.config.Protocol, Host: c.config.Host, Port: c.config.Port, Path: c.config.Path}.URL()
}

// Run waits for the transport, connects and processes events until the
// context is closed.
//
// If the platform provides no transport in time, the user is alerted and
// ErrNoTransport is returned.
func (c *Client) Run(ctx context.Context) error {
	ctx = tlog.With(ctx, zap.String("client", c.config.Name))
	logger := tlog.Get(ctx)

	transport, err := retry.Do1(ctx, transportWait, func() (Transport, error) {
		if t := c.platform.LoadTransport(); t != nil {
			return t, nil
		}
		return nil, retry.Retriable(ErrNoTransport)
	})
	if err != nil {
		if errors.Is(err, ErrNoTransport) {
			c.platform.Alert("Cannot load the socket transport. Please check the connection to the backend.")
		}
		return err
	}

	socket := transport(c.URL(), sio.Options{
		Query:   url.Values{"name": {c.config.Name}},
		Timeout: c.config.IOTimeout,
	})
	c.listen(socket)

	group := parallel.NewGroup(ctx)
	c.mu.Lock()
	c.logger = logger
	c.socket = socket
	c.group = group
	c.phase = PhaseConnecting
	c.mu.Unlock()

	logger.Info("Connecting", zap.String("url", c.URL()))
	group.Spawn("socket", parallel.Fail, socket.Run)
	group.Spawn("events", parallel.Fail, c.tasks.run)
	return group.Wait()
}

// WaitConnected blocks until the first successful connection
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.firstConnect:
		return nil
	}
}

// IsConnected returns true while the client is connected and authenticated
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsSecure returns true if the backend requires authentication
func (c *Client) IsSecure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secure
}

// Phase returns the lifecycle phase
func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Progress returns the bootstrap progress
func (c *Client) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Language returns the system language, empty before bootstrap
func (c *Client) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// SystemConfig returns the system configuration loaded by bootstrap
func (c *Client) SystemConfig() *wire.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemConfig
}

// Permissions returns the user permissions loaded by bootstrap
func (c *Client) Permissions() *wire.Permissions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permissions
}

// Mirror returns the local copy of objects and states
func (c *Client) Mirror() *mirror.Cache {
	return c.mirror
}

// SetWaitForRestart makes the client reload the application on the next
// connection instead of resuming, for use when the backend is restarting
func (c *Client) SetWaitForRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitForRestart = true
}

func (c *Client) isWeb() bool {
	if w, ok := c.platform.(WebMarker); ok {
		return w.IsWeb()
	}
	return false
}

func (c *Client) location() string {
	if l, ok := c.platform.(Locator); ok {
		return l.Location()
	}
	return ""
}

func (c *Client) log() *zap.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

func (c *Client) currentSocket() Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket
}

// spawn runs a task in the Run group. Does nothing once Run is finishing.
func (c *Client) spawn(name string, task parallel.Task) {
	c.mu.Lock()
	group := c.group
	c.mu.Unlock()

	if group == nil || group.Context().Err() != nil {
		return
	}
	group.Spawn(name, parallel.Continue, task)
}

// env exposes the client to the request coordinator
type env struct {
	c *Client
}

func (e env) IsConnected() bool {
	return e.c.IsConnected()
}

func (e env) IsWeb() bool {
	return e.c.isWeb()
}

func (e env) CheckFeatureSupported(ctx context.Context, feature string) (bool, error) {
	return e.c.CheckFeatureSupported(ctx, feature, false)
}

// sink issues wire subscriptions for a registry
type sink struct {
	c           *Client
	subscribe   string
	unsubscribe string
}

func (s sink) Subscribe(pattern string) {
	s.c.emit(s.subscribe, pattern)
}

func (s sink) Unsubscribe(pattern string) {
	s.c.emit(s.unsubscribe, pattern)
}

// emit sends an event that needs no acknowledgement
func (c *Client) emit(event string, args ...any) {
	socket := c.currentSocket()
	if socket == nil {
		return
	}
	if err := socket.Emit(event, args...); err != nil {
		c.log().Error("Failed to emit event", zap.String("event", event), zap.Error(err))
	}
}
