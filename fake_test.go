package iosocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ridge/iosocket/sio"
	"github.com/ridge/iosocket/test"
	"github.com/ridge/iosocket/wire"
	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"github.com/stretchr/testify/require"
)

// wireEvent is an event emitted by the client without acknowledgement
type wireEvent struct {
	Event string
	Arg   any
}

type ackFn func(args []any) []any

// fakeSocket is an in-process Socket. Tests fire backend events directly
// into the listeners and answer calls with canned acknowledgements.
type fakeSocket struct {
	url     string
	options sio.Options
	running chan struct{}
	emitted chan wireEvent
	calls   chan string

	mu        sync.Mutex
	listeners map[string][]sio.Listener
	acks      map[string]ackFn
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		running:   make(chan struct{}),
		emitted:   make(chan wireEvent, 100),
		calls:     make(chan string, 100),
		listeners: map[string][]sio.Listener{},
		acks:      map[string]ackFn{},
	}
}

func (s *fakeSocket) On(event string, listener sio.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

func (s *fakeSocket) Emit(event string, args ...any) error {
	var arg any
	if len(args) > 0 {
		arg = args[0]
	}
	s.emitted <- wireEvent{Event: event, Arg: arg}
	return nil
}

func (s *fakeSocket) Call(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	s.calls <- event
	s.mu.Lock()
	ack := s.acks[event]
	s.mu.Unlock()

	if ack == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return rawArgs(ack(args)...), nil
}

func (s *fakeSocket) Run(ctx context.Context) error {
	close(s.running)
	<-ctx.Done()
	return ctx.Err()
}

// reply installs a canned acknowledgement for an event
func (s *fakeSocket) reply(event string, ack ...any) {
	s.handle(event, func([]any) []any { return ack })
}

func (s *fakeSocket) handle(event string, fn ackFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[event] = fn
}

// fire delivers a backend event to the listeners
func (s *fakeSocket) fire(event string, args ...any) {
	s.mu.Lock()
	listeners := s.listeners[event]
	s.mu.Unlock()

	raw := rawArgs(args...)
	for _, l := range listeners {
		l(raw)
	}
}

func rawArgs(args ...any) []json.RawMessage {
	res := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		res = append(res, must.OK1(json.Marshal(arg)))
	}
	return res
}

type fakePlatform struct {
	socket    *fakeSocket
	endpoint  Endpoint
	lang      string
	web       bool
	location  string
	redirects chan string
	alerts    chan string
}

func newFakePlatform(socket *fakeSocket) *fakePlatform {
	return &fakePlatform{
		socket:    socket,
		endpoint:  Endpoint{Protocol: "http:", Host: "backend", Port: 8081},
		location:  "http://backend:8081/app/index.html?tab=1",
		redirects: make(chan string, 10),
		alerts:    make(chan string, 10),
	}
}

func (p *fakePlatform) ResolveEndpoint() Endpoint {
	return p.endpoint
}

func (p *fakePlatform) LoadTransport() Transport {
	if p.socket == nil {
		return nil
	}
	return func(socketURL string, options sio.Options) Socket {
		p.socket.url = socketURL
		p.socket.options = options
		return p.socket
	}
}

func (p *fakePlatform) Redirect(url string) {
	p.redirects <- url
}

func (p *fakePlatform) Alert(msg string) {
	p.alerts <- msg
}

func (p *fakePlatform) Language() string {
	return p.lang
}

func (p *fakePlatform) Location() string {
	return p.location
}

func (p *fakePlatform) IsWeb() bool {
	return p.web
}

var (
	testSystemConfig = &wire.Object{
		ID:     wire.SystemConfigID,
		Type:   "config",
		Common: map[string]any{"language": "de"},
	}
	testObjects = map[string]*wire.Object{
		wire.SystemConfigID:          testSystemConfig,
		"system.adapter.admin.0":     {ID: "system.adapter.admin.0", Type: "instance"},
		"javascript.0.scripts.hello": {ID: "javascript.0.scripts.hello", Type: "script"},
	}
)

// replyDefaults answers the bootstrap calls of a well-behaved backend
func (s *fakeSocket) replyDefaults() {
	s.reply("getVersion", nil, "5.0.0", "admin")
	s.reply("authenticate", true, false)
	s.reply("getUserPermissions", nil, &wire.Permissions{})
	s.handle("getObject", func(args []any) []any {
		if args[0] == wire.SystemConfigID {
			return []any{nil, testSystemConfig}
		}
		return []any{nil, nil}
	})
	s.reply("getObjects", nil, testObjects)
}

type testClient struct {
	*Client
	socket   *fakeSocket
	platform *fakePlatform
	progress chan Progress
	ready    chan map[string]*wire.Object
	errors   chan error
}

// startClient runs a client against a fake socket with the default replies
func startClient(t *testing.T, cfg Config, setup ...func(tc *testClient)) *testClient {
	socket := newFakeSocket()
	socket.replyDefaults()
	tc := &testClient{
		socket:   socket,
		platform: newFakePlatform(socket),
		progress: make(chan Progress, 10),
		ready:    make(chan map[string]*wire.Object, 10),
		errors:   make(chan error, 10),
	}
	cfg.OnProgress = func(p Progress) { tc.progress <- p }
	cfg.OnReady = func(objects map[string]*wire.Object) { tc.ready <- objects }
	cfg.OnError = func(err error) { tc.errors <- err }
	for _, fn := range setup {
		fn(tc)
	}

	c, err := New(cfg, tc.platform)
	require.NoError(t, err)
	tc.Client = c

	group := test.Group(t)
	group.Spawn("client", parallel.Fail, c.Run)
	select {
	case <-socket.running:
	case <-group.Context().Done():
		t.Fatal("client did not start")
	}
	return tc
}

// connect fires a connect event that skips the version query
func (tc *testClient) connect() {
	tc.socket.fire(sio.EventConnect, true)
}

// waitReady waits for the client to finish bootstrap
func (tc *testClient) waitReady(t *testing.T) map[string]*wire.Object {
	t.Helper()
	select {
	case objects := <-tc.ready:
		return objects
	case err := <-tc.errors:
		t.Fatalf("unexpected error: %v", err)
	case <-test.ContextWithTimeout(t, test.EventTimeout).Done():
		t.Fatal("timeout waiting for bootstrap")
	}
	return nil
}

// flush waits until the events fired so far are processed
func (tc *testClient) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	tc.tasks.post(func() { close(done) })
	select {
	case <-done:
	case <-test.ContextWithTimeout(t, test.EventTimeout).Done():
		t.Fatal("timeout waiting for the event loop")
	}
}
