// Package mock implements a fake backend speaking the socket protocol, for
// tests and local experiments
package mock

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/mux"
	"github.com/ridge/iosocket/thttp"
	"github.com/ridge/iosocket/tlog"
	"github.com/ridge/iosocket/tnet"
	"github.com/ridge/iosocket/tws"
	"github.com/ridge/iosocket/wire"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
)

// SocketPath is where the backend serves the socket endpoint
const SocketPath = "/socket.io/"

// Handler answers an event. The returned values are sent back as the
// acknowledgement arguments, conventionally the error first.
type Handler func(args []json.RawMessage) []any

type peer struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    chan wire.Frame
}

// Backend is a fake backend.
//
// Events received from clients are answered by the registered handlers;
// events without a handler are recorded but never acknowledged.
type Backend struct {
	listener net.Listener
	frames   chan wire.Frame

	mu        sync.Mutex
	handlers  map[string]Handler
	peers     map[*peer]struct{}
	noTimeout bool
	queries   []url.Values
}

// New creates a Backend listening on a random local port
func New() *Backend {
	return &Backend{
		listener: tnet.ListenOnRandomPort(),
		frames:   make(chan wire.Frame, 1024),
		handlers: map[string]Handler{},
		peers:    map[*peer]struct{}{},
	}
}

// Addr returns the listening address
func (b *Backend) Addr() *net.TCPAddr {
	return b.listener.Addr().(*net.TCPAddr)
}

// URL returns the socket URL
func (b *Backend) URL() string {
	return "ws://" + b.listener.Addr().String() + SocketPath
}

// SetNoTimeout sets the flag sent in the connect frame of new sessions
func (b *Backend) SetNoTimeout(noTimeout bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noTimeout = noTimeout
}

// Handle installs the handler for an event, replacing the previous one
func (b *Backend) Handle(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = handler
}

// Reply installs a handler always answering with the same values
func (b *Backend) Reply(event string, ack ...any) {
	b.Handle(event, func([]json.RawMessage) []any { return ack })
}

// Frames returns the events received from clients, in order
func (b *Backend) Frames() <-chan wire.Frame {
	return b.frames
}

// Queries returns the URL query of every session so far
func (b *Backend) Queries() []url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]url.Values(nil), b.queries...)
}

// Sessions returns the number of connected clients
func (b *Backend) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// Emit sends an event to all connected clients
func (b *Backend) Emit(event string, args ...any) {
	frame := wire.Frame{Type: wire.FrameEvent, Name: event, Args: must.OK1(wire.Args(args...))}
	for _, p := range b.snapshot() {
		select {
		case p.out <- frame:
		case <-p.ctx.Done():
		}
	}
}

// Disconnect drops all sessions
func (b *Backend) Disconnect() {
	for _, p := range b.snapshot() {
		p.cancel()
	}
}

// Run serves clients until the context is closed
func (b *Backend) Run(ctx context.Context) error {
	router := mux.NewRouter()
	router.HandleFunc(SocketPath, b.serve).Methods(http.MethodGet)
	return thttp.NewServer(b.listener, thttp.Wrap(router, thttp.StandardMiddleware)).Run(ctx)
}

func (b *Backend) snapshot() []*peer {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := make([]*peer, 0, len(b.peers))
	for p := range b.peers {
		res = append(res, p)
	}
	return res
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.queries = append(b.queries, r.URL.Query())
	b.mu.Unlock()

	tws.Serve(w, r, tws.DefaultConfig, b.session)
}

func (b *Backend) session(ctx context.Context, incoming <-chan tws.Message, outgoing chan<- tws.Message) error {
	logger := tlog.Get(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := &peer{ctx: ctx, cancel: cancel, out: make(chan wire.Frame, 64)}

	b.mu.Lock()
	b.peers[p] = struct{}{}
	connect := wire.Frame{Type: wire.FrameConnect, Args: must.OK1(wire.Args(b.noTimeout))}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.peers, p)
		b.mu.Unlock()
	}()

	send := func(frame wire.Frame) bool {
		select {
		case <-ctx.Done():
			return false
		case outgoing <- tws.Message{Data: must.OK1(json.Marshal(frame))}:
			return true
		}
	}

	if !send(connect) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-p.out:
			if !send(frame) {
				return nil
			}
		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			var frame wire.Frame
			if err := json.Unmarshal(msg.Data, &frame); err != nil {
				logger.Warn("Malformed frame", zap.Error(err))
				continue
			}
			if frame.Type != wire.FrameEvent {
				continue
			}
			logger.Debug("Event received", zap.Object("frame", frame))
			select {
			case b.frames <- frame:
			case <-ctx.Done():
				return nil
			}

			b.mu.Lock()
			handler := b.handlers[frame.Name]
			b.mu.Unlock()
			if handler == nil {
				continue
			}
			results := handler(frame.Args)
			if frame.ID == 0 {
				continue
			}
			ack := wire.Frame{Type: wire.FrameAck, ID: frame.ID, Args: must.OK1(wire.Args(results...))}
			if !send(ack) {
				return nil
			}
		}
	}
}
