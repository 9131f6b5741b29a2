// Package sio is an event transport over WebSocket: named events with JSON
// arguments, acknowledgements, and automatic reconnection.
//
// A session starts when the server sends its connect frame. Events emitted
// while there is no session are queued and sent once the next session starts.
package sio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ridge/iosocket/retry"
	"github.com/ridge/iosocket/tlog"
	"github.com/ridge/iosocket/tnet"
	"github.com/ridge/iosocket/tws"
	"github.com/ridge/iosocket/wire"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
)

// Events raised by the socket itself
const (
	// EventConnect is raised when a session starts. The arguments are those
	// of the server's connect frame.
	EventConnect = "connect"

	// EventReconnect is raised after EventConnect for every session but the
	// first one
	EventReconnect = "reconnect"

	// EventDisconnect is raised when a session ends. The argument is the
	// reason.
	EventDisconnect = "disconnect"

	// EventConnectError is raised when a connection attempt fails. The
	// argument is the error message.
	EventConnectError = "connect_error"
)

// ErrDisconnected is returned by Call when the session carrying the call ends
// before the acknowledgement arrives
var ErrDisconnected = errors.New("disconnected before acknowledgement")

// Listener handles an event.
//
// Listeners are called from the goroutine that reads the connection, so they
// must return quickly.
type Listener func(args []json.RawMessage)

// Options configures a Socket
type Options struct {
	// Query is added to the connection URL
	Query url.Values

	// Timeout is how long to wait for the server's connect frame once the
	// connection is established
	Timeout time.Duration

	// Reconnect is the delay policy between connection attempts
	Reconnect retry.ExpConfig

	// WebSocket configures the underlying connection. Replaced with the
	// default if HandshakeTimeout is zero.
	WebSocket tws.Config
}

// DefaultOptions is the default Options value
var DefaultOptions = Options{
	Timeout:   20 * time.Second,
	Reconnect: retry.ReconnectConfig,
	WebSocket: tws.DefaultConfig,
}

type ack struct {
	args []json.RawMessage
	err  error
}

type call struct {
	done chan ack
	sent bool // the frame went out in the current session
}

// Socket is a reconnecting event socket
type Socket struct {
	url     string
	options Options

	wake chan struct{}

	mu        sync.Mutex
	listeners map[string][]Listener
	outbox    []wire.Frame
	nextID    int64
	calls     map[int64]*call
	sessions  int
	connected bool
}

// New creates a Socket for the given ws:// or wss:// URL. Zero fields of
// options are taken from DefaultOptions.
func New(socketURL string, options Options) *Socket {
	if options.Timeout == 0 {
		options.Timeout = DefaultOptions.Timeout
	}
	if options.Reconnect == (retry.ExpConfig{}) {
		options.Reconnect = DefaultOptions.Reconnect
	}
	if options.WebSocket.HandshakeTimeout == 0 {
		options.WebSocket = DefaultOptions.WebSocket
	}
	if len(options.Query) != 0 {
		sep := "?"
		if strings.Contains(socketURL, "?") {
			sep = "&"
		}
		socketURL += sep + options.Query.Encode()
	}
	return &Socket{
		url:       socketURL,
		options:   options,
		wake:      make(chan struct{}, 1),
		listeners: map[string][]Listener{},
		calls:     map[int64]*call{},
	}
}

// URL returns the URL the socket connects to
func (s *Socket) URL() string {
	return s.url
}

// On adds a listener for the event
func (s *Socket) On(event string, listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Connected returns true while a session is running
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Emit sends an event without waiting for acknowledgement
func (s *Socket) Emit(event string, args ...any) error {
	frameArgs, err := wire.Args(args...)
	if err != nil {
		return fmt.Errorf("failed to encode arguments of %s: %w", event, err)
	}
	s.mu.Lock()
	s.outbox = append(s.outbox, wire.Frame{Type: wire.FrameEvent, Name: event, Args: frameArgs})
	s.mu.Unlock()
	s.notify()
	return nil
}

// Call sends an event and waits for its acknowledgement, returning the
// acknowledgement arguments
func (s *Socket) Call(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	frameArgs, err := wire.Args(args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments of %s: %w", event, err)
	}
	c := &call{done: make(chan ack, 1)}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.calls[id] = c
	s.outbox = append(s.outbox, wire.Frame{Type: wire.FrameEvent, ID: id, Name: event, Args: frameArgs})
	s.mu.Unlock()
	s.notify()

	select {
	case res := <-c.done:
		return res.args, res.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.calls, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Run connects and keeps reconnecting until the context is closed
func (s *Socket) Run(ctx context.Context) error {
	ctx = tlog.With(ctx, zap.String("socket", s.url))
	logger := tlog.Get(ctx)

	backoff := retry.NewExpBackoff(s.options.Reconnect)
	for {
		established := false
		err := tws.Dial(ctx, s.url, nil, s.options.WebSocket, func(ctx context.Context, incoming <-chan tws.Message, outgoing chan<- tws.Message) error {
			return s.session(ctx, incoming, outgoing, &established)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if established {
			backoff.Reset()
			logger.Info("Socket disconnected", zap.Error(err))
		} else {
			if err == nil {
				err = errors.New("connection closed before handshake")
			}
			var retriable retry.ErrRetriable
			if errors.As(tnet.MaybeRetriableError(err), &retriable) {
				logger.Debug("Socket connection failed", zap.Error(err))
			} else {
				logger.Warn("Socket connection failed", zap.Error(err))
			}
			s.raise(EventConnectError, must.OK1(wire.Args(err.Error())))
		}

		if err := retry.Sleep(ctx, backoff.Backoff()); err != nil {
			return err
		}
	}
}

func (s *Socket) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Socket) raise(event string, args []json.RawMessage) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners[event]...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(args)
	}
}

func (s *Socket) session(ctx context.Context, incoming <-chan tws.Message, outgoing chan<- tws.Message, established *bool) (err error) {
	logger := tlog.Get(ctx)

	connectArgs, err := s.awaitConnect(ctx, incoming)
	if err != nil {
		return err
	}

	*established = true
	s.mu.Lock()
	s.sessions++
	reconnect := s.sessions > 1
	s.connected = true
	s.mu.Unlock()
	logger.Info("Socket connected", zap.Bool("reconnect", reconnect))

	defer func() {
		reason := "transport close"
		if err != nil {
			reason = err.Error()
		}
		s.disconnected()
		s.raise(EventDisconnect, must.OK1(wire.Args(reason)))
	}()

	s.raise(EventConnect, connectArgs)
	if reconnect {
		s.raise(EventReconnect, nil)
	}
	// flush what was queued while disconnected
	s.notify()

	send := func(frame wire.Frame) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outgoing <- tws.Message{Data: must.OK1(json.Marshal(frame))}:
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
			for _, frame := range s.takeOutbox() {
				if err := send(frame); err != nil {
					return err
				}
			}
		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			frame, ok := decode(ctx, msg)
			if !ok {
				continue
			}
			switch frame.Type {
			case wire.FrameEvent:
				s.raise(frame.Name, frame.Args)
				if frame.ID != 0 {
					if err := send(wire.Frame{Type: wire.FrameAck, ID: frame.ID}); err != nil {
						return err
					}
				}
			case wire.FrameAck:
				s.acknowledge(frame.ID, frame.Args)
			}
		}
	}
}

func (s *Socket) awaitConnect(ctx context.Context, incoming <-chan tws.Message) ([]json.RawMessage, error) {
	timer := time.NewTimer(s.options.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("no connect frame received in %s", s.options.Timeout)
		case msg, ok := <-incoming:
			if !ok {
				return nil, errors.New("connection closed before handshake")
			}
			frame, ok := decode(ctx, msg)
			if ok && frame.Type == wire.FrameConnect {
				return frame.Args, nil
			}
		}
	}
}

func decode(ctx context.Context, msg tws.Message) (wire.Frame, bool) {
	var frame wire.Frame
	if msg.Binary {
		tlog.Get(ctx).Debug("Ignoring binary message", zap.Int("size", len(msg.Data)))
		return frame, false
	}
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		tlog.Get(ctx).Warn("Ignoring malformed frame", zap.Error(err))
		return frame, false
	}
	return frame, true
}

func (s *Socket) takeOutbox() []wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := s.outbox
	s.outbox = nil
	for _, frame := range frames {
		if c := s.calls[frame.ID]; c != nil {
			c.sent = true
		}
	}
	return frames
}

func (s *Socket) acknowledge(id int64, args []json.RawMessage) {
	s.mu.Lock()
	c := s.calls[id]
	delete(s.calls, id)
	s.mu.Unlock()

	if c != nil {
		c.done <- ack{args: args}
	}
}

// disconnected fails the calls sent during the session: the server forgets
// them when the connection drops
func (s *Socket) disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	for id, c := range s.calls {
		if c.sent {
			delete(s.calls, id)
			c.done <- ack{err: ErrDisconnected}
		}
	}
}
