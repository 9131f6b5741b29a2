// Package tws runs WebSocket sessions as context-controlled functions
// exchanging messages through channels
package tws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ridge/iosocket/thttp"
	"github.com/ridge/iosocket/tlog"
	"github.com/ridge/iosocket/tnet"
	"github.com/ridge/parallel"
	"go.uber.org/zap"
)

// ErrPingTimeout is returned when a pong doesn't arrive in time
var ErrPingTimeout = errors.New("WebSocket ping timeout")

// Config is the WebSocket configuration
type Config struct {
	// Timeout for the WebSocket protocol upgrade
	HandshakeTimeout time.Duration

	// Disconnect when an outgoing packet is not acknowledged for this long.
	// 0 for kernel default.
	TCPTimeout time.Duration

	// Send pings this often. 0 to disable.
	PingInterval time.Duration

	// Disconnect if a pong doesn't arrive during PingInterval
	RequirePong bool

	// TLS configuration for wss:// connections. Client-only.
	TLSClientConfig *tls.Config

	// CheckOrigin returns true if the request Origin header is acceptable.
	// Server-only.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig is the default Config value
var DefaultConfig = Config{
	HandshakeTimeout: 5 * time.Second,

	TCPTimeout: 30 * time.Second,

	PingInterval: 25 * time.Second,
	RequirePong:  true,
}

// SessionFn is a function that implements a WebSocket interaction scenario.
//
// The function receives incoming messages through one channel and sends
// outgoing messages through another. Both the incoming channel and the context
// will be closed when the connection closes. Once the session function
// returns, the connection will be closed if it's still open.
type SessionFn func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error

// Message is a single WebSocket message
type Message struct {
	Binary bool
	Data   []byte
}

// Serve handles an HTTP request by upgrading the connection to WebSocket
// and executing the session function.
//
// The context passed into the session function is a descendant of the request context.
func Serve(w http.ResponseWriter, r *http.Request, config Config, sessionFn SessionFn) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: config.HandshakeTimeout,
		CheckOrigin:      config.CheckOrigin,
	}
	logger := tlog.Get(r.Context())

	ws, err := upgrader.Upgrade(w, r, w.Header().Clone())
	if err != nil {
		logger.Error("Failed to serve WebSocket connection", zap.Error(err))
		return
	}

	if err := tuneTCP(ws.UnderlyingConn(), config); err != nil {
		ws.Close()
		logger.Error("Failed to serve WebSocket connection", zap.Error(err))
		return
	}

	err = handleSession(r.Context(), ws, config, sessionFn)
	logger.Debug("WebSocket disconnected", zap.Error(err))
}

// ErrDial is returned by Dial when the connection could not be established,
// as opposed to errors of an established session
type ErrDial struct {
	URL    string
	Status string
	Err    error
}

func (err ErrDial) Error() string {
	if err.Status != "" {
		return fmt.Sprintf("failed to establish WebSocket connection to %s (%s): %s", err.URL, err.Status, err.Err)
	}
	return fmt.Sprintf("failed to establish WebSocket connection to %s: %s", err.URL, err.Err)
}

func (err ErrDial) Unwrap() error {
	return err.Err
}

// Dial connects to a WebSocket server and executes the session function
func Dial(ctx context.Context, url string, headers http.Header, config Config, sessionFn SessionFn) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var netDialer net.Dialer
			conn, err := netDialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := tuneTCP(conn, config); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		TLSClientConfig:  config.TLSClientConfig,
	}

	ws, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		dialErr := ErrDial{URL: url, Err: err}
		if resp != nil {
			_ = resp.Body.Close()
			dialErr.Status = resp.Status
		}
		return dialErr
	}

	ctx = tlog.With(ctx, zap.String("url", url))
	if id := resp.Header.Get(thttp.RequestIDHeader); id != "" {
		ctx = tlog.With(ctx, zap.String("requestID", id))
	}
	return handleSession(ctx, ws, config, sessionFn)
}

// Scheme returns the WebSocket scheme matching an HTTP scheme: wss for
// "https" or "https:", ws otherwise
func Scheme(httpScheme string) string {
	if strings.TrimSuffix(httpScheme, ":") == "https" {
		return "wss"
	}
	return "ws"
}

func handleSession(ctx context.Context, ws *websocket.Conn, config Config, sessionFn SessionFn) error {
	logger := tlog.Get(ctx)
	logger.Debug("WebSocket established")

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		var pings int64 // difference between pings sent and pongs received
		incoming := make(chan Message)
		outgoing := make(chan Message)

		if config.RequirePong {
			ws.SetPongHandler(func(data string) error {
				atomic.AddInt64(&pings, -1)
				return nil
			})
		}

		spawn("session", parallel.Continue, func(ctx context.Context) error {
			defer close(outgoing)
			return sessionFn(ctx, incoming, outgoing)
		})

		spawn("receiver", parallel.Continue, func(ctx context.Context) error {
			defer close(incoming)

			for {
				mt, buff, err := ws.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					var e *websocket.CloseError
					if errors.As(err, &e) || tnet.IsClosedConnectionError(err) {
						return nil
					}
					return err
				}
				switch mt {
				case websocket.TextMessage, websocket.BinaryMessage:
					select {
					case incoming <- Message{Binary: mt == websocket.BinaryMessage, Data: buff}:
					case <-ctx.Done():
						return ctx.Err()
					}
				default:
					return fmt.Errorf("unexpected WebSocket message type %d", mt)
				}
			}
		})

		spawn("sender", parallel.Exit, func(ctx context.Context) error {
			var ticks <-chan time.Time
			if config.PingInterval != 0 {
				ticker := time.NewTicker(config.PingInterval)
				defer ticker.Stop()
				ticks = ticker.C
			}
			for {
				// gorilla/websocket does not support concurrent writes, so
				// messages and pings are written from this goroutine only
				select {
				case msg, ok := <-outgoing:
					if !ok {
						return nil
					}
					messageType := websocket.TextMessage
					if msg.Binary {
						messageType = websocket.BinaryMessage
					}
					if err := ws.WriteMessage(messageType, msg.Data); err != nil {
						return err
					}
				case <-ticks:
					if config.RequirePong && atomic.AddInt64(&pings, 1) > 1 { // previous pong still missing
						return ErrPingTimeout
					}
					if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
						return err
					}
				}
			}
		})

		spawn("closer", parallel.Exit, func(ctx context.Context) error {
			<-ctx.Done()
			if err := ws.Close(); err != nil {
				// The TLS library produces this with fmt.Errorf when the peer
				// has already gone
				if !strings.Contains(err.Error(), "failed to send closeNotify alert (but connection was closed anyway)") {
					return err
				}
			}
			return ctx.Err()
		})

		return nil
	})
}
