package iosocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ridge/iosocket/sio"
	"github.com/ridge/iosocket/tws"
	"go.uber.org/zap"
)

// DefaultPath is the default path of the socket endpoint
const DefaultPath = "/socket.io/"

// Endpoint is where the backend is reached
type Endpoint struct {
	Protocol string
	Host     string
	Port     int
	Path     string
}

// URL returns the socket URL of the endpoint
func (e Endpoint) URL() string {
	host := e.Host
	if host == "" {
		host = "localhost"
	}
	if e.Port != 0 {
		host += ":" + strconv.Itoa(e.Port)
	}
	path := e.Path
	if path == "" {
		path = DefaultPath
	}
	return (&url.URL{Scheme: tws.Scheme(e.Protocol), Host: host, Path: path}).String()
}

// Socket is an event socket to the backend
type Socket interface {
	// On adds a listener for an event
	On(event string, listener sio.Listener)

	// Emit sends an event without waiting for acknowledgement
	Emit(event string, args ...any) error

	// Call sends an event and returns the acknowledgement arguments
	Call(ctx context.Context, event string, args ...any) ([]json.RawMessage, error)

	// Run connects and keeps reconnecting until the context is closed
	Run(ctx context.Context) error
}

// Transport opens sockets
type Transport func(socketURL string, options sio.Options) Socket

// SIOTransport opens sio sockets
func SIOTransport(socketURL string, options sio.Options) Socket {
	return sio.New(socketURL, options)
}

// Platform is what the client needs from its hosting environment
type Platform interface {
	// ResolveEndpoint returns the endpoint defaults
	ResolveEndpoint() Endpoint

	// LoadTransport returns the transport, or nil if it isn't available yet
	LoadTransport() Transport

	// Redirect navigates the hosting application to the URL
	Redirect(url string)

	// Alert reports an unrecoverable failure to the user
	Alert(msg string)
}

// Localizer is implemented by platforms that know the user's language
type Localizer interface {
	Language() string
}

// Locator is implemented by platforms that have a current location to return
// to after login
type Locator interface {
	Location() string
}

// WebMarker is implemented by platforms that may run in web mode, where
// admin-only calls are refused
type WebMarker interface {
	IsWeb() bool
}

// DefaultPlatform is a Platform for standalone programs: it uses the sio
// transport and logs redirects and alerts
type DefaultPlatform struct {
	Endpoint Endpoint
	Lang     string
	Logger   *zap.Logger
}

// ResolveEndpoint implements Platform
func (p DefaultPlatform) ResolveEndpoint() Endpoint {
	return p.Endpoint
}

// LoadTransport implements Platform
func (p DefaultPlatform) LoadTransport() Transport {
	return SIOTransport
}

// Redirect implements Platform
func (p DefaultPlatform) Redirect(url string) {
	p.logger().Warn("Redirect requested", zap.String("url", url))
}

// Alert implements Platform
func (p DefaultPlatform) Alert(msg string) {
	p.logger().Error(fmt.Sprintf("Alert: %s", msg))
}

// Language implements Localizer
func (p DefaultPlatform) Language() string {
	return p.Lang
}

func (p DefaultPlatform) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
