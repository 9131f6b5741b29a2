package iosocket

import (
	"errors"

	"github.com/ridge/iosocket/request"
)

// Errors of calls, checked with errors.Is. Errors reported by the backend are
// *wire.BackendError.
var (
	ErrNotConnected = request.ErrNotConnected
	ErrTimeout      = request.ErrTimeout
	ErrNotAdmin     = request.ErrNotAdmin
	ErrNotSupported = request.ErrNotSupported
)

// Errors delivered to Config.OnError
var (
	// ErrUnauthorized is the backend refusing the session
	ErrUnauthorized = errors.New("not authorized")

	// ErrConnect wraps the failures of connection attempts
	ErrConnect = errors.New("connection failed")
)
