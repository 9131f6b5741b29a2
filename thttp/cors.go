package thttp

import (
	"net/http"

	"github.com/gorilla/handlers"
)

var (
	allowedMethods = []string{
		http.MethodGet,
		http.MethodOptions,
	}
	allowedHeaders = []string{
		"Cache-Control",
		"Sec-WebSocket-Extensions",
		"Sec-WebSocket-Key",
		"Sec-WebSocket-Protocol",
		"Sec-WebSocket-Version",
		"User-Agent",
		RequestIDHeader,
	}
	exposedHeaders = []string{
		RequestIDHeader,
	}
)

// CORS is a middleware that lets pages served from any origin open the socket
// endpoint
var CORS = handlers.CORS(
	handlers.AllowedMethods(allowedMethods),
	handlers.AllowedHeaders(allowedHeaders),
	handlers.ExposedHeaders(exposedHeaders),
	handlers.AllowedOrigins([]string{"*"}),
)
