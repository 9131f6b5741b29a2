// Package thttp contains the HTTP server used to host the socket endpoint of
// the fake backend.
//
// Server is controlled by the context passed to its Run method, which fits
// into hierarchies of components started with parallel.Run. Every request
// context inherits from the Run context, so it carries the logger, and stays
// open during graceful shutdown until running handlers, including hijacked
// WebSocket connections, complete.
//
// Routing is done with github.com/gorilla/mux:
//
//	router := mux.NewRouter()
//	router.HandleFunc("/socket.io/", serveSocket)
//	server := thttp.NewServer(tnet.ListenOnRandomPort(), thttp.Wrap(router, thttp.StandardMiddleware))
//	spawn("http", parallel.Fail, server.Run)
//
// In handlers, log using the logger of the request context:
//
//	logger := tlog.Get(r.Context())
//
// It carries httpServer, remoteAddr and, with the Log middleware installed,
// requestID, method and url fields. Don't log them again. On internal errors,
// panic: the Recover middleware logs the panic and shuts the server down.
package thttp
