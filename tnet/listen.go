// Package tnet contains networking helpers shared by the transport and the
// fake backend
package tnet

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/ridge/must/v2"
)

var lc = net.ListenConfig{
	KeepAlive: 3 * time.Minute,
}

// Listen installs a listener on the specified address.
//
// "unix:<path>" listens on a UNIX domain socket, "tcp:[host]:port" or a bare
// "[host]:port" on a TCP socket with keep-alive enabled.
func Listen(address string) (net.Listener, error) {
	network := "tcp"
	if proto, rest, ok := strings.Cut(address, ":"); ok {
		switch proto {
		case "unix":
			network, address = "unix", rest
		case "tcp":
			address = rest
		}
	}
	return lc.Listen(context.Background(), network, address)
}

// ListenOnRandomPort installs a TCP listener on a random local port
func ListenOnRandomPort() net.Listener {
	return must.OK1(Listen("localhost:"))
}
