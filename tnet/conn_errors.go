package tnet

import "strings"

// IsClosedConnectionError returns true if the error is "use of closed network
// connection", which every read in progress gets when a connection is closed
// locally
func IsClosedConnectionError(err error) bool {
	// The error is not exported from net, so it can't be matched using errors.Is
	return err != nil && strings.HasSuffix(err.Error(), "use of closed network connection")
}
