package tnet

import (
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/ridge/iosocket/retry"
)

// MaybeRetriableError wraps a network error into retry.ErrRetriable if the
// failure is transient: the peer is down, restarting or unreachable
func MaybeRetriableError(err error) error {
	if err == nil {
		return nil
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && errors.Is(urlErr, io.EOF) {
		return retry.Retriable(err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return retry.Retriable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Retriable(err)
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EHOSTUNREACH, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return retry.Retriable(err)
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return retry.Retriable(err)
	}
	// Unexported error of the DNS resolver
	if strings.Contains(err.Error(), "server misbehaving") {
		return retry.Retriable(err)
	}
	return err
}
