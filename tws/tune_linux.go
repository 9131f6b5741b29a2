package tws

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func tuneTCP(conn net.Conn, config Config) error {
	if config.TCPTimeout == 0 {
		return nil
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := setTCPOption(tcpConn, unix.TCP_USER_TIMEOUT, int(config.TCPTimeout/time.Millisecond)); err != nil {
		return fmt.Errorf("failed to tune TCP socket: %w", err)
	}
	return nil
}

func setTCPOption(conn *net.TCPConn, option, value int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, err)
	}

	var setErr error
	if err := raw.Control(func(fd uintptr) {
		setErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, option, value)
	}); err != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, err)
	}
	if err := setErr; err != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, err)
	}
	return nil
}
