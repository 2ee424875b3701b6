package server

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// bindListener creates, binds, and listens on a raw non-blocking TCP
// socket for addr ("host:port"), grounded on the same
// socket/bind/listen sequence as
// other_examples/…go_raw_epoll_http_server… (there hard-coded to
// 0.0.0.0:8080; generalized here to any configured host:port and to
// IPv6 literals).
func bindListener(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listener: invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("listener: invalid port %q: %w", portStr, err)
	}

	ip := net.ParseIP(host)
	if host == "" {
		ip = net.IPv4zero
	}
	if ip4 := ip.To4(); ip4 != nil {
		return bindIPv4(ip4, port)
	}
	if ip != nil {
		return bindIPv6(ip, port)
	}
	return 0, fmt.Errorf("listener: unresolved host %q (DNS names are not supported)", host)
}

func bindIPv4(ip net.IP, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, fmt.Errorf("listener: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listener: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listener: setnonblock: %w", err)
	}
	var addr unix.SockaddrInet4
	addr.Port = port
	copy(addr.Addr[:], ip)
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listener: bind: %w", err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listener: listen: %w", err)
	}
	return fd, nil
}

func bindIPv6(ip net.IP, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, fmt.Errorf("listener: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listener: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listener: setnonblock: %w", err)
	}
	var addr unix.SockaddrInet6
	addr.Port = port
	copy(addr.Addr[:], ip.To16())
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listener: bind: %w", err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listener: listen: %w", err)
	}
	return fd, nil
}
