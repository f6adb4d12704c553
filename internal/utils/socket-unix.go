//go:build linux || darwin

package utils

import (
	"golang.org/x/sys/unix"
)

const socketBufferSize = 1024 * 1024

// setSocketOptions enlarges kernel buffers for many parallel range
// connections; failures leave the defaults in place.
func setSocketOptions(fd uintptr) {
	unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, socketBufferSize)
	unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, socketBufferSize)
}
