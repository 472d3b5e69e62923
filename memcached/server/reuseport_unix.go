//go:build linux || darwin || freebsd || netbsd || openbsd

package server

import "golang.org/x/sys/unix"

// setReusePort lets several processes listen on the same port
func setReusePort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
