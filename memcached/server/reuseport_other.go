//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package server

import "errors"

func setReusePort(uintptr) error {
	return errors.New("reuse port is not supported on this platform")
}
