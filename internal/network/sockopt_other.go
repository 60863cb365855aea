//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package network

import "syscall"

// reuseAddrControl is a noop on platforms without SO_REUSEPORT.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
