//go:build !unix

package transport

import "syscall"

// setReuseAddr is a no-op on non-unix platforms; address reuse is best
// effort (§4.2).
func setReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
