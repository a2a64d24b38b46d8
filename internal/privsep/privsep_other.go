//go:build !unix

package privsep

import (
	"fmt"
	"net"
)

// Without Unix identity syscalls the backlog hint is ignored and an
// identity transition cannot be performed.
func listenBacklog(addr string, backlog int) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// dropIdentity fails closed: serving "privileged" because the platform
// cannot drop is never acceptable.
func dropIdentity(username string) error {
	return fmt.Errorf("identity transition not supported on this platform")
}
