// Package privsep implements the privilege-separated startup sequence:
// acquire listening sockets while the process still holds its starting
// privileges, then perform a one-way transition to an unprivileged
// identity before any byte from an untrusted peer is processed.
//
// The transition is modeled as a capability consumed exactly once. After
// Drop returns, the Capability holds nothing and no code path in this
// package can restore the original identity; on Unix the drop is
// verified by attempting to regain it and requiring that to fail.
package privsep

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrPrivilege reports a bind or identity-transition failure. Both are
// startup-fatal: the caller must not serve.
var ErrPrivilege = errors.New("privsep: privilege error")

// Spec describes the listening resource and target identity.
type Spec struct {
	Addr    string // host:port
	Backlog int    // listen(2) backlog, 0 for the default
	User    string // unprivileged identity; empty means keep the current one
}

const defaultBacklog = 128

// Capability holds a bound listener and the pending identity
// transition. It is single-use: Drop consumes it.
type Capability struct {
	mu       sync.Mutex
	ln       net.Listener
	user     string
	consumed bool
}

// Bind acquires the listening socket described by spec. It must run
// before Drop, while the process still has the privileges the address
// requires (e.g. a low-numbered port). Failure is fatal: there is no
// partially-bound state to serve from.
func Bind(spec Spec) (*Capability, error) {
	backlog := spec.Backlog
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	ln, err := listenBacklog(spec.Addr, backlog)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", ErrPrivilege, spec.Addr, err)
	}
	return &Capability{ln: ln, user: spec.User}, nil
}

// Drop performs the one-way privilege transition and yields the
// listener. The capability is consumed whether or not the drop
// succeeds; on failure the listener is closed and nothing is returned,
// so the caller cannot serve elevated by accident.
func (c *Capability) Drop() (net.Listener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed {
		return nil, fmt.Errorf("%w: capability already consumed", ErrPrivilege)
	}
	c.consumed = true
	ln := c.ln
	c.ln = nil
	if c.user != "" {
		if err := dropIdentity(c.user); err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("%w: drop to %q: %v", ErrPrivilege, c.user, err)
		}
	}
	return ln, nil
}
