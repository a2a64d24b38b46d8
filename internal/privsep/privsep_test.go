package privsep

import (
	"errors"
	"net"
	"os/user"
	"testing"
)

func TestBindAndDrop(t *testing.T) {
	pc, err := Bind(Spec{Addr: "127.0.0.1:0", Backlog: 16})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ln, err := pc.Drop()
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	defer ln.Close()
	if _, ok := ln.(*net.TCPListener); !ok {
		t.Fatalf("listener type %T", ln)
	}
	// The socket must actually accept.
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			_ = c.Close()
		}
	}()
	c, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	_ = c.Close()
}

func TestCapabilityConsumedOnce(t *testing.T) {
	pc, err := Bind(Spec{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ln, err := pc.Drop()
	if err != nil {
		t.Fatalf("first Drop: %v", err)
	}
	defer ln.Close()
	if _, err := pc.Drop(); !errors.Is(err, ErrPrivilege) {
		t.Fatalf("second Drop err=%v, want ErrPrivilege", err)
	}
}

func TestDropToCurrentUser(t *testing.T) {
	u, err := user.Current()
	if err != nil {
		t.Skipf("user.Current: %v", err)
	}
	pc, err := Bind(Spec{Addr: "127.0.0.1:0", User: u.Username})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ln, err := pc.Drop()
	if err != nil {
		t.Fatalf("Drop to self: %v", err)
	}
	_ = ln.Close()
}

func TestDropToUnknownUserFailsClosed(t *testing.T) {
	pc, err := Bind(Spec{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	pc.user = "no-such-user-privsep-test"
	if _, err := pc.Drop(); !errors.Is(err, ErrPrivilege) {
		t.Fatalf("Drop err=%v, want ErrPrivilege", err)
	}
	// The listener must be gone: fail closed means nothing to serve
	// from.
	if pc.ln != nil {
		t.Fatal("listener survived a failed drop")
	}
}

func TestBindFailureIsFatal(t *testing.T) {
	if _, err := Bind(Spec{Addr: "256.256.256.256:1"}); !errors.Is(err, ErrPrivilege) {
		t.Fatalf("err=%v, want ErrPrivilege", err)
	}
}
