//go:build unix

package privsep

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenBacklog opens a TCP listening socket with an explicit backlog.
// net.Listen offers no backlog control, so the socket is built by hand
// and then handed to the runtime poller via net.FileListener.
func listenBacklog(addr string, backlog int) (net.Listener, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	ip := ta.IP
	if ip == nil {
		ip = net.IPv4zero
	}

	var fd int
	if ip4 := ip.To4(); ip4 != nil {
		fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return nil, err
		}
		sa := &unix.SockaddrInet4{Port: ta.Port}
		copy(sa.Addr[:], ip4)
		err = bindListen(fd, sa, backlog)
	} else {
		fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return nil, err
		}
		sa := &unix.SockaddrInet6{Port: ta.Port}
		copy(sa.Addr[:], ip.To16())
		err = bindListen(fd, sa, backlog)
	}
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "listen:"+addr)
	ln, err := net.FileListener(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	return ln, nil
}

func bindListen(fd int, sa unix.Sockaddr, backlog int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return err
	}
	return unix.Listen(fd, backlog)
}

// dropIdentity switches the process to the named user: supplementary
// groups first, then gid, then uid, so no step runs without the
// privilege it needs. The result is verified, including that the
// original identity cannot be regained.
func dropIdentity(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("bad uid %q: %v", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("bad gid %q: %v", u.Gid, err)
	}

	wasRoot := unix.Geteuid() == 0
	if err := unix.Setgroups([]int{gid}); err != nil {
		// Only root may call setgroups; when already unprivileged the
		// target must simply be who we are.
		if wasRoot {
			return fmt.Errorf("setgroups: %v", err)
		}
	}
	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("setresgid %d: %v", gid, err)
	}
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("setresuid %d: %v", uid, err)
	}

	if unix.Getuid() != uid || unix.Geteuid() != uid {
		return fmt.Errorf("identity after drop is %d/%d, want %d", unix.Getuid(), unix.Geteuid(), uid)
	}
	if wasRoot && uid != 0 {
		// The transition must be one-way. If root can be regained the
		// saved uid survived the drop; refuse to serve.
		if err := unix.Setuid(0); err == nil {
			return fmt.Errorf("drop is reversible: regained uid 0")
		}
	}
	return nil
}
