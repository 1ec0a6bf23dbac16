package supervisor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen builds the listening socket described by spec §4.6/§6.3 with an
// explicit backlog (net.Listen does not expose one). It does not set
// SO_REUSEPORT; ListenReusePort does, so that more than one process can bind
// the same host:port and let the kernel load-balance accepts across them.
func Listen(host string, port, backlog int) (*net.TCPListener, error) {
	return listen(host, port, backlog, false)
}

// ListenReusePort is Listen with SO_REUSEPORT set, per spec §4.6's
// SO_REUSEPORT multi-worker strategy.
func ListenReusePort(host string, port, backlog int) (*net.TCPListener, error) {
	return listen(host, port, backlog, true)
}

func listen(host string, port, backlog int, reusePort bool) (*net.TCPListener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolving %s: %w", addr, err)
	}

	domain := unix.AF_INET
	sockaddr, err := sockaddrFor(resolved, &domain)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("supervisor: socket: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("supervisor: set nonblock: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("supervisor: SO_REUSEADDR: %w", err)
	}
	if reusePort {
		if err := setReusePort(fd); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("supervisor: SO_REUSEPORT: %w", err)
		}
	}

	if err := unix.Bind(fd, sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("supervisor: bind %s: %w", addr, err)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("supervisor: listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), addr)
	defer f.Close()
	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("supervisor: FileListener: %w", err)
	}
	tl, ok := l.(*net.TCPListener)
	if !ok {
		l.Close()
		return nil, fmt.Errorf("supervisor: unexpected listener type %T", l)
	}
	return tl, nil
}

func sockaddrFor(addr *net.TCPAddr, domain *int) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		*domain = unix.AF_INET
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	*domain = unix.AF_INET6
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	if addr.IP != nil {
		copy(sa.Addr[:], addr.IP.To16())
	}
	return &sa, nil
}

// ListenerFile duplicates the listener's file descriptor for handing to a
// forked child via exec.Cmd.ExtraFiles (spec §4.6's "inherited socket"
// strategy).
func ListenerFile(l *net.TCPListener) (*os.File, error) {
	return l.File()
}

// FileListener reconstructs a *net.TCPListener from an inherited file
// descriptor, the child-side counterpart of ListenerFile.
func FileListener(f *os.File) (*net.TCPListener, error) {
	l, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	tl, ok := l.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("supervisor: inherited fd is not a TCP listener (%T)", l)
	}
	return tl, nil
}

// exitCodeOf extracts a child process's numeric exit status, defaulting to
// 1 for signals/unknown termination (spec §4.6's exit-code discrimination
// only special-cases code 2).
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && !status.Signaled() {
			return status.ExitStatus()
		}
	}
	return 1
}

func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
