package ioreactor

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ListenerConfig carries the per-listener socket options named in
// spec.md §4.4.
type ListenerConfig struct {
	Addr string

	Backlog int

	ReusePort      bool
	IPv6Only       bool
	RecvBufferSize int
	SendBufferSize int

	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int

	DeferredAccept bool
	FastOpen       int // backlog for TCP_FASTOPEN, 0 disables

	MultiAccept int // greedy accept-loop cap per readiness notification
}

// Listener is a bound, listening endpoint (spec.md §3 Listener record).
// Listeners are not in the connection pool; accepted sockets allocate from
// it.
type Listener struct {
	cfg ListenerConfig

	fd int

	open bool

	acceptHandler func(fd int, peer net.Addr) error
}

// CreateListening records the intent to listen on cfg.Addr without opening
// a socket yet (spec.md §4.4 create_listening).
func CreateListening(cfg ListenerConfig) *Listener {
	if cfg.Backlog <= 0 {
		cfg.Backlog = 511
	}
	if cfg.MultiAccept <= 0 {
		cfg.MultiAccept = 64
	}
	return &Listener{cfg: cfg, fd: -1}
}

// Fd returns the listener's socket fd, or -1 before Open.
func (l *Listener) Fd() int { return l.fd }

// Open materialises the listener: creates the socket, applies options,
// binds, listens, and sets it non-blocking (spec.md §4.4
// open_listening_sockets).
func (l *Listener) Open() error {
	addr, err := net.ResolveTCPAddr("tcp", l.cfg.Addr)
	if err != nil {
		return WrapError("resolve listen address", err)
	}

	domain := unix.AF_INET
	sa, err := sockaddrFromTCPAddr(addr)
	if err != nil {
		return WrapError("build sockaddr", err)
	}
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return WrapError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return WrapError("SO_REUSEADDR", err)
	}
	if l.cfg.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return WrapError("SO_REUSEPORT", err)
		}
	}
	if domain == unix.AF_INET6 && l.cfg.IPv6Only {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	}
	if l.cfg.RecvBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, l.cfg.RecvBufferSize)
	}
	if l.cfg.SendBufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, l.cfg.SendBufferSize)
	}
	if l.cfg.KeepAliveIdle > 0 || l.cfg.KeepAliveInterval > 0 || l.cfg.KeepAliveCount > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		if l.cfg.KeepAliveIdle > 0 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(l.cfg.KeepAliveIdle/time.Second))
		}
		if l.cfg.KeepAliveInterval > 0 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(l.cfg.KeepAliveInterval/time.Second))
		}
		if l.cfg.KeepAliveCount > 0 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, l.cfg.KeepAliveCount)
		}
	}
	if l.cfg.DeferredAccept {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1)
	}
	if l.cfg.FastOpen > 0 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, l.cfg.FastOpen)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return WrapError("bind", err)
	}
	if err := unix.Listen(fd, l.cfg.Backlog); err != nil {
		_ = unix.Close(fd)
		return WrapError("listen", err)
	}

	l.fd = fd
	l.open = true
	return nil
}

// Close closes the listener's socket.
func (l *Listener) Close() error {
	if !l.open {
		return nil
	}
	l.open = false
	return unix.Close(l.fd)
}

// sockaddrToNetAddr converts a raw accept4 sockaddr into a net.Addr for
// Connection.Peer.
func sockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	default:
		return nil
	}
}

func sockaddrFromTCPAddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	if addr.IP != nil {
		copy(sa.Addr[:], addr.IP.To16())
	}
	return sa, nil
}

// acceptLoop greedily accepts up to cfg.MultiAccept connections, handing
// each to onAccept. It stops at EAGAIN, counts ECONNABORTED and continues,
// reports EMFILE/ENFILE so the caller can engage accept_disabled, and hands
// any other error to logOther so the caller can log it at alert and continue
// (spec.md §4.4 accept handler conditions table). logOther may be nil.
func (l *Listener) acceptLoop(onAccept func(fd int, sa unix.Sockaddr) error, logOther func(err error)) (resourceExhausted bool, connAborted int) {
	for i := 0; i < l.cfg.MultiAccept; i++ {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return resourceExhausted, connAborted
			case unix.ECONNABORTED:
				connAborted++
				continue
			case unix.EMFILE, unix.ENFILE:
				resourceExhausted = true
				return resourceExhausted, connAborted
			default:
				if logOther != nil {
					logOther(err)
				}
				continue
			}
		}
		if err := onAccept(fd, sa); err != nil {
			_ = unix.Close(fd)
		}
	}
	return resourceExhausted, connAborted
}
