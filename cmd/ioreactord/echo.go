package main

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-ioreactor"
)

// echoOnAccept installs a minimal read/write handler pair implementing
// spec.md §8's S1 echo scenario: read whatever the client sent, echo it
// back, then mark the connection reusable. This is demonstration wiring for
// the generic read/write event hooks the core exposes to protocol layers
// (spec.md §1 "Protocol-specific request handling ... is out of scope"); it
// is not itself part of the core.
func echoOnAccept(r *ioreactor.Reactor) func(c *ioreactor.Connection) error {
	return func(c *ioreactor.Connection) error {
		buf := make([]byte, 4096)
		c.SetReadHandler(func(ev *ioreactor.Event, flags ioreactor.EventFlags) {
			for {
				n, err := unix.Read(c.Fd(), buf)
				if n > 0 {
					c.Requests++
					if _, werr := unix.Write(c.Fd(), buf[:n]); werr != nil {
						r.CloseConnection(c, werr)
						return
					}
					c.Sent += uint64(n)
					r.Reusable(c, true)
				}
				if err != nil {
					if err == unix.EAGAIN {
						return
					}
					if err == syscall.ECONNRESET || n == 0 {
						r.CloseConnection(c, err)
						return
					}
					r.CloseConnection(c, err)
					return
				}
				if n == 0 {
					r.CloseConnection(c, nil)
					return
				}
			}
		})
		return nil
	}
}
