package ioreactor

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/cloudflare/tableflip"
)

// SignalFlags are the process-level signal contract named in spec.md §6:
// the shutdown and reopen-logs signals only flip an atomic flag, examined
// once per Reactor dispatch iteration. The reload signal is the exception:
// InstallSignalHandlers' watching goroutine calls the Upgrader directly.
type SignalFlags struct {
	gracefulShutdown atomic.Bool
	immediateShutdown atomic.Bool
	reopenLogs       atomic.Bool
}

func (f *SignalFlags) GracefulShutdownRequested() bool  { return f.gracefulShutdown.Load() }
func (f *SignalFlags) ImmediateShutdownRequested() bool { return f.immediateShutdown.Load() }
func (f *SignalFlags) ReopenLogsRequested() bool        { return f.reopenLogs.Load() }
func (f *SignalFlags) ClearReopenLogs()                 { f.reopenLogs.Store(false) }

// Upgrader wires the reload-via-re-exec half of the signal contract onto
// github.com/cloudflare/tableflip, which already implements the listen-
// handoff-to-new-binary protocol nginx's ngx_exec_new_binary mechanism
// performs, grounded on Ankit-Kulkarni-go-experiments's tbflip usage.
type Upgrader struct {
	upg *tableflip.Upgrader
}

// NewUpgrader creates an Upgrader with its PID file at pidFile.
func NewUpgrader(pidFile string) (*Upgrader, error) {
	upg, err := tableflip.New(tableflip.Options{PIDFile: pidFile})
	if err != nil {
		return nil, WrapError("create upgrader", err)
	}
	return &Upgrader{upg: upg}, nil
}

// Listen returns a net.Listener for addr, inherited across an upgrade where
// possible (tableflip.Upgrader.Fds.Listen).
func (u *Upgrader) Listen(network, addr string) (net.Listener, error) {
	return u.upg.Fds.Listen(network, addr)
}

// Ready signals that the new process has finished setting up listeners and
// the old process may now exit.
func (u *Upgrader) Ready() error { return u.upg.Ready() }

// Exit returns a channel closed when this process should terminate, either
// because it lost an upgrade race or because it was told to stop.
func (u *Upgrader) Exit() <-chan struct{} { return u.upg.Exit() }

// Stop releases tableflip's resources.
func (u *Upgrader) Stop() { u.upg.Stop() }

// InstallSignalHandlers wires SIGHUP to trigger u.upg.Upgrade (reload via
// re-exec), SIGQUIT to graceful shutdown, SIGTERM to immediate shutdown, and
// SIGUSR1 to reopen-logs, returning the SignalFlags the Reactor polls each
// iteration. ctx cancellation stops the signal-watching goroutine.
func InstallSignalHandlers(ctx context.Context, u *Upgrader) *SignalFlags {
	flags := &SignalFlags{}
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				return
			case sig := <-ch:
				switch sig {
				case syscall.SIGHUP:
					if u != nil {
						_ = u.upg.Upgrade()
					}
				case syscall.SIGQUIT:
					flags.gracefulShutdown.Store(true)
				case syscall.SIGTERM:
					flags.immediateShutdown.Store(true)
				case syscall.SIGUSR1:
					flags.reopenLogs.Store(true)
				}
			}
		}
	}()
	return flags
}
