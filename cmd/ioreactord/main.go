// Command ioreactord is the worker-process entrypoint: it parses flags,
// loads configuration, installs the process-level signal contract, and runs
// one Reactor per configured worker, each pinned to its own OS thread.
//
// Grounded on webitel-im-delivery-service's cmd/ wiring style (flags →
// config → component fan-out) and Ankit-Kulkarni-go-experiments's
// graceful_restarts/tbflip for the tableflip-driven main.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/spf13/pflag"

	"github.com/joeycumines/go-ioreactor"
	"github.com/joeycumines/go-ioreactor/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ioreactord:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("ioreactord", pflag.ExitOnError)
	config.BindFlags(fs)
	addr := fs.String("listen", "127.0.0.1:8080", "address to listen on")
	workers := fs.Int("workers", 1, "number of reactor workers (goroutines, one per OS thread)")
	logPath := fs.String("log-file", "-", "log file path, or - for stderr")
	pidFile := fs.String("pid-file", "", "pid file path for the reload upgrader")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	loader, err := config.New(fs)
	if err != nil {
		return err
	}
	cfg, err := loader.Config()
	if err != nil {
		return err
	}

	logger, err := ioreactor.NewLogger(*logPath, ioreactor.LevelNotice)
	if err != nil {
		return err
	}

	upg, err := ioreactor.NewUpgrader(*pidFile)
	if err != nil {
		return err
	}
	defer upg.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	flags := ioreactor.InstallSignalHandlers(ctx, upg)

	if err := loader.WatchAndReload(func(newCfg ioreactor.Config, err error) {
		if err != nil {
			logger.Log(ioreactor.LevelErr, "config reload failed", map[string]interface{}{"error": err.Error()})
			return
		}
		logger.Log(ioreactor.LevelNotice, "config reloaded", nil)
		_ = newCfg // applied to new reactors on next restart; hot field-level
		// swap onto a running Reactor is out of scope for the core's
		// per-worker Config (spec.md §6 names Config as a startup record).
	}); err != nil {
		logger.Log(ioreactor.LevelWarn, "config hot reload unavailable", map[string]interface{}{"error": err.Error()})
	}
	defer loader.Close()

	if err := upg.Ready(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		workerID := fmt.Sprintf("%d", i)
		r, err := ioreactor.New(cfg, logger, ioreactor.WithWorkerID(workerID))
		if err != nil {
			return err
		}
		r.SetSignalFlags(flags)

		l := ioreactor.CreateListening(ioreactor.ListenerConfig{
			Addr:        *addr,
			ReusePort:   *workers > 1,
			MultiAccept: 64,
		})
		if err := r.AddListener(l, echoOnAccept(r)); err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if err := r.Serve(ctx); err != nil {
				logger.Log(ioreactor.LevelAlert, "reactor exited", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	<-upg.Exit()
	cancel()
	wg.Wait()
	return nil
}
