// Package config loads an ioreactor.Config from file, environment, and
// command-line flags via spf13/viper and spf13/pflag, and supports hot
// reload of the config file whenever fsnotify.Watcher reports it written,
// grounded on webitel-im-delivery-service's viper/pflag/fsnotify wiring.
package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joeycumines/go-ioreactor"
)

// Loader owns the viper instance backing a live ioreactor.Config, plus an
// optional fsnotify watch for hot reload.
type Loader struct {
	v       *viper.Viper
	watcher *fsnotify.Watcher
}

// BindFlags registers the command-line flags understood by ioreactord
// (spec.md §6's configuration record, expanded by config.go) onto fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.Int("worker_connections", 512, "fixed connection pool capacity")
	fs.String("use", "epoll", "readiness backend name")
	fs.Bool("multi_accept", false, "multi_accept setting (not read by the reactor)")
	fs.Bool("accept_mutex", false, "enable cross-worker accept-lock arbitration")
	fs.Duration("accept_mutex_delay", 500*time.Millisecond, "accept-mutex retry interval")
	fs.Int("events", 256, "readiness batch size")
	fs.Int("worker_aio_requests", 32, "outstanding AIO request bound per worker")
	fs.Duration("timer_resolution", 0, "timer_resolution setting (not read by the reactor)")
	fs.StringSlice("debug_connection", nil, "CIDRs for verbose per-connection debug logging")
	fs.Duration("timer_coalesce_window", 300*time.Millisecond, "timer re-arm hysteresis window")
	fs.String("config", "", "path to a config file (toml/yaml/json)")
}

// New builds a Loader from fs (already parsed) and the process environment,
// reading the file named by --config if set.
func New(fs *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix("IOREACTOR")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, ioreactor.WrapError("bind flags", err)
	}
	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, ioreactor.WrapError("read config file", err)
		}
	}
	return &Loader{v: v}, nil
}

// Config materialises the current values into an ioreactor.Config.
func (l *Loader) Config() (ioreactor.Config, error) {
	cfg := ioreactor.DefaultConfig()
	if err := l.v.Unmarshal(&cfg); err != nil {
		return cfg, ioreactor.WrapError("unmarshal config", err)
	}
	return cfg, nil
}

// WatchAndReload starts an fsnotify watch on the bound config file, invoking
// onReload with the freshly loaded Config each time it changes. This is a
// config-only reload distinct from the re-exec-based binary reload in
// signal.go. The caller is responsible for calling Close when done.
func (l *Loader) WatchAndReload(onReload func(ioreactor.Config, error)) error {
	path := l.v.ConfigFileUsed()
	if path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return ioreactor.WrapError("create fsnotify watcher", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return ioreactor.WrapError("watch config file", err)
	}
	l.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.v.ReadInConfig(); err != nil {
					onReload(ioreactor.Config{}, err)
					continue
				}
				cfg, err := l.Config()
				onReload(cfg, err)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the hot-reload watch, if running.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}
