package ioreactor

import "github.com/prometheus/client_golang/prometheus"

// reactorOptions holds optional Reactor construction parameters, adapted
// from the teacher's functional-options pattern (loopOptions/LoopOption).
type reactorOptions struct {
	workerID         string
	metricsRegistry  prometheus.Registerer
	acceptMutexPath  string
}

// ReactorOption configures a Reactor instance.
type ReactorOption interface {
	apply(*reactorOptions)
}

type reactorOptionFunc func(*reactorOptions)

func (f reactorOptionFunc) apply(o *reactorOptions) { f(o) }

// WithWorkerID labels this reactor's metrics, distinguishing
// one goroutine-per-worker reactor from another within the same process
// (spec.md §5's fork-to-goroutine substitution).
func WithWorkerID(id string) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) { o.workerID = id })
}

// WithMetricsRegistry registers the Reactor's Metrics on reg instead of
// leaving them unregistered.
func WithMetricsRegistry(reg prometheus.Registerer) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) { o.metricsRegistry = reg })
}

// WithAcceptMutexFile sets the lock file backing the cross-worker accept
// mutex (spec.md §4.6). Used only when Config.AcceptMutex is true; the
// default is /tmp/ioreactor.accept.lock.
func WithAcceptMutexFile(path string) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) { o.acceptMutexPath = path })
}

func resolveReactorOptions(opts []ReactorOption) *reactorOptions {
	o := &reactorOptions{workerID: "0", acceptMutexPath: "/tmp/ioreactor.accept.lock"}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(o)
		}
	}
	return o
}
