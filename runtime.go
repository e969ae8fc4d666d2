package teaneko

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/engine"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/echo"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/event"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/sender"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/storage"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/worker"
)

// Runtime bundles a worker pool, an actuator, an event bus and an echo
// correlator, plus the storage collaborator when configured.
//
// Typical usage:
//
//	rt, err := teaneko.NewRuntime(ctx, teaneko.DefaultConfig())
//	if err != nil { ... }
//	defer rt.Close()
//
//	s := rt.Sender(transport)
//	pending, _ := s.Send(ctx, sender.Outbound{Action: "get_status"}, echo.Void)
//	res, err := pending.Join()
type Runtime struct {
	Config Config
	Logger *slog.Logger

	Pool       *worker.Pool
	Actuator   *Actuator
	Bus        *event.Bus
	Correlator *echo.Correlator
	Metrics    *BasicMetrics

	// Store is nil unless the configuration names a storage driver.
	Store *storage.Store

	closers []func() error

	mu     sync.Mutex
	closed bool
}

// Option customizes NewRuntime.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger    *slog.Logger
	observers []api.Observer
	stages    []api.Stage
}

// WithLogger overrides the logger built from the [log] section.
func WithLogger(l *slog.Logger) Option {
	return func(o *runtimeOptions) { o.logger = l }
}

// WithObserver adds an observer next to the runtime's LoggingObserver and
// BasicMetrics.
func WithObserver(obs Observer) Option {
	return func(o *runtimeOptions) { o.observers = append(o.observers, obs) }
}

// WithStage registers a stage on the actuator.
func WithStage(s Stage) Option {
	return func(o *runtimeOptions) { o.stages = append(o.stages, s) }
}

// NewRuntime wires and starts every component described by cfg.
func NewRuntime(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = cfg.Log.NewLogger(logWriter)
	}

	r := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Metrics: &api.BasicMetrics{},
	}

	r.Pool = worker.New(worker.Config{
		Workers:       cfg.Actuator.Workers,
		QueueCapacity: cfg.Actuator.QueueCapacity,
		Logger:        logger,
	})

	observers := append([]api.Observer{api.NewLoggingObserver(logger), r.Metrics}, o.observers...)

	a, err := engine.New(engine.Config{
		Pool:     r.Pool,
		Stages:   o.stages,
		Observer: api.NewCompositeObserver(observers...),
		Logger:   logger,
	})
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	r.Actuator = a

	r.Bus = event.NewBus(event.Config{Pool: r.Pool, Logger: logger})
	r.Correlator = echo.NewCorrelator(logger)
	r.Correlator.Attach(r.Bus, 0)

	if cfg.Storage.Driver != "" {
		store, closers, err := openStore(ctx, cfg.Storage, a, logger)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.Store = store
		r.closers = closers
	}

	return r, nil
}

// Sender returns a Sender over t using the [sender] defaults.
func (r *Runtime) Sender(t sender.Transport) *sender.Sender {
	return sender.New(r.Actuator, r.Correlator, t, sender.Config{
		ResponseTimeout: r.Config.Sender.ResponseTimeout,
		MaxRetries:      r.Config.Sender.MaxRetries,
		Logger:          r.Logger,
	})
}

// FakeTransport returns an in-process transport answering on the runtime
// bus after ignoring count transmissions per echo.
func (r *Runtime) FakeTransport(count int) *sender.FakeTransport {
	return &sender.FakeTransport{Bus: r.Bus, Count: count}
}

// Close stops the actuator, fails unfinished tasks, stops the pool and
// closes storage connections. It is safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	if r.Actuator != nil {
		r.Actuator.Stop()
	}
	r.Pool.StopWait()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
