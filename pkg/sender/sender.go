// Package sender transmits correlated requests over an asynchronous
// transport and turns the later response into an awaitable result.
//
// Send registers an echo, transmits once and schedules a watchdog task on
// the actuator. Each watchdog attempt fires one response timeout after the
// previous transmission; if no response has arrived it retransmits, so a
// request is transmitted at most MaxRetries+1 times. When the budget is
// spent the pending future completes with an unsuccessful result and the
// echo is unregistered. A response retires the watchdog right away.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/engine"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/echo"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/future"
)

// ErrAwaitingResponse is the retryable cause of a watchdog attempt that found
// no response yet.
var ErrAwaitingResponse = errors.New("awaiting response")

// Outbound is a request to transmit. An empty Echo is filled with a random
// token.
type Outbound struct {
	Action string
	Params any
	Echo   string
}

// Transport delivers outbound requests. Responses arrive separately as
// echo.ResponseEvents.
type Transport interface {
	Transmit(ctx context.Context, msg Outbound) error
}

// Config holds the defaults applied to every Send.
type Config struct {
	ResponseTimeout time.Duration
	MaxRetries      int
	Logger          *slog.Logger
}

// Option overrides a Config field for one Send.
type Option func(*Config)

// WithResponseTimeout sets how long to wait for a response per transmission.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) { c.ResponseTimeout = d }
}

// WithMaxRetries sets the number of retransmissions.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// Sender sends correlated requests.
type Sender struct {
	actuator   *engine.Actuator
	correlator *echo.Correlator
	transport  Transport
	cfg        Config
	logger     *slog.Logger
}

// New creates a Sender. A zero ResponseTimeout defaults to 5s.
func New(a *engine.Actuator, c *echo.Correlator, t Transport, cfg Config) *Sender {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		actuator:   a,
		correlator: c,
		transport:  t,
		cfg:        cfg,
		logger:     logger,
	}
}

// Send transmits msg and returns a future of the response, decoded with d.
// Registration and first-transmission errors are returned directly.
func (s *Sender) Send(ctx context.Context, msg Outbound, d echo.Descriptor, opts ...Option) (*future.Future[api.TaskResult[any]], error) {
	cfg := s.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	if msg.Echo == "" {
		msg.Echo = echo.NewToken()
	}

	pending, err := s.correlator.Register(msg.Echo, msg.Action, d)
	if err != nil {
		return nil, err
	}
	if err := s.transport.Transmit(ctx, msg); err != nil {
		s.correlator.Unregister(msg.Echo)
		return nil, fmt.Errorf("transmit %s: %w", msg.Action, err)
	}

	var attempts atomic.Int32
	id, watchdog := s.actuator.SubmitTask(api.TaskConfig[any]{
		Name: "send:" + msg.Action,
		Callable: func(ctx context.Context) (api.TaskResult[any], error) {
			if pending.IsDone() {
				return api.OK[any](nil), nil
			}
			// The last attempt only checks; nobody would wait for its reply.
			if int(attempts.Add(1)) > cfg.MaxRetries {
				return api.NotOK[any](), api.Retryable(ErrAwaitingResponse)
			}
			if err := s.transport.Transmit(ctx, msg); err != nil {
				s.logger.WarnContext(ctx, "send_retransmit_failed",
					slog.String("action", msg.Action),
					slog.String("echo", msg.Echo),
					slog.Any("error", err),
				)
			}
			return api.NotOK[any](), api.Retryable(ErrAwaitingResponse)
		},
		Delay:         cfg.ResponseTimeout,
		MaxRetries:    cfg.MaxRetries,
		RetryStrategy: api.RetryAlways,
		RetryInterval: cfg.ResponseTimeout,
	})
	if id != "" {
		pending.Notify(func() { s.actuator.Cancel(id, api.OK[any](nil)) })
	}

	watchdog.
		Exceptionally(func(err error) (api.TaskResult[any], error) {
			// A late response may still win the race; Complete is a no-op then.
			if s.correlator.Unregister(msg.Echo) {
				s.logger.WarnContext(ctx, "send_no_response",
					slog.String("action", msg.Action),
					slog.String("echo", msg.Echo),
					slog.Int("max_retries", cfg.MaxRetries),
					slog.Any("error", err),
				)
			}
			pending.Complete(api.NotOK[any]())
			return api.NotOK[any](), nil
		}).
		Finish()

	return pending, nil
}

// Send is the typed form of (*Sender).Send, decoding the response as JSON.
func Send[T any](ctx context.Context, s *Sender, msg Outbound, opts ...Option) (*future.Future[api.TaskResult[T]], error) {
	pending, err := s.Send(ctx, msg, echo.JSON[T](), opts...)
	if err != nil {
		return nil, err
	}
	return future.Then(pending, func(r api.TaskResult[any]) (api.TaskResult[T], error) {
		out := api.TaskResult[T]{Success: r.Success}
		if v, ok := r.Value.(T); ok {
			out.Value = v
		}
		return out, nil
	}), nil
}
