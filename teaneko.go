package teaneko

import (
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/config"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/engine"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/future"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	TaskInfo             = api.TaskInfo
	RetryStrategy        = api.RetryStrategy
	StateKind            = api.StateKind
	Stage                = api.Stage
	StageFunc            = api.StageFunc
	Chain                = api.Chain
	TaskError            = api.TaskError
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Actuator = engine.Actuator
	Config   = config.Config
)

// Generic aliases.

type (
	TaskConfig[T any] = api.TaskConfig[T]
	TaskResult[T any] = api.TaskResult[T]
	Callable[T any]   = api.Callable[T]
	Future[T any]     = future.Future[T]
)

const (
	RetryConditional = api.RetryConditional
	RetryAlways      = api.RetryAlways
	RetryNever       = api.RetryNever
)

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewStage             = api.NewStage
	Retryable            = api.Retryable
	Fatal                = api.Fatal
	IsRetryable          = api.IsRetryable
	IsFatal              = api.IsFatal

	LoadConfig    = config.Load
	ParseConfig   = config.Parse
	DefaultConfig = config.Default

	ErrActuatorStopped = engine.ErrActuatorStopped
)

// OK returns a successful TaskResult.
func OK[T any](v T) TaskResult[T] { return api.OK(v) }

// NotOK returns an unsuccessful TaskResult.
func NotOK[T any]() TaskResult[T] { return api.NotOK[T]() }

// Submit schedules cfg on the runtime's actuator.
func Submit[T any](r *Runtime, cfg TaskConfig[T]) *Future[TaskResult[T]] {
	return engine.Submit(r.Actuator, cfg)
}
