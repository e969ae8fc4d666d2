package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the actuator for logging and metrics.
//
// Implementations should be fast and non-blocking; they are invoked on the
// worker and timer goroutines that drive tasks.
type Observer interface {
	// OnTaskSubmitted is called once when a task is accepted, before its
	// first attempt is scheduled.
	OnTaskSubmitted(ctx context.Context, info TaskInfo)

	// OnTaskAttempt is called after every run of the stage chain, for both
	// successes and failures (err != nil).
	OnTaskAttempt(ctx context.Context, info TaskInfo, err error, duration time.Duration)

	// OnTaskRetry is called when a failed attempt is rescheduled for next.
	OnTaskRetry(ctx context.Context, info TaskInfo, err error, next time.Time)

	// OnTaskFinished is called exactly once when the task reaches Finished.
	OnTaskFinished(ctx context.Context, info TaskInfo, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTaskSubmitted(ctx context.Context, info TaskInfo) {}
func (NoopObserver) OnTaskAttempt(ctx context.Context, info TaskInfo, err error, d time.Duration) {
}
func (NoopObserver) OnTaskRetry(ctx context.Context, info TaskInfo, err error, next time.Time) {}
func (NoopObserver) OnTaskFinished(ctx context.Context, info TaskInfo, err error)              {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTaskSubmitted(ctx context.Context, info TaskInfo) {
	for _, o := range c.observers {
		o.OnTaskSubmitted(ctx, info)
	}
}

func (c *CompositeObserver) OnTaskAttempt(ctx context.Context, info TaskInfo, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnTaskAttempt(ctx, info, err, d)
	}
}

func (c *CompositeObserver) OnTaskRetry(ctx context.Context, info TaskInfo, err error, next time.Time) {
	for _, o := range c.observers {
		o.OnTaskRetry(ctx, info, err, next)
	}
}

func (c *CompositeObserver) OnTaskFinished(ctx context.Context, info TaskInfo, err error) {
	for _, o := range c.observers {
		o.OnTaskFinished(ctx, info, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs task lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTaskSubmitted(ctx context.Context, info TaskInfo) {
	o.Logger.DebugContext(ctx, "task_submitted",
		slog.String("task", info.Name),
		slog.String("task_id", info.ID),
		slog.Int("max_retries", info.MaxRetries),
	)
}

func (o *LoggingObserver) OnTaskAttempt(ctx context.Context, info TaskInfo, err error, d time.Duration) {
	o.Logger.DebugContext(ctx, "task_attempt",
		slog.String("task", info.Name),
		slog.String("task_id", info.ID),
		slog.Int("attempt", info.Attempt()),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskRetry(ctx context.Context, info TaskInfo, err error, next time.Time) {
	o.Logger.WarnContext(ctx, "task_retry",
		slog.String("task", info.Name),
		slog.String("task_id", info.ID),
		slog.Int("retry_count", info.RetryCount),
		slog.Time("next_attempt", next),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskFinished(ctx context.Context, info TaskInfo, err error) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "task_finished",
		slog.String("task", info.Name),
		slog.String("task_id", info.ID),
		slog.Int("retry_count", info.RetryCount),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate attempt durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	submitted        atomic.Int64
	succeeded        atomic.Int64
	failed           atomic.Int64
	retries          atomic.Int64
	attempts         atomic.Int64
	totalAttemptTime atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Pending   int64
	Retries   int64

	Attempts           int64
	AvgAttemptDuration time.Duration
}

func (m *BasicMetrics) OnTaskSubmitted(ctx context.Context, info TaskInfo) {
	m.submitted.Add(1)
}

func (m *BasicMetrics) OnTaskAttempt(ctx context.Context, info TaskInfo, err error, d time.Duration) {
	m.attempts.Add(1)
	m.totalAttemptTime.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnTaskRetry(ctx context.Context, info TaskInfo, err error, next time.Time) {
	m.retries.Add(1)
}

func (m *BasicMetrics) OnTaskFinished(ctx context.Context, info TaskInfo, err error) {
	if err != nil {
		m.failed.Add(1)
		return
	}
	m.succeeded.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	submitted := m.submitted.Load()
	succeeded := m.succeeded.Load()
	failed := m.failed.Load()
	attempts := m.attempts.Load()
	totalNs := m.totalAttemptTime.Load()

	var avg time.Duration
	if attempts > 0 {
		avg = time.Duration(totalNs / attempts)
	}

	return BasicMetricsSnapshot{
		Submitted:          submitted,
		Succeeded:          succeeded,
		Failed:             failed,
		Pending:            submitted - succeeded - failed,
		Retries:            m.retries.Load(),
		Attempts:           attempts,
		AvgAttemptDuration: avg,
	}
}
