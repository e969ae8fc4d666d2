package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

//
// Helpers
//

// testObserver is a simple Observer implementation used to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	submitted int
	attempts  int
	retries   int
	finished  int

	lastInfo     TaskInfo
	lastErr      error
	lastDuration time.Duration
	lastNext     time.Time
}

func (o *testObserver) OnTaskSubmitted(ctx context.Context, info TaskInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitted++
	o.lastInfo = info
}

func (o *testObserver) OnTaskAttempt(ctx context.Context, info TaskInfo, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	o.lastInfo = info
	o.lastErr = err
	o.lastDuration = d
}

func (o *testObserver) OnTaskRetry(ctx context.Context, info TaskInfo, err error, next time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
	o.lastErr = err
	o.lastNext = next
}

func (o *testObserver) OnTaskFinished(ctx context.Context, info TaskInfo, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
	o.lastInfo = info
	o.lastErr = err
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(name string) slog.Handler       { return h }

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func newTestInfo() TaskInfo {
	return TaskInfo{
		ID:         "task-123",
		Name:       "send-message",
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}
}

//
// CompositeObserver
//

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	o := NewCompositeObserver()
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NewCompositeObserver() to return NoopObserver, got %T", o)
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	single := &testObserver{}
	o := NewCompositeObserver(single, nil)

	if got, ok := o.(*testObserver); !ok || got != single {
		t.Fatalf("expected the single non-nil observer to be returned, got %T (%p)", o, o)
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	ctx := context.Background()
	info := newTestInfo()

	o1 := &testObserver{}
	o2 := &testObserver{}
	co, ok := NewCompositeObserver(o1, o2).(*CompositeObserver)
	if !ok {
		t.Fatalf("expected *CompositeObserver")
	}

	err := errors.New("attempt failed")
	next := time.Now().Add(time.Second)
	co.OnTaskSubmitted(ctx, info)
	co.OnTaskAttempt(ctx, info, err, 2*time.Second)
	co.OnTaskRetry(ctx, info, err, next)
	co.OnTaskFinished(ctx, info, err)

	for i, o := range []*testObserver{o1, o2} {
		if o.submitted != 1 || o.attempts != 1 || o.retries != 1 || o.finished != 1 {
			t.Fatalf("observer %d did not receive all calls: %+v", i+1, o)
		}
		if o.lastInfo.ID != info.ID || o.lastErr != err {
			t.Fatalf("observer %d payload mismatch", i+1)
		}
		if o.lastDuration != 2*time.Second || !o.lastNext.Equal(next) {
			t.Fatalf("observer %d timing mismatch: %v %v", i+1, o.lastDuration, o.lastNext)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_OnTaskRetry_EmitsWarn(t *testing.T) {
	ctx := context.Background()
	info := newTestInfo()
	info.RetryCount = 2

	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnTaskRetry(ctx, info, errors.New("busy"), time.Now())

	if len(h.records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(h.records))
	}
	rec := h.records[0]
	if rec.Level != slog.LevelWarn {
		t.Fatalf("expected LevelWarn, got %v", rec.Level)
	}
	if rec.Message != "task_retry" {
		t.Fatalf("expected message task_retry, got %q", rec.Message)
	}
	attrs := attrsToMap(rec)
	if attrs["task"] != info.Name {
		t.Fatalf("expected task=%q, got %v", info.Name, attrs["task"])
	}
	if attrs["retry_count"] != int64(2) {
		t.Fatalf("expected retry_count=2, got %v", attrs["retry_count"])
	}
}

func TestLoggingObserver_OnTaskFinished_LevelDependsOnError(t *testing.T) {
	ctx := context.Background()
	info := newTestInfo()

	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnTaskFinished(ctx, info, nil)
	o.OnTaskFinished(ctx, info, errors.New("boom"))

	if len(h.records) != 2 {
		t.Fatalf("expected 2 log records, got %d", len(h.records))
	}
	if h.records[0].Level != slog.LevelDebug {
		t.Fatalf("expected success record LevelDebug, got %v", h.records[0].Level)
	}
	if h.records[1].Level != slog.LevelError {
		t.Fatalf("expected failure record LevelError, got %v", h.records[1].Level)
	}
	if attrsToMap(h.records[1])["error"] == nil {
		t.Fatalf("expected error attribute on failure record, got nil")
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_CountersAndSnapshot(t *testing.T) {
	var m BasicMetrics

	ctx := context.Background()
	info := newTestInfo()

	// 3 submitted, 1 succeeded, 1 failed -> pending = 1
	m.OnTaskSubmitted(ctx, info)
	m.OnTaskSubmitted(ctx, info)
	m.OnTaskSubmitted(ctx, info)
	m.OnTaskRetry(ctx, info, errors.New("again"), time.Now())

	m.OnTaskFinished(ctx, info, nil)
	m.OnTaskFinished(ctx, info, errors.New("fail"))

	snap := m.Snapshot()

	if snap.Submitted != 3 || snap.Succeeded != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.Pending != 1 {
		t.Fatalf("Pending=%d, want 1", snap.Pending)
	}
	if snap.Retries != 1 {
		t.Fatalf("Retries=%d, want 1", snap.Retries)
	}
	if snap.AvgAttemptDuration != 0 {
		t.Fatalf("AvgAttemptDuration=%v, want 0", snap.AvgAttemptDuration)
	}
}

func TestBasicMetrics_AverageAttemptDuration(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()
	info := newTestInfo()

	m.OnTaskAttempt(ctx, info, nil, 1*time.Second)
	m.OnTaskAttempt(ctx, info, errors.New("fail"), 3*time.Second)

	snap := m.Snapshot()
	if snap.Attempts != 2 {
		t.Fatalf("Attempts=%d, want 2", snap.Attempts)
	}
	if snap.AvgAttemptDuration != 2*time.Second {
		t.Fatalf("AvgAttemptDuration=%v, want 2s", snap.AvgAttemptDuration)
	}
}
