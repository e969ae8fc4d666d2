package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (o *orderLog) stage(name string, priority int) api.Stage {
	return api.NewStage(name, priority, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		o.mu.Lock()
		o.names = append(o.names, name)
		o.mu.Unlock()
		return chain.Next(ctx)
	})
}

func okCallable(v any) api.Callable[any] {
	return func(ctx context.Context) (api.TaskResult[any], error) {
		return api.OK(v), nil
	}
}

func TestChain_DescendingPriorityStableTies(t *testing.T) {
	order := &orderLog{}
	reg := newStageRegistry()
	for _, s := range []api.Stage{
		order.stage("low", 1),
		order.stage("high", 10),
		order.stage("mid-a", 5),
		order.stage("mid-b", 5),
	} {
		require.NoError(t, reg.Register(s))
	}

	res, err := runChain(context.Background(), reg.Ordered(), 0, api.TaskInfo{}, okCallable("done"), slog.Default())
	require.NoError(t, err)
	require.Equal(t, "done", res.Value)
	require.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, order.names)
}

func TestChain_RegistryRejectsDuplicates(t *testing.T) {
	reg := newStageRegistry()
	require.NoError(t, reg.Register(api.NewStage("a", 0, nil)))
	require.ErrorIs(t, reg.Register(api.NewStage("a", 1, nil)), ErrDuplicateStage)
	require.Error(t, reg.Register(api.NewStage("", 1, nil)))
	require.Error(t, reg.Register(nil))
}

func TestChain_ShortCircuitSkipsCallable(t *testing.T) {
	var called atomic.Bool
	cached := api.NewStage("cache", 0, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		return api.OK[any]("cached"), nil
	})

	res, err := runChain(context.Background(), []api.Stage{cached}, 0, api.TaskInfo{},
		func(ctx context.Context) (api.TaskResult[any], error) {
			called.Store(true)
			return api.OK[any]("live"), nil
		}, slog.Default())

	require.NoError(t, err)
	require.Equal(t, "cached", res.Value)
	require.False(t, called.Load())
}

func TestChain_NextTwiceIsFatal(t *testing.T) {
	twice := api.NewStage("twice", 0, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		if _, err := chain.Next(ctx); err != nil {
			return api.NotOK[any](), err
		}
		return chain.Next(ctx)
	})

	_, err := runChain(context.Background(), []api.Stage{twice}, 0, api.TaskInfo{}, okCallable(1), slog.Default())
	require.ErrorIs(t, err, ErrNextCalledTwice)
	require.True(t, api.IsFatal(err))
}

func TestChain_StagePanicIsFatal(t *testing.T) {
	bad := api.NewStage("bad", 0, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		panic("stage bug")
	})

	_, err := runChain(context.Background(), []api.Stage{bad}, 0, api.TaskInfo{}, okCallable(1), slog.Default())
	require.ErrorIs(t, err, ErrStagePanic)
	require.True(t, api.IsFatal(err))
}

func TestChain_TaskInfoIsVisible(t *testing.T) {
	var seen api.TaskInfo
	peek := api.NewStage("peek", 0, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		seen = chain.Task()
		return chain.Next(ctx)
	})
	info := api.TaskInfo{ID: "x", Name: "peek-task", RetryCount: 2, MaxRetries: 3}

	_, err := runChain(context.Background(), []api.Stage{peek}, 0, info, okCallable(1), slog.Default())
	require.NoError(t, err)
	require.Equal(t, info, seen)
	require.Equal(t, 3, seen.Attempt())
}

func TestChain_AbsorbedErrorIsLogged(t *testing.T) {
	h := &recordingHandler{}
	swallow := api.NewStage("swallow", 0, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		_, _ = chain.Next(ctx)
		return api.OK[any]("fallback"), nil
	})
	failing := func(ctx context.Context) (api.TaskResult[any], error) {
		return api.NotOK[any](), errors.New("lost")
	}

	res, err := runChain(context.Background(), []api.Stage{swallow}, 0, api.TaskInfo{}, failing, slog.New(h))
	require.NoError(t, err)
	require.Equal(t, "fallback", res.Value)
	require.Equal(t, 1, h.count("stage_absorbed_error"))
}

func TestActuator_StageReclassifiesError(t *testing.T) {
	contention := errors.New("database is locked")
	classify := api.NewStage("classify", 100, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		res, err := chain.Next(ctx)
		if errors.Is(err, contention) {
			return res, api.Retryable(err)
		}
		return res, err
	})
	a := newTestActuator(t, Config{Stages: []api.Stage{classify}})

	var calls atomic.Int32
	res, err := Submit(a, api.TaskConfig[string]{
		Callable: func(ctx context.Context) (api.TaskResult[string], error) {
			if calls.Add(1) < 3 {
				return api.NotOK[string](), contention
			}
			return api.OK("written"), nil
		},
		MaxRetries:    5,
		RetryInterval: time.Millisecond,
	}).Join()

	require.NoError(t, err)
	require.Equal(t, "written", res.Value)
	require.Equal(t, int32(3), calls.Load())
}

func TestTimeoutStage_DeadlineIsRetryable(t *testing.T) {
	a := newTestActuator(t, Config{Stages: []api.Stage{TimeoutStage(10*time.Millisecond, 50)}})

	var calls atomic.Int32
	_, err := Submit(a, api.TaskConfig[int]{
		Callable: func(ctx context.Context) (api.TaskResult[int], error) {
			calls.Add(1)
			<-ctx.Done()
			return api.NotOK[int](), ctx.Err()
		},
		MaxRetries:    1,
		RetryInterval: time.Millisecond,
	}).Join()

	require.ErrorIs(t, err, ErrAttemptTimeout)
	require.Equal(t, int32(2), calls.Load())
}

func TestLoggingStage_LogsEveryAttempt(t *testing.T) {
	h := &recordingHandler{}
	a := newTestActuator(t, Config{Stages: []api.Stage{LoggingStage(slog.New(h), 0)}})

	var calls atomic.Int32
	_, err := Submit(a, api.TaskConfig[int]{
		Callable:      failing(&calls, api.Retryable(errors.New("busy"))),
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	}).Join()

	require.Error(t, err)
	require.Equal(t, 3, h.count("stage_completed"))
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool { return true }

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(name string) slog.Handler       { return h }

func (h *recordingHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message == msg {
			n++
		}
	}
	return n
}
