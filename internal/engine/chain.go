package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

var (
	// ErrNextCalledTwice is returned (as fatal) when a stage calls Next again.
	ErrNextCalledTwice = errors.New("stage called next more than once")

	// ErrStagePanic wraps panics recovered from stages and callables.
	ErrStagePanic = errors.New("stage panicked")
)

// link is the Chain handed to the stage at index pos. Calling Next runs the
// stage at pos+1, or the callable once every stage has been entered.
type link struct {
	stages   []api.Stage
	pos      int
	info     api.TaskInfo
	callable api.Callable[any]
	logger   *slog.Logger

	called   atomic.Bool
	innerErr error
}

func (l *link) Task() api.TaskInfo {
	return l.info
}

func (l *link) Next(ctx context.Context) (api.TaskResult[any], error) {
	if !l.called.CompareAndSwap(false, true) {
		return api.NotOK[any](), api.Fatal(ErrNextCalledTwice)
	}
	res, err := runChain(ctx, l.stages, l.pos+1, l.info, l.callable, l.logger)
	l.innerErr = err
	return res, err
}

// runChain runs stages[i:] around callable and returns the single outcome.
func runChain(
	ctx context.Context,
	stages []api.Stage,
	i int,
	info api.TaskInfo,
	callable api.Callable[any],
	logger *slog.Logger,
) (res api.TaskResult[any], err error) {
	if i >= len(stages) {
		defer recoverInto(&err, "callable")
		return callable(ctx)
	}

	stage := stages[i]
	l := &link{
		stages:   stages,
		pos:      i,
		info:     info,
		callable: callable,
		logger:   logger,
	}

	func() {
		defer recoverInto(&err, stage.Name())
		res, err = stage.Run(ctx, l)
	}()

	if err == nil && l.innerErr != nil {
		logger.Warn("stage_absorbed_error",
			slog.String("stage", stage.Name()),
			slog.String("task", info.Name),
			slog.String("task_id", info.ID),
			slog.Any("error", l.innerErr),
		)
	}
	return res, err
}

func recoverInto(err *error, where string) {
	if r := recover(); r != nil {
		*err = api.Fatal(fmt.Errorf("%w: %s: %v", ErrStagePanic, where, r))
	}
}
