package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

// ErrAttemptTimeout is the cause reported by TimeoutStage.
var ErrAttemptTimeout = errors.New("task attempt timed out")

// LoggingStage logs the duration and outcome of every attempt.
func LoggingStage(logger *slog.Logger, priority int) api.Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return api.NewStage("logging", priority, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		info := chain.Task()
		start := time.Now()
		res, err := chain.Next(ctx)

		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "stage_completed",
			slog.String("task", info.Name),
			slog.String("task_id", info.ID),
			slog.Int("attempt", info.Attempt()),
			slog.Bool("success", res.Success),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)
		return res, err
	})
}

// TimeoutStage bounds each attempt with a context deadline. The callable must
// honour ctx; an attempt that ends because of the deadline is retryable.
func TimeoutStage(d time.Duration, priority int) api.Stage {
	return api.NewStage("timeout", priority, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		if d <= 0 {
			return chain.Next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		res, err := chain.Next(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return res, api.Retryable(fmt.Errorf("%w after %s", ErrAttemptTimeout, d))
		}
		return res, err
	})
}
