package teaneko

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/engine"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

// LoggingStage logs the duration and outcome of every attempt.
func LoggingStage(logger *slog.Logger, priority int) Stage {
	return engine.LoggingStage(logger, priority)
}

// TimeoutStage bounds each attempt with a deadline; timed out attempts are
// retryable.
func TimeoutStage(d time.Duration, priority int) Stage {
	return engine.TimeoutStage(d, priority)
}

// RetryWhenStage marks errors accepted by pred as retryable and leaves the
// rest untouched.
func RetryWhenStage(name string, priority int, pred func(error) bool) Stage {
	return api.NewStage(name, priority, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		res, err := chain.Next(ctx)
		if err != nil && !api.IsFatal(err) && pred(err) {
			return res, api.Retryable(err)
		}
		return res, err
	})
}

// FatalWhenStage marks errors accepted by pred as fatal.
func FatalWhenStage(name string, priority int, pred func(error) bool) Stage {
	return api.NewStage(name, priority, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		res, err := chain.Next(ctx)
		if err != nil && pred(err) {
			return res, api.Fatal(err)
		}
		return res, err
	})
}
