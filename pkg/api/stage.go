package api

import "context"

// Chain is the handle a stage receives. Next runs the rest of the chain,
// ending with the task's callable; it may be called at most once.
type Chain interface {
	Next(ctx context.Context) (TaskResult[any], error)
	Task() TaskInfo
}

// Stage intercepts every attempt of a task. Stages run in descending
// Priority; equal priorities keep registration order.
//
// A stage may skip Next to short-circuit, transform the result, or
// reclassify an error with Retryable / Fatal. It must not drop an error
// returned by Next without reclassifying it.
type Stage interface {
	Name() string
	Priority() int
	Run(ctx context.Context, chain Chain) (TaskResult[any], error)
}

// StageFunc adapts a function to the body of a Stage.
type StageFunc func(ctx context.Context, chain Chain) (TaskResult[any], error)

type funcStage struct {
	name     string
	priority int
	fn       StageFunc
}

// NewStage builds a Stage from a name, priority and function.
func NewStage(name string, priority int, fn StageFunc) Stage {
	return &funcStage{name: name, priority: priority, fn: fn}
}

func (s *funcStage) Name() string  { return s.name }
func (s *funcStage) Priority() int { return s.priority }

func (s *funcStage) Run(ctx context.Context, chain Chain) (TaskResult[any], error) {
	return s.fn(ctx, chain)
}
