package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

// ErrDuplicateStage is returned when a stage name is registered twice.
var ErrDuplicateStage = errors.New("stage already registered")

// stageRegistry holds the explicit list of stages wrapped around every task.
type stageRegistry struct {
	mu      sync.RWMutex
	byName  map[string]struct{}
	stages  []api.Stage
	ordered []api.Stage
}

func newStageRegistry() *stageRegistry {
	return &stageRegistry{
		byName: make(map[string]struct{}),
	}
}

func (r *stageRegistry) Register(s api.Stage) error {
	if s == nil {
		return errors.New("stage is nil")
	}
	if s.Name() == "" {
		return errors.New("stage name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[s.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateStage, s.Name())
	}
	r.byName[s.Name()] = struct{}{}
	r.stages = append(r.stages, s)

	ordered := make([]api.Stage, len(r.stages))
	copy(ordered, r.stages)
	// Stable sort keeps registration order for equal priorities.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	r.ordered = ordered
	return nil
}

// Ordered returns the stages, highest priority first. The slice is shared;
// callers must not modify it.
func (r *stageRegistry) Ordered() []api.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered
}
