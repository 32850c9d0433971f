package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/fastygo/iamcleaner/domain"
)

// Pipeline processes every principal of one account for one mode.
type Pipeline func(ctx context.Context, backend IdentityBackend) ([]domain.PrincipalResult, error)

// Dispatcher routes a mode to the pipeline registered for it.
type Dispatcher struct {
	pipelines map[domain.Mode]Pipeline
	mu        sync.RWMutex
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		pipelines: make(map[domain.Mode]Pipeline),
	}
}

func (d *Dispatcher) Register(mode domain.Mode, pipeline Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pipelines[mode] = pipeline
}

func (d *Dispatcher) Dispatch(ctx context.Context, mode domain.Mode, backend IdentityBackend) ([]domain.PrincipalResult, error) {
	d.mu.RLock()
	pipeline, ok := d.pipelines[mode]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %s not registered", domain.ErrInvalidMode, mode)
	}
	return pipeline(ctx, backend)
}
