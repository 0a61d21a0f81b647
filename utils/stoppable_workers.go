// Package utils holds small concurrency helpers shared by the daemon packages.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers is a set of goroutines sharing one context, canceled by Stop.
type StoppableWorkers interface {
	AddWorkers(...func(context.Context))
	Stop()
	Context() context.Context
}

// The WaitGroup must not be copied, so the implementation is only handed out as the interface.
type stoppableWorkersImpl struct {
	mu         sync.Mutex
	ctx        context.Context
	cancelFunc func()
	workers    sync.WaitGroup
}

// NewStoppableWorkers starts each function in its own goroutine.
func NewStoppableWorkers(funcs ...func(context.Context)) StoppableWorkers {
	return NewStoppableWorkersWithContext(context.Background(), funcs...)
}

// NewStoppableWorkersWithContext is NewStoppableWorkers with a context derived from parent, so
// canceling parent stops the workers too.
func NewStoppableWorkersWithContext(parent context.Context, funcs ...func(context.Context)) StoppableWorkers {
	ctx, cancel := context.WithCancel(parent)
	sw := &stoppableWorkersImpl{ctx: ctx, cancelFunc: cancel}
	sw.AddWorkers(funcs...)
	return sw
}

// AddWorkers starts more goroutines. After Stop it does nothing.
func (sw *stoppableWorkersImpl) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.ctx.Err() != nil {
		return
	}
	sw.workers.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.workers.Done()
			f(sw.ctx)
		})
	}
}

// Stop cancels the context and waits for every goroutine to return.
func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.cancelFunc()
	sw.workers.Wait()
}

// Context returns the context handed to the workers.
func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.ctx
}
