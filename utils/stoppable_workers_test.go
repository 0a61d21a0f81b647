package utils

import (
	"context"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestStoppableWorkers(t *testing.T) {
	var ran atomic.Int32
	wait := func(ctx context.Context) {
		ran.Add(1)
		<-ctx.Done()
	}
	sw := NewStoppableWorkers(wait, wait)
	sw.AddWorkers(wait)
	sw.Stop()
	test.That(t, ran.Load(), test.ShouldEqual, 3)
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)

	sw.AddWorkers(wait)
	test.That(t, ran.Load(), test.ShouldEqual, 3)
}

func TestStoppableWorkersParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sw := NewStoppableWorkersWithContext(parent, func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()
	<-done
	sw.Stop()
}

func TestStoppableWorkersPanic(t *testing.T) {
	sw := NewStoppableWorkers(func(ctx context.Context) { panic("boom") })
	sw.Stop()
}
