// Package controller runs control loops. Every controller (PID, input poller) implements
// Controller and is driven by one Runtime on its own goroutine: the runtime initializes it, calls
// Loop every sample rate, pauses it for hot reloads and always runs its shutdown hook once.
package controller

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/logging"
)

// Controller is a control loop driven by a Runtime.
type Controller interface {
	// InitializeVariables (re)loads configuration. It runs at startup and on every reload while
	// the loop is paused.
	InitializeVariables(ctx context.Context) error
	// Loop runs one wake of the controller. Loops must return promptly.
	Loop(ctx context.Context) error
}

// PreStopper is implemented by controllers that need to act when a stop is requested, before
// the loop exits.
type PreStopper interface {
	PreStop(ctx context.Context)
}

// Finalizer is implemented by controllers that return actuators to a safe state on exit.
type Finalizer interface {
	RunFinally(ctx context.Context)
}

// Defaults of a Runtime.
const (
	DefaultSampleRate   = time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultAttempts     = 3
	DefaultAttemptDelay = 10 * time.Second
)

// ErrAlreadyStarted is returned when Run is called twice on a Runtime.
var ErrAlreadyStarted = errors.New("controller runtime already started")

// Params configure a Runtime.
type Params struct {
	Name string
	// SampleRate is the wake interval of the loop, independent of any control period.
	SampleRate time.Duration
	// PollInterval is the poll period of the pause handshake.
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       logging.Logger
}

func (p *Params) setDefaults() {
	if p.SampleRate <= 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Logger == nil {
		p.Logger = logging.NewLogger(p.Name)
	}
}
