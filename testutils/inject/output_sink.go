package inject

import (
	"context"
	"time"

	"go.mycodo.org/mycodo/output"
	"go.mycodo.org/mycodo/pid"
)

// OutputSink is an injected pid.OutputSink.
type OutputSink struct {
	pid.OutputSink
	OnFunc           func(ctx context.Context, id string, channel int, cmd output.Command, minOff time.Duration) error
	OffFunc          func(ctx context.Context, id string, channel int) error
	CapabilitiesFunc func(id string) ([]output.Capability, error)
}

// On calls the injected On or the real version.
func (s *OutputSink) On(ctx context.Context, id string, channel int, cmd output.Command, minOff time.Duration) error {
	if s.OnFunc == nil {
		return s.OutputSink.On(ctx, id, channel, cmd, minOff)
	}
	return s.OnFunc(ctx, id, channel, cmd, minOff)
}

// Off calls the injected Off or the real version.
func (s *OutputSink) Off(ctx context.Context, id string, channel int) error {
	if s.OffFunc == nil {
		return s.OutputSink.Off(ctx, id, channel)
	}
	return s.OffFunc(ctx, id, channel)
}

// Capabilities calls the injected Capabilities or the real version.
func (s *OutputSink) Capabilities(id string) ([]output.Capability, error) {
	if s.CapabilitiesFunc == nil {
		return s.OutputSink.Capabilities(id)
	}
	return s.CapabilitiesFunc(id)
}
