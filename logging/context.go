package logging

import "context"

type debugOwnerKey struct{}

// WithDebugOwner returns a context for which CDebug* calls log regardless of the logger level.
// owner names the controller that asked for the trace, e.g. a PID with debug logging on calling
// into the shared output manager.
func WithDebugOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, debugOwnerKey{}, owner)
}

// IsDebugMode returns whether ctx has debug logging enabled.
func IsDebugMode(ctx context.Context) bool {
	return DebugOwner(ctx) != ""
}

// DebugOwner returns the owner passed to WithDebugOwner.
func DebugOwner(ctx context.Context) string {
	owner, _ := ctx.Value(debugOwnerKey{}).(string)
	return owner
}
