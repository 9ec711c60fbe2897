package processor

import "context"

// Phase names a lifecycle transition.
type Phase string

const (
	PhaseInitialise Phase = "initialise"
	PhaseStart      Phase = "start"
	PhaseStop       Phase = "stop"
	PhaseDispose    Phase = "dispose"
)

// Initialiser is implemented by steps that need one-time setup.
type Initialiser interface {
	Initialise(ctx context.Context) error
}

// Starter is implemented by steps that acquire resources when started.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by steps that release resources when stopped.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Disposer is implemented by steps that need final cleanup.
type Disposer interface {
	Dispose(ctx context.Context) error
}

// lifecycleTarget looks through WithName wrappers.
func lifecycleTarget(v any) any {
	if p, ok := v.(Processor); ok {
		return Unwrap(p)
	}
	return v
}

// InitialiseIfNeeded calls Initialise when v implements Initialiser.
func InitialiseIfNeeded(ctx context.Context, v any) error {
	if i, ok := lifecycleTarget(v).(Initialiser); ok {
		return i.Initialise(ctx)
	}
	return nil
}

// StartIfNeeded calls Start when v implements Starter.
func StartIfNeeded(ctx context.Context, v any) error {
	if s, ok := lifecycleTarget(v).(Starter); ok {
		return s.Start(ctx)
	}
	return nil
}

// StopIfNeeded calls Stop when v implements Stopper.
func StopIfNeeded(ctx context.Context, v any) error {
	if s, ok := lifecycleTarget(v).(Stopper); ok {
		return s.Stop(ctx)
	}
	return nil
}

// DisposeIfNeeded calls Dispose when v implements Disposer.
func DisposeIfNeeded(ctx context.Context, v any) error {
	if d, ok := lifecycleTarget(v).(Disposer); ok {
		return d.Dispose(ctx)
	}
	return nil
}

// Apply runs the given phase on v if v supports it.
func Apply(ctx context.Context, phase Phase, v any) error {
	switch phase {
	case PhaseInitialise:
		return InitialiseIfNeeded(ctx, v)
	case PhaseStart:
		return StartIfNeeded(ctx, v)
	case PhaseStop:
		return StopIfNeeded(ctx, v)
	case PhaseDispose:
		return DisposeIfNeeded(ctx, v)
	}
	return nil
}
