package chain

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/processor"
)

// ErrInvalidTransition is returned when a lifecycle phase is called out of order.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is the lifecycle state of a chain.
type State int

const (
	StateCreated State = iota
	StateInitialised
	StateStarted
	StateStopped
	StateDisposed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialised:
		return "initialised"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// LifecycleError reports the member that failed a lifecycle phase.
type LifecycleError struct {
	// Chain is the display name of the chain owning the member
	Chain string
	// Phase that failed
	Phase processor.Phase
	// Index of the member in configured order
	Index int
	// Member is the display name of the failing member
	Member string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("chain %s: %s of member %d (%s) failed: %v", e.Chain, e.Phase, e.Index, e.Member, e.Cause)
}

// Unwrap returns the underlying error.
func (e *LifecycleError) Unwrap() error {
	return e.Cause
}

// State returns the current lifecycle state.
func (c *Chain) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Initialise initialises members in configured order, recursing into nested
// chains. The first failure aborts the phase.
func (c *Chain) Initialise(ctx context.Context) error {
	return c.transition(ctx, processor.PhaseInitialise, StateInitialised, StateCreated)
}

// Start starts members in configured order. A stopped chain may be started again.
func (c *Chain) Start(ctx context.Context) error {
	return c.transition(ctx, processor.PhaseStart, StateStarted, StateInitialised, StateStopped)
}

// Stop stops members in reverse order. The first failure aborts the phase.
func (c *Chain) Stop(ctx context.Context) error {
	return c.transition(ctx, processor.PhaseStop, StateStopped, StateStarted)
}

// Dispose disposes members in reverse order. Every member is disposed even if
// some fail; all failures are returned together.
func (c *Chain) Dispose(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStarted || c.state == StateDisposed {
		return c.invalid(processor.PhaseDispose)
	}

	var errs error
	for i := len(c.members) - 1; i >= 0; i-- {
		if err := processor.Apply(ctx, processor.PhaseDispose, c.members[i]); err != nil {
			lerr := c.memberError(processor.PhaseDispose, i, err)
			c.logger.Warn("member dispose failed", zap.Int("index", i), zap.Error(err))
			errs = multierr.Append(errs, lerr)
		}
	}
	c.state = StateDisposed
	return errs
}

func (c *Chain) transition(ctx context.Context, phase processor.Phase, to State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	allowed := false
	for _, s := range from {
		if c.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return c.invalid(phase)
	}

	reverse := phase == processor.PhaseStop
	for k := range c.members {
		i := k
		if reverse {
			i = len(c.members) - 1 - k
		}
		if err := processor.Apply(ctx, phase, c.members[i]); err != nil {
			c.logger.Error("member lifecycle failed",
				zap.String("phase", string(phase)),
				zap.Int("index", i),
				zap.Error(err))
			return c.memberError(phase, i, err)
		}
	}

	c.state = to
	if to == StateStarted {
		c.started = true
	}
	c.logger.Debug("chain lifecycle transition", zap.String("phase", string(phase)), zap.Stringer("state", to))
	return nil
}

func (c *Chain) invalid(phase processor.Phase) error {
	return fmt.Errorf("chain %s: cannot %s while %s: %w", c.Name(), phase, c.state, ErrInvalidTransition)
}

func (c *Chain) memberError(phase processor.Phase, index int, cause error) *LifecycleError {
	return &LifecycleError{
		Chain:  c.Name(),
		Phase:  phase,
		Index:  index,
		Member: processor.NameOf(c.members[index]),
		Cause:  cause,
	}
}

var (
	_ processor.Initialiser = (*Chain)(nil)
	_ processor.Starter     = (*Chain)(nil)
	_ processor.Stopper     = (*Chain)(nil)
	_ processor.Disposer    = (*Chain)(nil)
)
