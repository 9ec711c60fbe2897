package processor

import (
	"errors"
	"fmt"
)

// ProcessingError wraps a failure raised by a single processor call.
type ProcessingError struct {
	// Processor is the display name of the failing processor
	Processor string
	// Position is the index of the processor within the list that ran it
	Position int
	// CorrelationID of the event being processed
	CorrelationID string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processor %s at position %d failed: %v", e.Processor, e.Position, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// NewProcessingError wraps cause unless it already carries a ProcessingError,
// so a failure deep inside nested chains is attributed to the innermost step.
func NewProcessingError(processor string, position int, correlationID string, cause error) error {
	if cause == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(cause, &pe) {
		return cause
	}
	return &ProcessingError{
		Processor:     processor,
		Position:      position,
		CorrelationID: correlationID,
		Cause:         cause,
	}
}
