package script

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrClosed is returned by a processor that has been disposed.
var ErrClosed = errors.New("script processor is closed")

// ErrorType categorizes script failures
type ErrorType string

const (
	ErrorTypeSyntax  ErrorType = "syntax_error"
	ErrorTypeRuntime ErrorType = "runtime_error"
	ErrorTypeTimeout ErrorType = "timeout_error"
	ErrorTypeSetup   ErrorType = "setup_error"
)

// ScriptError is a structured JavaScript failure.
type ScriptError struct {
	Type    ErrorType
	Script  string
	Message string
	Stack   string
	Err     error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s: [%s] %s", e.Script, e.Type, e.Message)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// wrapError classifies err raised while running script.
func wrapError(script string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &ScriptError{Type: ErrorTypeTimeout, Script: script, Message: "execution interrupted", Err: err}
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &ScriptError{
			Type:    ErrorTypeRuntime,
			Script:  script,
			Message: exc.Error(),
			Stack:   exc.String(),
			Err:     err,
		}
	}
	return &ScriptError{Type: ErrorTypeSetup, Script: script, Message: err.Error(), Err: err}
}
