package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks user-correctable input problems. The bot stays where it was.
	ErrValidation = errors.New("validation error")
	// ErrInvalidTransition is returned for lifecycle commands the current status does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Fault is an engine-internal failure: corrupt params or state, or a recovered panic.
// A fault moves the bot to error.
type Fault struct {
	BotID     string
	Operation string
	Err       error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("engine fault in %s for bot %s: %v", f.Operation, f.BotID, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func transitionErr(from, cmd string) error {
	return fmt.Errorf("%w: cannot %s a bot that is %s", ErrInvalidTransition, cmd, from)
}
