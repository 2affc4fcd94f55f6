package errclass

import "fmt"

// Error is a stable, machine-readable error class.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// All stable error classes.
var (
	ErrConfigInvalid = &Error{Code: "E_CONFIG_INVALID"}
	ErrNameInvalid   = &Error{Code: "E_NAME_INVALID"}
	ErrLockHeld      = &Error{Code: "E_LOCK_HELD"}
	ErrLockStale     = &Error{Code: "E_LOCK_STALE"}
	ErrLaunchFailed  = &Error{Code: "E_LAUNCH_FAILED"}
	ErrOffline       = &Error{Code: "E_OFFLINE"}
	ErrStepTimeout   = &Error{Code: "E_STEP_TIMEOUT"}
	ErrHookFailed    = &Error{Code: "E_HOOK_FAILED"}
	ErrVerifyFailed  = &Error{Code: "E_VERIFY_FAILED"}
)
