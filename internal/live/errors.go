package live

import "errors"

var (
	// ErrValidation means required input was missing; re-prompt the user.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCode means no session answers to the code.
	ErrInvalidCode = errors.New("invalid session code")
	// ErrSessionEnded means the session exists but is over.
	ErrSessionEnded = errors.New("session has ended")
	// ErrConnectivity wraps transient store failures.
	ErrConnectivity = errors.New("connection problem")
	// ErrStaleSession means the session or this student's record vanished
	// server-side. Retrying will not help; join again.
	ErrStaleSession = errors.New("session is no longer available")

	ErrNotJoined         = errors.New("not joined to a session")
	ErrClientClosed      = errors.New("client is closed")
	ErrNavigationBlocked = errors.New("navigation blocked")
	ErrSessionPaused     = errors.New("session is paused")
)
