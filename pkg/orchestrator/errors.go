package orchestrator

import "fmt"

// SessionUnavailableError is fatal for the turn: the state store could not
// be reached for the load or the final commit. It is never raised for an
// unknown session id, which simply yields a fresh session.
type SessionUnavailableError struct {
	SessionID string
	Err       error
}

func (e *SessionUnavailableError) Error() string {
	return fmt.Sprintf("[Orchestrator:Session] session %s unavailable: %v", e.SessionID, e.Err)
}

func (e *SessionUnavailableError) Unwrap() error {
	return e.Err
}
