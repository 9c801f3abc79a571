package canvas

import (
	"errors"
	"fmt"
)

// connection lifecycle errors
var (
	ErrConnectInProgress = errors.New("a connect attempt is already in progress")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected")
)

// surfaced to error subscribers when the reconnect attempt cap is
// exhausted. terminal: no further automatic attempts are scheduled.
type ReconnectExhaustedError struct {
	World    string
	Attempts int
}

func (self *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("gave up reconnecting to %q after %d attempts", self.World, self.Attempts)
}

// surfaced to error subscribers for each edit the server rejected.
// the optimistic local cell is not reverted.
type EditRejectedError struct {
	EditId string
	Reason string
}

func (self *EditRejectedError) Error() string {
	return fmt.Sprintf("edit %s rejected: %s", self.EditId, self.Reason)
}

// a server-reported error. non-fatal to the connection. `UserMessage` is
// the display string: specific for recognized codes, generic otherwise.
type ServerError struct {
	Code        string
	Message     string
	UserMessage string
}

func (self *ServerError) Error() string {
	return self.UserMessage
}

const (
	serverErrorConnLimit    = "conn_limit"
	serverErrorNoPermission = "no_permission"
	serverErrorRateLimit    = "rate_limit"
	serverErrorWorldLocked  = "world_locked"
)

func newServerError(code string, message string) *ServerError {
	userMessage := ""
	switch code {
	case serverErrorConnLimit:
		userMessage = "too many connections from this address"
	case serverErrorNoPermission:
		userMessage = "you do not have permission to do that here"
	case serverErrorRateLimit:
		userMessage = "slow down: the server is rate limiting this session"
	case serverErrorWorldLocked:
		userMessage = "this world is locked"
	default:
		userMessage = fmt.Sprintf("server error: %s", message)
	}
	return &ServerError{
		Code:        code,
		Message:     message,
		UserMessage: userMessage,
	}
}
