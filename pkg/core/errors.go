package core

import "fmt"

// Error codes used by server lifecycle errors
const (
	CodeAlreadyStarted = "ALREADY_STARTED"
	CodeNotStarted     = "NOT_STARTED"
)

// Error is a coded lifecycle error
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrAlreadyStarted is returned by BaseServer.Start on a second call
var ErrAlreadyStarted = &Error{Code: CodeAlreadyStarted, Message: "server already started"}
