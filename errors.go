package mcs

import (
	"errors"
	"fmt"
)

// Error codes carried by OperationError.
const (
	CodeMediaServerError = "MEDIA_SERVER_ERROR"
	CodeSessionState     = "SESSION_STATE_ERROR"
	CodeAdapterSelection = "ADAPTER_SELECTION_ERROR"
	CodeInvalidState     = "INVALID_STATE_ERROR"
)

var (
	ErrChannelClosed         = errors.New("rpc channel is closed")
	ErrChannelRequestTimeout = errors.New("rpc channel request timed out")
)

// OperationError is the normalized error shape every failed command resolves
// to. It is what the client connection observes in place of a result.
type OperationError struct {
	Type      string      `json:"type"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Details   string      `json:"details,omitempty"`
	Operation string      `json:"operation,omitempty"`
	Params    interface{} `json:"params,omitempty"`
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s [operation:%s, code:%s]", e.Message, e.Operation, e.Code)
}

// NormalizeError reshapes any failure surfaced by the controller or an adapter
// into an OperationError tagged with the originating operation and its params.
// An already normalized error is re-tagged, not wrapped twice.
func NormalizeError(operation string, params interface{}, err error) *OperationError {
	if err == nil {
		return nil
	}

	var operr *OperationError
	if errors.As(err, &operr) {
		if operr.Operation == "" {
			// tag a copy; the original may be shared across operations
			tagged := *operr
			tagged.Operation = operation
			tagged.Params = params
			return &tagged
		}
		return operr
	}

	code := CodeMediaServerError

	var stateErr *SessionStateError
	var selErr *AdapterSelectionError
	var invErr *InvalidStateError

	switch {
	case errors.As(err, &stateErr):
		code = CodeSessionState
	case errors.As(err, &selErr):
		code = CodeAdapterSelection
	case errors.As(err, &invErr):
		code = CodeInvalidState
	}

	return &OperationError{
		Type:      "error",
		Code:      code,
		Message:   err.Error(),
		Details:   fmt.Sprintf("%+v", err),
		Operation: operation,
		Params:    params,
	}
}

// SessionStateError reports an adapter failure during a media session state
// transition. The session status has already been forced back to STOPPED by
// the time this error is observed.
type SessionStateError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("session %s failed on %s: %s", e.SessionID, e.Op, e.Err)
}

func (e *SessionStateError) Unwrap() error {
	return e.Err
}

// AdapterSelectionError reports an operation attempted against an adapter name
// that no registered factory recognizes.
type AdapterSelectionError struct {
	Name string
}

func (e *AdapterSelectionError) Error() string {
	return fmt.Sprintf("no media adapter registered under name %q", e.Name)
}

// InvalidStateError reports an operation attempted in a state that does not
// permit it.
type InvalidStateError struct {
	message string
}

func NewInvalidStateError(format string, args ...interface{}) *InvalidStateError {
	return &InvalidStateError{message: fmt.Sprintf(format, args...)}
}

func (e *InvalidStateError) Error() string {
	return e.message
}
