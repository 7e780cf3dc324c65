package llm

import "fmt"

// ProtocolError reports a malformed event sequence from the provider: a delta
// or stop referencing an index that was never opened, or a second open for an
// index already open. Fatal for the turn.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Message
}

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// TransportError reports a stream-level failure: a dropped connection, a
// timeout, or an explicit in-band error event. Fatal for the turn.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream failed: %s: %v", e.Message, e.Err)
	}
	return "stream failed: " + e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RoundLimitError reports that the conversation loop hit its tool-round cap
// without the model producing a final answer.
type RoundLimitError struct {
	Rounds int
}

func (e *RoundLimitError) Error() string {
	return fmt.Sprintf("round limit exceeded (%d tool rounds)", e.Rounds)
}

// ToolErrorType classifies non-fatal per-call failures so callers and the
// model can react differently to each.
type ToolErrorType string

const (
	ErrToolNotFound    ToolErrorType = "TOOL_NOT_FOUND"
	ErrInvalidParams   ToolErrorType = "INVALID_PARAMS"
	ErrLimitExceeded   ToolErrorType = "LIMIT_EXCEEDED"
	ErrExecutionFailed ToolErrorType = "EXECUTION_FAILED"
	ErrTimeout         ToolErrorType = "TIMEOUT"
)

// ToolError carries a classified failure for one tool call. It never aborts
// the conversation; the dispatcher folds it into an error result entry.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}
