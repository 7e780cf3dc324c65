package llm

// Event is one decoded wire event from a provider stream. Adapters translate
// each provider's native chunk format into this closed set at the transport
// boundary; everything downstream switches over it exhaustively.
type Event interface {
	isEvent()
}

// BlockKind identifies what a content block carries.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
	// BlockOther marks block kinds this engine does not interpret (for
	// example provider thinking blocks). Their deltas are tracked for
	// protocol accounting and discarded.
	BlockOther BlockKind = "other"
)

// MessageStartEvent opens a model turn and carries initial usage counts.
type MessageStartEvent struct {
	Usage Usage
}

// BlockStartEvent opens a content block at Index. For tool-use blocks ToolID
// and ToolName carry the correlation id and tool name announced by the model.
type BlockStartEvent struct {
	Index    int
	Kind     BlockKind
	ToolID   string
	ToolName string
}

// BlockDeltaEvent appends a fragment to the open block at Index. Exactly one
// of Text or PartialJSON is populated, matching the block's kind.
type BlockDeltaEvent struct {
	Index       int
	Text        string
	PartialJSON string
}

// BlockStopEvent closes the block at Index.
type BlockStopEvent struct {
	Index int
}

// MessageDeltaEvent carries incremental usage and, once known, the stop reason.
type MessageDeltaEvent struct {
	Usage      *Usage
	StopReason StopReason
}

// MessageStopEvent terminates the turn.
type MessageStopEvent struct{}

// ErrorEvent is an explicit in-band stream error. Fatal for the turn.
type ErrorEvent struct {
	Code    string
	Message string
}

// PingEvent is a keep-alive. Ignored.
type PingEvent struct{}

// UnknownEvent preserves an event type this engine does not recognize.
// Skipped, so newer providers stay forward-compatible.
type UnknownEvent struct {
	Type string
}

func (MessageStartEvent) isEvent() {}
func (BlockStartEvent) isEvent()   {}
func (BlockDeltaEvent) isEvent()   {}
func (BlockStopEvent) isEvent()    {}
func (MessageDeltaEvent) isEvent() {}
func (MessageStopEvent) isEvent()  {}
func (ErrorEvent) isEvent()        {}
func (PingEvent) isEvent()         {}
func (UnknownEvent) isEvent()      {}
