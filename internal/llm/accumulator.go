package llm

import (
	"encoding/json"
	"strings"
)

// toolCallAccumulator reassembles streamed tool-call arguments. Argument JSON
// arrives as arbitrary fragments whose boundaries need not align with JSON
// tokens, so nothing is interpreted until the block closes.
type toolCallAccumulator struct {
	open map[int]*pendingArgs
}

type pendingArgs struct {
	id   string
	name string
	buf  strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{open: make(map[int]*pendingArgs)}
}

func (a *toolCallAccumulator) start(index int, id, name string) {
	a.open[index] = &pendingArgs{id: id, name: name}
}

func (a *toolCallAccumulator) append(index int, fragment string) {
	if p, ok := a.open[index]; ok {
		p.buf.WriteString(fragment)
	}
}

// finish parses the accumulated buffer as a single JSON object. A buffer that
// fails to parse produces a call with ParseErr set instead of a fatal error,
// so the model can be told its arguments were malformed and try again.
func (a *toolCallAccumulator) finish(index int) PendingToolCall {
	p, ok := a.open[index]
	if !ok {
		return PendingToolCall{}
	}
	delete(a.open, index)

	call := PendingToolCall{ID: p.id, Name: p.name}
	raw := strings.TrimSpace(p.buf.String())
	if raw == "" {
		call.Arguments = json.RawMessage("{}")
		return call
	}
	call.Arguments = json.RawMessage(raw)
	var obj map[string]interface{}
	if err := json.Unmarshal(call.Arguments, &obj); err != nil {
		call.ParseErr = NewToolErrorf(ErrInvalidParams, "arguments did not parse as a JSON object: %v", err)
	} else if obj == nil {
		call.ParseErr = NewToolError(ErrInvalidParams, "arguments did not parse as a JSON object: got null")
	}
	return call
}
