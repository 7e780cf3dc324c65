package llm

import (
	"errors"
	"testing"
)

func TestAccumulator_EmptyBufferMeansEmptyObject(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.start(0, "c1", "list_files")
	call := acc.finish(0)

	if call.ParseErr != nil {
		t.Fatalf("ParseErr = %v, want nil", call.ParseErr)
	}
	if string(call.Arguments) != "{}" {
		t.Errorf("Arguments = %s, want {}", call.Arguments)
	}
}

func TestAccumulator_WhitespaceOnlyBuffer(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.start(0, "c1", "list_files")
	acc.append(0, "  \n\t ")
	call := acc.finish(0)

	if call.ParseErr != nil {
		t.Fatalf("ParseErr = %v, want nil", call.ParseErr)
	}
	if string(call.Arguments) != "{}" {
		t.Errorf("Arguments = %s, want {}", call.Arguments)
	}
}

func TestAccumulator_MalformedArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"truncated object", `{"path": "main`},
		{"array", `[1, 2, 3]`},
		{"bare string", `"hello"`},
		{"number", `42`},
		{"null", `null`},
		{"trailing garbage", `{"a": 1} extra`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newToolCallAccumulator()
			acc.start(0, "c1", "tool")
			acc.append(0, tt.raw)
			call := acc.finish(0)

			if call.ParseErr == nil {
				t.Fatalf("ParseErr = nil, want INVALID_PARAMS for %q", tt.raw)
			}
			var terr *ToolError
			if !errors.As(call.ParseErr, &terr) || terr.Type != ErrInvalidParams {
				t.Errorf("ParseErr = %v, want INVALID_PARAMS", call.ParseErr)
			}
			// The raw buffer is preserved for diagnostics.
			if string(call.Arguments) != tt.raw {
				t.Errorf("Arguments = %s, want %s", call.Arguments, tt.raw)
			}
		})
	}
}

// Call() substitutes an empty object for arguments that never parsed, so the
// history entry replayed to the model is always well formed.
func TestPendingToolCall_CallScrubsMalformedArguments(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.start(0, "c1", "tool")
	acc.append(0, `{"broken`)
	pending := acc.finish(0)

	if pending.ParseErr == nil {
		t.Fatal("ParseErr = nil, want error")
	}
	call := pending.Call()
	if string(call.Arguments) != "{}" {
		t.Errorf("Call().Arguments = %s, want {}", call.Arguments)
	}
	if call.ID != "c1" || call.Name != "tool" {
		t.Errorf("Call() = %s/%s, want c1/tool", call.ID, call.Name)
	}
}

func TestAccumulator_IndependentBlocks(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.start(0, "a", "alpha")
	acc.start(1, "b", "beta")
	acc.append(0, `{"x": 1}`)
	acc.append(1, `{"y": 2}`)

	callB := acc.finish(1)
	callA := acc.finish(0)

	if string(callA.Arguments) != `{"x": 1}` {
		t.Errorf("callA.Arguments = %s", callA.Arguments)
	}
	if string(callB.Arguments) != `{"y": 2}` {
		t.Errorf("callB.Arguments = %s", callB.Arguments)
	}
}
