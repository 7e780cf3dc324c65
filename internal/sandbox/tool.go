package sandbox

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agentloop/agentloop/internal/llm"
)

// toolResultLimit caps how much stdout or stderr goes back to the model.
const toolResultLimit = 8000

type runCodeArgs struct {
	Code string `json:"code"`
}

type runCodeResult struct {
	Stdout    string          `json:"stdout"`
	Stderr    string          `json:"stderr"`
	Result    json.RawMessage `json:"result,omitempty"`
	Success   bool            `json:"success"`
	StateKeys []string        `json:"state_keys,omitempty"`
}

// NewRunCodeTool exposes a session as a registrable tool. Code runs with a
// persistent `state` dict whose values survive into later calls; execution
// metrics are attached to the call's usage record.
func NewRunCodeTool(session *Session) llm.Tool {
	return llm.Tool{
		Name: "run_code",
		Description: "Execute Python code. Values assigned into the `state` dict persist across calls; " +
			"assign to `result` to return a structured value alongside stdout.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "Python source to execute",
				},
			},
			"required": []interface{}{"code"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in runCodeArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, llm.NewToolErrorf(llm.ErrInvalidParams, "run_code: %v", err)
			}
			if strings.TrimSpace(in.Code) == "" {
				return nil, llm.NewToolErrorf(llm.ErrInvalidParams, "run_code: code is required")
			}

			ex, err := session.Run(ctx, in.Code)
			if err != nil {
				return nil, err
			}

			llm.ReportToolUsage(ctx, "execution_seconds", ex.Usage.Duration.Seconds())
			llm.ReportToolUsage(ctx, "code_length", ex.Usage.CodeLength)
			llm.ReportToolUsage(ctx, "stdout_length", ex.Usage.StdoutLength)
			llm.ReportToolUsage(ctx, "stderr_length", ex.Usage.StderrLength)

			out := runCodeResult{
				Stdout:  clipForModel(ex.Stdout),
				Stderr:  clipForModel(ex.Stderr),
				Result:  ex.Result,
				Success: ex.ExitCode == 0,
			}
			for k := range ex.State {
				out.StateKeys = append(out.StateKeys, k)
			}
			sort.Strings(out.StateKeys)
			return out, nil
		},
	}
}

func clipForModel(s string) string {
	if len(s) <= toolResultLimit {
		return s
	}
	cut := toolResultLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n… output truncated"
}
