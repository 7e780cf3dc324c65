package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentloop/agentloop/internal/llm"
)

// Register installs every tool from every running server into the registry.
// Tool names are prefixed with the server name to avoid collisions, and each
// tool inherits its server's limits. Returns how many tools were registered.
func (m *Manager) Register(reg *llm.Registry) (int, error) {
	registered := 0
	var errs []error
	for _, c := range m.clients {
		if !c.IsRunning() {
			continue
		}
		for _, spec := range c.Tools() {
			tool := llm.Tool{
				Name:        fmt.Sprintf("%s__%s", c.Name(), spec.Name),
				Description: fmt.Sprintf("[%s] %s", c.Name(), spec.Description),
				Schema:      spec.Schema,
				Limits:      c.config.Limits,
				Handler:     callHandler(c, spec.Name),
			}
			if err := reg.Register(tool); err != nil {
				errs = append(errs, fmt.Errorf("register %s: %w", tool.Name, err))
				continue
			}
			registered++
		}
	}
	return registered, errors.Join(errs...)
}

func callHandler(c *Client, tool string) llm.Handler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return c.CallTool(ctx, tool, args)
	}
}
