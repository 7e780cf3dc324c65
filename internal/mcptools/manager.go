package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentloop/agentloop/internal/llm"
)

// ServerConfig describes one stdio MCP server.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	// Limits applies to every tool imported from this server.
	Limits llm.Limits
}

// ToolSpec describes a tool exported by a running server.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// Client wraps one MCP server connection.
type Client struct {
	name   string
	config ServerConfig

	mu      sync.RWMutex
	client  *mcp.Client
	session *mcp.ClientSession
	tools   []ToolSpec
	running bool
	lastErr error

	// transport overrides the stdio transport in tests.
	transport mcp.Transport
}

// NewClient creates a client for the given server configuration.
func NewClient(name string, config ServerConfig) *Client {
	return &Client{name: name, config: config}
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// Start connects to the server and fetches its tool list.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	transport := c.transport
	if transport == nil {
		if c.config.Command == "" {
			c.lastErr = fmt.Errorf("mcp server %s: command is required", c.name)
			return c.lastErr
		}
		transport = c.createStdioTransport(ctx)
	}

	c.client = mcp.NewClient(&mcp.Implementation{
		Name:    "agentloop",
		Version: "1.0.0",
	}, nil)

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		c.lastErr = fmt.Errorf("connect to MCP server %s: %w", c.name, err)
		return c.lastErr
	}
	c.session = session

	if err := c.refreshTools(ctx); err != nil {
		c.session.Close()
		c.session = nil
		c.lastErr = fmt.Errorf("list tools from %s: %w", c.name, err)
		return c.lastErr
	}

	c.running = true
	c.lastErr = nil
	return nil
}

// Stop closes the server connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.running = false
	c.tools = nil
	return err
}

// IsRunning reports whether the client is connected.
func (c *Client) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Err returns the most recent start failure, if any.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Tools returns the tools the server advertised at start.
func (c *Client) Tools() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// createStdioTransport builds the subprocess transport. A configured env is
// layered over the parent environment; with no env configured the subprocess
// inherits everything as-is.
func (c *Client) createStdioTransport(ctx context.Context) mcp.Transport {
	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	c.tools = make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := make(map[string]interface{})
		if t.InputSchema != nil {
			if m, ok := t.InputSchema.(map[string]interface{}); ok {
				schema = m
			}
		}
		c.tools = append(c.tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}
	return nil
}

// CallTool invokes a tool on the server and flattens the response content.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	session := c.session
	running := c.running
	c.mu.RUnlock()

	if !running || session == nil {
		return "", fmt.Errorf("MCP server %s is not running", c.name)
	}

	var arguments map[string]interface{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, formatContent(result.Content))
	}
	return formatContent(result.Content), nil
}

// formatContent converts MCP content blocks to a string.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			sb.WriteString(v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				sb.Write(data)
			}
		}
	}
	return sb.String()
}

// Manager owns the configured MCP servers for one run.
type Manager struct {
	clients []*Client // sorted by name for stable listing and registration
}

// NewManager builds clients for every configured server.
func NewManager(servers map[string]ServerConfig) *Manager {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	m := &Manager{}
	for _, name := range names {
		m.clients = append(m.clients, NewClient(name, servers[name]))
	}
	return m
}

// Start connects every configured server. Servers that fail come back as a
// joined error; the ones that started stay usable.
func (m *Manager) Start(ctx context.Context) error {
	var errs []error
	for _, c := range m.clients {
		if err := c.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops every running server.
func (m *Manager) Close() error {
	var errs []error
	for _, c := range m.clients {
		if err := c.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServerInfo is one server's listing for the CLI.
type ServerInfo struct {
	Name    string
	Running bool
	Err     error
	Tools   []ToolSpec
}

// List reports every configured server with its tools, sorted by name.
func (m *Manager) List() []ServerInfo {
	out := make([]ServerInfo, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, ServerInfo{
			Name:    c.Name(),
			Running: c.IsRunning(),
			Err:     c.Err(),
			Tools:   c.Tools(),
		})
	}
	return out
}
