package mcptools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/agentloop/agentloop/internal/llm"
)

func TestManagerRegister(t *testing.T) {
	m := NewManager(map[string]ServerConfig{
		"mem": {Command: "unused", Limits: llm.Limits{MaxCalls: 7, CostPerCall: 0.25}},
	})
	m.clients[0].transport = startInMemoryServer(t)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	reg := llm.NewRegistry()
	n, err := m.Register(reg)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n != 2 {
		t.Fatalf("registered %d tools, want 2", n)
	}

	def, ok := reg.Lookup("mem__echo")
	if !ok {
		t.Fatalf("mem__echo not registered, have %v", reg.Names())
	}
	if !strings.HasPrefix(def.Description, "[mem] ") {
		t.Errorf("description = %q, want server prefix", def.Description)
	}
	if def.Limits.MaxCalls != 7 || def.Limits.CostPerCall != 0.25 {
		t.Errorf("limits = %+v, want server defaults applied", def.Limits)
	}

	value, err := def.Handler(context.Background(), json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if value != "echo:hi" {
		t.Errorf("handler result = %v, want echo:hi", value)
	}
}

func TestManagerRegisterSkipsStoppedServers(t *testing.T) {
	m := NewManager(map[string]ServerConfig{
		"down": {Command: "true"},
	})

	reg := llm.NewRegistry()
	n, err := m.Register(reg)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n != 0 {
		t.Errorf("registered %d tools from a stopped server, want 0", n)
	}
	if names := reg.Names(); len(names) != 0 {
		t.Errorf("registry should be empty, got %v", names)
	}
}

func TestManagerRegisterFailedToolPayload(t *testing.T) {
	m := NewManager(map[string]ServerConfig{
		"mem": {Command: "unused"},
	})
	m.clients[0].transport = startInMemoryServer(t)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	reg := llm.NewRegistry()
	if _, err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	def, ok := reg.Lookup("mem__fail")
	if !ok {
		t.Fatal("mem__fail not registered")
	}
	_, err := def.Handler(context.Background(), json.RawMessage(`{}`))
	if err == nil || !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("expected upstream error to surface, got %v", err)
	}
}
