package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestLocalRunnerStdout(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{}

	ex, err := r.Run(context.Background(), `print("hello")`, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ex.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", ex.Stdout, "hello\n")
	}
	if ex.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", ex.ExitCode)
	}
}

func TestLocalRunnerStateRoundTrip(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{}

	in := State{"count": json.RawMessage(`1`)}
	code := "state[\"count\"] = state[\"count\"] + 1\nstate[\"name\"] = \"agent\"\n"
	ex, err := r.Run(context.Background(), code, in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(ex.State["count"]) != "2" {
		t.Errorf("count = %s, want 2", ex.State["count"])
	}
	if string(ex.State["name"]) != `"agent"` {
		t.Errorf("name = %s, want %q", ex.State["name"], `"agent"`)
	}
}

func TestLocalRunnerResultValue(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{}

	ex, err := r.Run(context.Background(), `result = {"total": 5}`, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(ex.Result, &got); err != nil {
		t.Fatalf("decode result %s: %v", ex.Result, err)
	}
	if got.Total != 5 {
		t.Errorf("result.total = %d, want 5", got.Total)
	}
}

func TestLocalRunnerCodeFailure(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{}

	code := "state[\"pre\"] = 1\nraise ValueError(\"boom\")\n"
	ex, err := r.Run(context.Background(), code, nil)
	if err != nil {
		t.Fatalf("code failure should not be a transport error, got %v", err)
	}
	if ex.ExitCode == 0 {
		t.Error("ExitCode = 0, want nonzero for raised exception")
	}
	if !strings.Contains(ex.Stderr, "ValueError: boom") {
		t.Errorf("Stderr = %q, want traceback mentioning ValueError: boom", ex.Stderr)
	}
	if string(ex.State["pre"]) != "1" {
		t.Errorf("state before the raise should survive, got %v", ex.State)
	}
}

func TestLocalRunnerDropsNonSerializableValues(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{}

	code := "state[\"ok\"] = 1\nstate[\"fn\"] = lambda x: x\n"
	ex, err := r.Run(context.Background(), code, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(ex.State["ok"]) != "1" {
		t.Errorf("ok = %s, want 1", ex.State["ok"])
	}
	if _, found := ex.State["fn"]; found {
		t.Error("non-serializable value should be dropped from state")
	}
}

func TestLocalRunnerIgnoresAssignmentsPrintedToStdout(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{}

	ex, err := r.Run(context.Background(), `print("x = 42")`, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ex.Stdout != "x = 42\n" {
		t.Errorf("Stdout = %q", ex.Stdout)
	}
	if _, found := ex.State["x"]; found {
		t.Error("printed assignment must never become state")
	}
}

func TestLocalRunnerTimeout(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, "import time\ntime.sleep(10)\n", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestLocalRunnerMissingInterpreter(t *testing.T) {
	r := &LocalRunner{Interpreter: "agentloop-no-such-interpreter"}

	_, err := r.Run(context.Background(), "print(1)", nil)
	if err == nil || !strings.Contains(err.Error(), "start interpreter") {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestLocalRunnerUsage(t *testing.T) {
	requirePython(t)
	r := &LocalRunner{}

	code := `print("usage check")`
	ex, err := r.Run(context.Background(), code, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ex.Usage.CodeLength != len(code) {
		t.Errorf("CodeLength = %d, want %d", ex.Usage.CodeLength, len(code))
	}
	if ex.Usage.StdoutLength != len(ex.Stdout) {
		t.Errorf("StdoutLength = %d, want %d", ex.Usage.StdoutLength, len(ex.Stdout))
	}
	if ex.Usage.Duration <= 0 {
		t.Error("Duration should be positive")
	}
}
