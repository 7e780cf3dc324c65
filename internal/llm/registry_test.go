package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func echoHandler(ctx context.Context, args json.RawMessage) (interface{}, error) {
	return string(args), nil
}

// testClock pins a registry to a controllable time source.
type testClock struct {
	now time.Time
}

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry()
	r.now = func() time.Time { return clock.now }
	return r, clock
}

func mustRegister(t *testing.T, r *Registry, def Tool) {
	t.Helper()
	if def.Handler == nil {
		def.Handler = echoHandler
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register(%s) error = %v", def.Name, err)
	}
}

func wantToolError(t *testing.T, err *ToolError, errType ToolErrorType) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil, want %s", errType)
	}
	if err.Type != errType {
		t.Fatalf("got %v, want %s", err, errType)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Tool{Name: "", Handler: echoHandler}); err == nil {
		t.Error("Register with empty name should fail")
	}
	if err := r.Register(Tool{Name: "x"}); err == nil {
		t.Error("Register with nil handler should fail")
	}
}

func TestRegistry_SpecsInRegistrationOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "charlie"})
	mustRegister(t, r, Tool{Name: "alpha"})
	mustRegister(t, r, Tool{Name: "bravo"})

	specs := r.Specs()
	if len(specs) != 3 {
		t.Fatalf("got %d specs, want 3", len(specs))
	}
	want := []string{"charlie", "alpha", "bravo"}
	for i, spec := range specs {
		if spec.Name != want[i] {
			t.Errorf("specs[%d] = %s, want %s", i, spec.Name, want[i])
		}
	}
}

func TestRegistry_ReplaceResetsUsage(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "search"})
	r.recordSuccess("search")

	usage, ok := r.Usage("search")
	if !ok || usage.Total != 1 {
		t.Fatalf("Usage before replace = %+v", usage)
	}

	mustRegister(t, r, Tool{Name: "search", Description: "v2"})
	usage, ok = r.Usage("search")
	if !ok || usage.Total != 0 {
		t.Errorf("Usage after replace = %+v, want zeroed", usage)
	}
	if len(r.Names()) != 1 {
		t.Errorf("Names = %v, want one entry", r.Names())
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "a"})
	mustRegister(t, r, Tool{Name: "b"})

	if !r.Unregister("a") {
		t.Error("Unregister(a) = false, want true")
	}
	if r.Unregister("a") {
		t.Error("second Unregister(a) = true, want false")
	}
	if got := r.Names(); len(got) != 1 || got[0] != "b" {
		t.Errorf("Names = %v, want [b]", got)
	}
	wantToolError(t, r.admit("a"), ErrToolNotFound)
}

func TestRegistry_AdmitUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	wantToolError(t, r.admit("ghost"), ErrToolNotFound)
}

func TestRegistry_TotalCallCap(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "pricy", Limits: Limits{MaxCalls: 2}})

	for i := 0; i < 2; i++ {
		if terr := r.admit("pricy"); terr != nil {
			t.Fatalf("admit %d rejected: %v", i+1, terr)
		}
		r.recordSuccess("pricy")
	}

	wantToolError(t, r.admit("pricy"), ErrLimitExceeded)

	usage, _ := r.Usage("pricy")
	if usage.Total != 2 || usage.Succeeded != 2 {
		t.Errorf("Usage = %+v, want 2 total / 2 succeeded", usage)
	}
}

// Failed executions count toward the total cap too.
func TestRegistry_FailuresConsumeTotalCap(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "flaky", Limits: Limits{MaxCalls: 1}})

	if terr := r.admit("flaky"); terr != nil {
		t.Fatalf("admit rejected: %v", terr)
	}
	r.recordFailure("flaky")

	wantToolError(t, r.admit("flaky"), ErrLimitExceeded)
	usage, _ := r.Usage("flaky")
	if usage.Total != 1 || usage.Failed != 1 || usage.Succeeded != 0 {
		t.Errorf("Usage = %+v, want 1 total / 1 failed", usage)
	}
	if !usage.LastCall.IsZero() {
		t.Errorf("LastCall = %v, want zero (failures do not move it)", usage.LastCall)
	}
}

func TestRegistry_PerMinuteWindow(t *testing.T) {
	r, clock := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "search", Limits: Limits{CallsPerMinute: 3}})

	for i := 0; i < 3; i++ {
		if terr := r.admit("search"); terr != nil {
			t.Fatalf("admit %d rejected: %v", i+1, terr)
		}
		r.recordSuccess("search")
		clock.advance(time.Second)
	}

	wantToolError(t, r.admit("search"), ErrLimitExceeded)

	// 61 seconds after the first call the window has drained enough.
	clock.advance(58 * time.Second)
	if terr := r.admit("search"); terr != nil {
		t.Errorf("admit after window drain rejected: %v", terr)
	}
}

func TestRegistry_CooldownBoundary(t *testing.T) {
	r, clock := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "deploy", Limits: Limits{Cooldown: 5 * time.Second}})

	if terr := r.admit("deploy"); terr != nil {
		t.Fatalf("first admit rejected: %v", terr)
	}
	r.recordSuccess("deploy")

	clock.advance(4999 * time.Millisecond)
	wantToolError(t, r.admit("deploy"), ErrLimitExceeded)

	// Exactly at the cooldown edge the call is admitted.
	clock.advance(time.Millisecond)
	if terr := r.admit("deploy"); terr != nil {
		t.Errorf("admit at cooldown edge rejected: %v", terr)
	}
}

// The total cap is evaluated before the rolling window, so when both would
// trip the caller sees the total-cap rejection.
func TestRegistry_GuardOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "both", Limits: Limits{MaxCalls: 1, CallsPerMinute: 1}})
	if terr := r.admit("both"); terr != nil {
		t.Fatalf("admit rejected: %v", terr)
	}
	r.recordSuccess("both")

	terr := r.admit("both")
	wantToolError(t, terr, ErrLimitExceeded)
	if want := "total call limit"; !strings.Contains(terr.Message, want) {
		t.Errorf("message = %q, want it to mention %q", terr.Message, want)
	}
}

func TestRegistry_LazyReset(t *testing.T) {
	r, clock := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "hourly", Limits: Limits{MaxCalls: 1, Reset: ResetHourly}})

	if terr := r.admit("hourly"); terr != nil {
		t.Fatalf("admit rejected: %v", terr)
	}
	r.recordSuccess("hourly")
	wantToolError(t, r.admit("hourly"), ErrLimitExceeded)

	// Nothing happens at 59 minutes.
	clock.advance(59 * time.Minute)
	wantToolError(t, r.admit("hourly"), ErrLimitExceeded)

	// Crossing the interval zeroes the counters on the next access.
	clock.advance(2 * time.Minute)
	if terr := r.admit("hourly"); terr != nil {
		t.Errorf("admit after reset rejected: %v", terr)
	}
	usage, _ := r.Usage("hourly")
	if usage.Total != 0 {
		t.Errorf("Total after reset = %d, want 0", usage.Total)
	}
	if !usage.LastReset.Equal(clock.now) {
		t.Errorf("LastReset = %v, want %v", usage.LastReset, clock.now)
	}
}

func TestRegistry_ResetIntervalDurations(t *testing.T) {
	tests := []struct {
		interval ResetInterval
		want     time.Duration
	}{
		{ResetNone, 0},
		{ResetHourly, time.Hour},
		{ResetDaily, 24 * time.Hour},
		{ResetMonthly, 30 * 24 * time.Hour},
		{ResetInterval(""), 0},
	}
	for _, tt := range tests {
		if got := tt.interval.duration(); got != tt.want {
			t.Errorf("%q.duration() = %v, want %v", tt.interval, got, tt.want)
		}
	}
}

func TestRegistry_CostAccounting(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "paid", Limits: Limits{CostPerCall: 0.25}})

	r.recordSuccess("paid")
	r.recordSuccess("paid")
	r.recordFailure("paid")

	usage, _ := r.Usage("paid")
	if usage.CostUSD != 0.5 {
		t.Errorf("CostUSD = %v, want 0.5 (failures are free)", usage.CostUSD)
	}
}

func TestRegistry_ValidateArguments(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{
		Name: "read_file",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"path"},
		},
	})

	if err := r.validate("read_file", json.RawMessage(`{"path": "main.go"}`)); err != nil {
		t.Errorf("validate(good) = %v, want nil", err)
	}

	err := r.validate("read_file", json.RawMessage(`{"path": 42}`))
	var terr *ToolError
	if !errors.As(err, &terr) || terr.Type != ErrInvalidParams {
		t.Errorf("validate(wrong type) = %v, want INVALID_PARAMS", err)
	}

	err = r.validate("read_file", json.RawMessage(`{}`))
	if !errors.As(err, &terr) || terr.Type != ErrInvalidParams {
		t.Errorf("validate(missing required) = %v, want INVALID_PARAMS", err)
	}
}

// Guard rejections must leave the counters alone: only executions move them.
func TestRegistry_RejectionsDoNotCount(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, Tool{Name: "capped", Limits: Limits{MaxCalls: 1}})
	r.recordSuccess("capped")

	for i := 0; i < 5; i++ {
		wantToolError(t, r.admit("capped"), ErrLimitExceeded)
	}
	usage, _ := r.Usage("capped")
	if usage.Total != 1 {
		t.Errorf("Total = %d, want 1 (rejections are not calls)", usage.Total)
	}
}
