package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Handler executes one tool call. It receives the reassembled argument
// document and returns a JSON-serializable result. Handlers know nothing
// about the engine; failures come back as plain errors.
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Tool is a registered tool definition.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]interface{}
	Handler     Handler
	Limits      Limits
}

// ResetInterval is the cadence at which a tool's usage state zeroes.
type ResetInterval string

const (
	ResetNone    ResetInterval = "none"
	ResetHourly  ResetInterval = "hourly"
	ResetDaily   ResetInterval = "daily"
	ResetMonthly ResetInterval = "monthly"
)

func (r ResetInterval) duration() time.Duration {
	switch r {
	case ResetHourly:
		return time.Hour
	case ResetDaily:
		return 24 * time.Hour
	case ResetMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Limits bounds how often a tool may run. Zero values mean unlimited.
type Limits struct {
	MaxCalls       int           // total calls before rejection
	CallsPerMinute int           // cap within a rolling 60 second window
	Cooldown       time.Duration // minimum spacing after the last successful call
	CostPerCall    float64       // USD recorded per successful call
	Reset          ResetInterval // cadence at which usage state zeroes
}

// ToolUsage is a read-only snapshot of one tool's counters.
type ToolUsage struct {
	Total     int
	Succeeded int
	Failed    int
	CostUSD   float64
	LastCall  time.Time
	LastReset time.Time
}

// toolUsageState holds the live counters for one tool. Mutated only under
// its entry's lock.
type toolUsageState struct {
	total     int
	succeeded int
	failed    int
	costUSD   float64
	lastCall  time.Time
	window    []time.Time // successful call times, pruned to the trailing hour
	lastReset time.Time
}

// maybeReset zeroes the state when the tool's reset interval has elapsed.
// Resets are lazy: checked whenever the state is consulted, never on a timer.
func (st *toolUsageState) maybeReset(limits Limits, now time.Time) {
	d := limits.Reset.duration()
	if d == 0 || st.lastReset.IsZero() {
		return
	}
	if now.Sub(st.lastReset) >= d {
		*st = toolUsageState{lastReset: now}
	}
}

// guard evaluates the rate/quota rules in order: total cap, rolling-window
// cap, cooldown. Returns a LIMIT_EXCEEDED tool error on the first rule hit.
func (st *toolUsageState) guard(name string, limits Limits, now time.Time) *ToolError {
	if limits.MaxCalls > 0 && st.total >= limits.MaxCalls {
		return NewToolErrorf(ErrLimitExceeded, "tool %s: total call limit reached (%d)", name, limits.MaxCalls)
	}
	if limits.CallsPerMinute > 0 {
		st.pruneWindow(now)
		recent := 0
		cutoff := now.Add(-time.Minute)
		for _, t := range st.window {
			if t.After(cutoff) {
				recent++
			}
		}
		if recent >= limits.CallsPerMinute {
			return NewToolErrorf(ErrLimitExceeded, "tool %s: per-minute call limit reached (%d/min)", name, limits.CallsPerMinute)
		}
	}
	if limits.Cooldown > 0 && !st.lastCall.IsZero() {
		if elapsed := now.Sub(st.lastCall); elapsed < limits.Cooldown {
			return NewToolErrorf(ErrLimitExceeded, "tool %s: cooling down, %s remaining", name, (limits.Cooldown - elapsed).Round(time.Millisecond))
		}
	}
	return nil
}

func (st *toolUsageState) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := st.window[:0]
	for _, t := range st.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.window = kept
}

type registryEntry struct {
	mu       sync.Mutex
	def      Tool
	resolved *jsonschema.Resolved
	usage    toolUsageState
}

// Registry holds tool definitions and their usage counters. It is an explicit
// instance handed to the engine, never package-global state, so concurrent
// conversations can each carry their own. All methods are safe for concurrent
// use; usage mutation is serialized per tool so different tools never contend.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registryEntry
	order []string

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registryEntry),
		now:   time.Now,
	}
}

// Register inserts or replaces a tool definition. Replacement resets the
// tool's usage state. The schema is compiled here so a bad one surfaces at
// startup rather than mid-conversation.
func (r *Registry) Register(def Tool) error {
	if def.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if def.Handler == nil {
		return fmt.Errorf("register tool %s: nil handler", def.Name)
	}
	resolved, err := compileSchema(def.Schema)
	if err != nil {
		return fmt.Errorf("register tool %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &registryEntry{
		def:      def,
		resolved: resolved,
		usage:    toolUsageState{lastReset: r.now()},
	}
	return nil
}

// Unregister removes a tool. Returns false if it was not registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the definition for a name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return entry.def, true
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Specs returns the tool schemas advertised to the model every turn, in
// registration order.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].def
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Schema:      def.Schema,
		})
	}
	return specs
}

// Usage returns a snapshot of one tool's counters, applying any pending lazy
// reset first.
func (r *Registry) Usage(name string) (ToolUsage, bool) {
	entry := r.entry(name)
	if entry == nil {
		return ToolUsage{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.usage.maybeReset(entry.def.Limits, r.now())
	st := entry.usage
	return ToolUsage{
		Total:     st.total,
		Succeeded: st.succeeded,
		Failed:    st.failed,
		CostUSD:   st.costUSD,
		LastCall:  st.lastCall,
		LastReset: st.lastReset,
	}, true
}

func (r *Registry) entry(name string) *registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// admit applies the lazy reset then the guard for one dispatch attempt.
func (r *Registry) admit(name string) *ToolError {
	entry := r.entry(name)
	if entry == nil {
		return NewToolErrorf(ErrToolNotFound, "tool %s is not registered", name)
	}
	now := r.now()
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.usage.maybeReset(entry.def.Limits, now)
	return entry.usage.guard(name, entry.def.Limits, now)
}

// validate checks a call's argument document against the tool's compiled
// schema.
func (r *Registry) validate(name string, args json.RawMessage) error {
	entry := r.entry(name)
	if entry == nil {
		return NewToolErrorf(ErrToolNotFound, "tool %s is not registered", name)
	}
	if err := validateArgs(entry.resolved, args); err != nil {
		return NewToolErrorf(ErrInvalidParams, "tool %s: %v", name, err)
	}
	return nil
}

// recordSuccess updates counters after a handler completed cleanly.
func (r *Registry) recordSuccess(name string) {
	entry := r.entry(name)
	if entry == nil {
		return
	}
	now := r.now()
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.usage.total++
	entry.usage.succeeded++
	entry.usage.costUSD += entry.def.Limits.CostPerCall
	entry.usage.lastCall = now
	entry.usage.window = append(entry.usage.window, now)
	entry.usage.pruneWindow(now)
}

// recordFailure updates counters after a handler returned an error.
func (r *Registry) recordFailure(name string) {
	entry := r.entry(name)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.usage.total++
	entry.usage.failed++
}
