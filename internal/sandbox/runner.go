package sandbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Execution is what one code run produced. A nonzero ExitCode is not an
// error at this layer; the code ran and its failure output is the result.
type Execution struct {
	Stdout   string
	Stderr   string
	Result   json.RawMessage // value of the `result` variable, if the code set one
	State    State           // full post-run state reported by the interpreter
	ExitCode int
	Usage    Usage
}

// Usage describes what one run cost.
type Usage struct {
	Duration     time.Duration
	CodeLength   int
	StdoutLength int
	StderrLength int
}

// Runner executes one piece of code against an explicit input state.
type Runner interface {
	Run(ctx context.Context, code string, state State) (Execution, error)
}

// Session threads state across sequential runs. Concurrent calls are
// serialized so each run sees the state left by the previous one.
type Session struct {
	mu     sync.Mutex
	runner Runner
	state  State
}

func NewSession(r Runner) *Session {
	return &Session{runner: r, state: State{}}
}

// Run executes code against the session state and folds the run's output
// state back in. Keys the run reports replace keys of the same name; keys it
// does not mention are kept. A run that fails at the transport level (the
// interpreter never ran) leaves the session state untouched.
func (s *Session) Run(ctx context.Context, code string) (Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, err := s.runner.Run(ctx, code, s.state.Clone())
	if err != nil {
		return ex, err
	}
	if len(ex.State) > 0 {
		s.state = s.state.Merge(ex.State)
	}
	return ex, nil
}

// State returns a copy of the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}
