package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxRounds bounds how many tool rounds a run may execute before it
// fails instead of looping forever.
const DefaultMaxRounds = 10

// Notifier delivers a best-effort out-of-band alert. Failures are logged and
// otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Hooks are optional observation points for callers that want to surface
// progress while a run is in flight.
type Hooks struct {
	// Text receives assistant text fragments in stream order.
	Text func(fragment string)
	// ToolStart fires when a call is handed to the dispatcher.
	ToolStart func(call ToolCall)
	// ToolEnd fires when a call's result entry is ready.
	ToolEnd func(call ToolCall, result ToolResult, took time.Duration)
}

// Options configure an Engine.
type Options struct {
	// MaxRounds caps tool rounds per run. Zero means DefaultMaxRounds.
	MaxRounds int
	// ToolTimeout bounds each handler invocation. Zero means no timeout.
	ToolTimeout time.Duration
	// StreamTimeout bounds one full request/stream turn. Zero means no timeout.
	StreamTimeout time.Duration
	// Price converts a turn's token usage to USD. Nil means cost 0.
	Price func(model string, u Usage) float64
	// Notifier, if set, is pinged when a run dies on the round cap.
	Notifier Notifier
	// Sink, if set, receives per-call and per-turn records.
	Sink Sink
	// Metadata is stamped onto every tool-call record.
	Metadata map[string]string
	Hooks    Hooks
	Logger   *slog.Logger
}

// Engine drives a conversation against one provider with one tool registry.
// It is single-flow per run: one outstanding request at a time, and every
// tool result for a turn is known before the next request forms.
type Engine struct {
	provider Provider
	registry *Registry
	opts     Options
	ledger   *Ledger
	logger   *slog.Logger
}

func NewEngine(provider Provider, registry *Registry, opts Options) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		provider: provider,
		registry: registry,
		opts:     opts,
		ledger:   NewLedger(),
		logger:   logger,
	}
}

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Usage returns the run-to-date ledger totals for this engine.
func (e *Engine) Usage() UsageStats {
	return e.ledger.Stats()
}

// Run sends the request and loops over tool rounds until the model produces
// a final answer, the round cap trips, or the stream fails. Tools advertised
// each turn come from the registry, not from req.Tools. The returned Result
// is populated even when err is non-nil, so callers can inspect how far the
// run got.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	messages := make([]Message, len(req.Messages))
	copy(messages, req.Messages)
	prompt := lastUserText(messages)

	res := &Result{State: StateSending}
	rounds := 0
	for {
		if err := ctx.Err(); err != nil {
			return e.fail(res, messages, rounds, &TransportError{Message: "run cancelled", Err: err})
		}

		res.State = StateSending
		turnReq := req
		turnReq.Messages = messages
		turnReq.Tools = e.registry.Specs()

		started := time.Now()
		res.State = StateStreaming
		turn, err := e.streamTurn(ctx, turnReq)
		if err != nil {
			return e.fail(res, messages, rounds, err)
		}

		cost := e.price(req.Model, turn.Usage)
		e.ledger.Record(turn.Usage, cost, started)
		res.Usage.Add(turn.Usage)
		res.CostUSD += cost
		res.StopReason = turn.StopReason
		e.recordTurn(TurnRecord{
			Model:      req.Model,
			Round:      rounds,
			StartedAt:  started,
			Latency:    time.Since(started),
			Usage:      turn.Usage,
			CostUSD:    cost,
			StopReason: turn.StopReason,
			Prompt:     prompt,
			Text:       turn.Text,
		})

		calls := normalizeCalls(turn.Calls)
		messages = append(messages, buildAssistantMessage(turn.Text, calls))

		if len(calls) == 0 {
			res.Text = turn.Text
			res.State = StateDone
			res.Messages = messages
			res.Rounds = rounds
			return res, nil
		}

		e.logger.Debug("tool round", "round", rounds+1, "calls", len(calls))
		if rounds >= e.opts.MaxRounds {
			err := &RoundLimitError{Rounds: rounds}
			e.notifyRoundLimit(ctx, err)
			return e.fail(res, messages, rounds, err)
		}
		rounds++

		res.State = StateToolsPending
		results, err := e.dispatchCalls(ctx, calls)
		if err != nil {
			return e.fail(res, messages, rounds, &TransportError{Message: "tool dispatch interrupted", Err: err})
		}
		messages = append(messages, results...)
	}
}

func (e *Engine) fail(res *Result, messages []Message, rounds int, err error) (*Result, error) {
	res.State = StateFailed
	res.Messages = messages
	res.Rounds = rounds
	return res, err
}

// streamTurn runs one request and folds its event stream into a TurnResult.
func (e *Engine) streamTurn(ctx context.Context, req Request) (*TurnResult, error) {
	if e.opts.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StreamTimeout)
		defer cancel()
	}

	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		return nil, &TransportError{Message: "open stream", Err: err}
	}
	defer stream.Close()

	d := newDemux(e.opts.Hooks.Text)
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &TransportError{Message: "receive event", Err: err}
		}
		if err := d.feed(ev); err != nil {
			return nil, err
		}
	}
	return d.result()
}

// dispatchCalls executes a turn's pending calls concurrently and returns one
// result message per call, in announcement order, so every correlation id
// pairs with its result regardless of which handler finished first. A non-nil
// error means the run was cancelled; completed calls keep their records but
// the result messages are discarded.
func (e *Engine) dispatchCalls(ctx context.Context, calls []PendingToolCall) ([]Message, error) {
	type indexed struct {
		index   int
		message Message
	}
	resultCh := make(chan indexed, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call PendingToolCall) {
			defer wg.Done()
			resultCh <- indexed{index: i, message: e.dispatchOne(ctx, call)}
		}(i, call)
	}
	wg.Wait()
	close(resultCh)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	messages := make([]Message, len(calls))
	for r := range resultCh {
		messages[r.index] = r.message
	}
	return messages, nil
}

// dispatchOne produces the result entry for a single call: guard first, then
// schema validation, then the handler. Every failure class folds into an
// error result entry rather than aborting the run.
func (e *Engine) dispatchOne(ctx context.Context, call PendingToolCall) Message {
	started := time.Now()
	histCall := call.Call()
	if e.opts.Hooks.ToolStart != nil {
		e.opts.Hooks.ToolStart(histCall)
	}

	var (
		content   string
		toolErr   *ToolError
		usageInfo map[string]interface{}
	)
	if call.ParseErr != nil {
		toolErr = asToolError(call.ParseErr)
	} else if terr := e.registry.admit(call.Name); terr != nil {
		toolErr = terr
	} else if err := e.registry.validate(call.Name, histCall.Arguments); err != nil {
		toolErr = asToolError(err)
	} else {
		content, usageInfo, toolErr = e.execute(ctx, call)
	}

	var result ToolResult
	var message Message
	if toolErr != nil {
		result = ToolResult{ID: histCall.ID, Name: call.Name, Content: toolErr.Error(), IsError: true}
		message = ToolErrorMessage(histCall.ID, call.Name, toolErr.Error())
	} else {
		result = ToolResult{ID: histCall.ID, Name: call.Name, Content: content}
		message = ToolResultMessage(histCall.ID, call.Name, content)
	}

	took := time.Since(started)
	e.recordToolCall(ToolCallRecord{
		CallID:    histCall.ID,
		Tool:      call.Name,
		StartedAt: started,
		Duration:  took,
		Success:   toolErr == nil,
		Error:     errText(toolErr),
		Metadata:  e.opts.Metadata,
		UsageInfo: usageInfo,
	})
	if e.opts.Hooks.ToolEnd != nil {
		e.opts.Hooks.ToolEnd(histCall, result, took)
	}
	return message
}

// execute runs the handler with the per-call context and classifies the
// outcome. Registry counters move here: success and handler failure both
// count, guard rejections and malformed arguments never reach this point.
func (e *Engine) execute(ctx context.Context, call PendingToolCall) (string, map[string]interface{}, *ToolError) {
	def, ok := e.registry.Lookup(call.Name)
	if !ok {
		return "", nil, NewToolErrorf(ErrToolNotFound, "tool %s is not registered", call.Name)
	}

	tctx := ContextWithCallID(ctx, call.ID)
	tctx, carrier := withUsageCarrier(tctx)
	if e.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(tctx, e.opts.ToolTimeout)
		defer cancel()
	}

	value, err := def.Handler(tctx, call.Arguments)
	usageInfo := carrier.snapshot()
	if err != nil {
		e.registry.recordFailure(call.Name)
		return "", usageInfo, classifyHandlerErr(call.Name, err)
	}

	content, err := stringifyResult(value)
	if err != nil {
		e.registry.recordFailure(call.Name)
		return "", usageInfo, NewToolErrorf(ErrExecutionFailed, "tool %s: %v", call.Name, err)
	}
	e.registry.recordSuccess(call.Name)
	return content, usageInfo, nil
}

func classifyHandlerErr(name string, err error) *ToolError {
	var terr *ToolError
	if errors.As(err, &terr) {
		return terr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewToolErrorf(ErrTimeout, "tool %s timed out", name)
	}
	return NewToolErrorf(ErrExecutionFailed, "tool %s: %v", name, err)
}

func asToolError(err error) *ToolError {
	var terr *ToolError
	if errors.As(err, &terr) {
		return terr
	}
	return NewToolError(ErrExecutionFailed, err.Error())
}

func errText(terr *ToolError) string {
	if terr == nil {
		return ""
	}
	return terr.Error()
}

// stringifyResult turns a handler's return value into result-entry content.
func stringifyResult(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.RawMessage:
		return string(t), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

// normalizeCalls gives every call a non-empty id and drops duplicates, so
// downstream pairing of calls to results stays one-to-one.
func normalizeCalls(calls []PendingToolCall) []PendingToolCall {
	out := make([]PendingToolCall, 0, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("toolcall-%d", i+1)
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// buildAssistantMessage converts a turn's output into the history entry the
// next request replays.
func buildAssistantMessage(text string, calls []PendingToolCall) Message {
	parts := make([]Part, 0, 1+len(calls))
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for _, c := range calls {
		call := c.Call()
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleUser {
			continue
		}
		for _, p := range messages[i].Parts {
			if p.Type == PartText && p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

func (e *Engine) price(model string, u Usage) float64 {
	if e.opts.Price == nil {
		return 0
	}
	return e.opts.Price(model, u)
}

func (e *Engine) recordTurn(rec TurnRecord) {
	if e.opts.Sink == nil {
		return
	}
	e.opts.Sink.RecordTurn(rec)
}

func (e *Engine) recordToolCall(rec ToolCallRecord) {
	if e.opts.Sink == nil {
		return
	}
	e.opts.Sink.RecordToolCall(rec)
}

// notifyRoundLimit makes a best-effort attempt to tell someone the run died
// on the round cap. The notification context is detached from the run's so a
// cancelled run can still get the alert out.
func (e *Engine) notifyRoundLimit(ctx context.Context, cause *RoundLimitError) {
	if e.opts.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.opts.Notifier.Notify(nctx, "agentloop run stopped", cause.Error()); err != nil {
		log.Printf("warning: round limit notification failed: %v", err)
	}
}
