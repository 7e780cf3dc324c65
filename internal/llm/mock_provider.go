package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn describes one scripted provider response.
type MockTurn struct {
	// Text and Calls synthesize a normal turn: a text block followed by one
	// tool_use block per call, arguments split into ChunkSize fragments.
	Text  string
	Calls []ToolCall

	// Events, when set, is played back verbatim instead.
	Events []Event

	// Err fails the stream after Delay.
	Err error

	Usage     Usage
	Stop      StopReason
	Delay     time.Duration
	ChunkSize int
}

// MockProvider replays scripted turns and records every request it
// receives. It exists for tests; nothing in the engine treats it specially.
type MockProvider struct {
	name string

	mu       sync.Mutex
	turns    []MockTurn
	turn     int
	Requests []Request
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (p *MockProvider) Name() string {
	return p.name
}

// AddTextResponse queues a turn that streams only text.
func (p *MockProvider) AddTextResponse(text string) {
	p.AddTurn(MockTurn{Text: text})
}

// AddToolCall queues a turn that requests a single tool call. args is
// marshaled to JSON; a nil args sends an empty object.
func (p *MockProvider) AddToolCall(id, name string, args any) {
	raw := json.RawMessage("{}")
	if args != nil {
		if b, err := json.Marshal(args); err == nil {
			raw = b
		}
	}
	p.AddTurn(MockTurn{Calls: []ToolCall{{ID: id, Name: name, Arguments: raw}}})
}

// AddError queues a turn whose stream fails.
func (p *MockProvider) AddError(err error) {
	p.AddTurn(MockTurn{Err: err})
}

// AddEvents queues a turn that plays the given events verbatim.
func (p *MockProvider) AddEvents(events ...Event) {
	p.AddTurn(MockTurn{Events: events})
}

func (p *MockProvider) AddTurn(turn MockTurn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
}

// CurrentTurn returns the index of the next turn to play.
func (p *MockProvider) CurrentTurn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turn
}

// Reset clears recorded requests and rewinds to the first turn.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turn = 0
	p.Requests = nil
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	if p.turn >= len(p.turns) {
		n := len(p.Requests)
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider: no scripted turn for request %d", n+1)
	}
	turn := p.turns[p.turn]
	p.turn++
	p.Requests = append(p.Requests, req)
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-time.After(turn.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if turn.Err != nil {
			return turn.Err
		}
		if turn.Events != nil {
			for _, ev := range turn.Events {
				if err := emit(ctx, events, ev); err != nil {
					return err
				}
			}
			return nil
		}
		return playMockTurn(ctx, events, turn)
	}), nil
}

func playMockTurn(ctx context.Context, events chan<- Event, turn MockTurn) error {
	usage := turn.Usage
	if usage == (Usage{}) {
		usage = Usage{InputTokens: 10, OutputTokens: 5}
	}
	chunkSize := turn.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 10
	}

	if err := emit(ctx, events, MessageStartEvent{Usage: Usage{
		InputTokens:       usage.InputTokens,
		CachedInputTokens: usage.CachedInputTokens,
	}}); err != nil {
		return err
	}

	index := 0
	if turn.Text != "" {
		if err := emit(ctx, events, BlockStartEvent{Index: index, Kind: BlockText}); err != nil {
			return err
		}
		for _, chunk := range chunkText(turn.Text, chunkSize) {
			if err := emit(ctx, events, BlockDeltaEvent{Index: index, Text: chunk}); err != nil {
				return err
			}
		}
		if err := emit(ctx, events, BlockStopEvent{Index: index}); err != nil {
			return err
		}
		index++
	}

	for _, call := range turn.Calls {
		if err := emit(ctx, events, BlockStartEvent{
			Index:    index,
			Kind:     BlockToolUse,
			ToolID:   call.ID,
			ToolName: call.Name,
		}); err != nil {
			return err
		}
		for _, chunk := range chunkText(string(call.Arguments), chunkSize) {
			if err := emit(ctx, events, BlockDeltaEvent{Index: index, PartialJSON: chunk}); err != nil {
				return err
			}
		}
		if err := emit(ctx, events, BlockStopEvent{Index: index}); err != nil {
			return err
		}
		index++
	}

	stop := turn.Stop
	if stop == StopUnknown {
		if len(turn.Calls) > 0 {
			stop = StopToolUse
		} else {
			stop = StopEndTurn
		}
	}
	if err := emit(ctx, events, MessageDeltaEvent{
		Usage:      &Usage{OutputTokens: usage.OutputTokens},
		StopReason: stop,
	}); err != nil {
		return err
	}
	return emit(ctx, events, MessageStopEvent{})
}

// chunkText splits text into fixed-size rune chunks.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
