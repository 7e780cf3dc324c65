package llm

import (
	"context"
	"io"
)

// eventStream adapts a producer goroutine to the pull-based Stream interface.
// The producer writes decoded events to the channel and returns its terminal
// error (nil for a clean end of stream). Recv drains buffered events first,
// so a late producer error never clobbers events already emitted.
type eventStream struct {
	cancel context.CancelFunc
	events chan Event
	errc   chan error
	err    error
	done   bool
}

func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		cancel: cancel,
		events: make(chan Event, 16),
		errc:   make(chan error, 1),
	}
	go func() {
		defer close(s.events)
		s.errc <- produce(ctx, s.events)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		return nil, s.err
	}
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	err := <-s.errc
	if err == nil {
		err = io.EOF
	}
	s.done = true
	s.err = err
	return nil, err
}

// Close cancels the producer and drains whatever it had in flight so its
// goroutine can exit. Safe to call more than once.
func (s *eventStream) Close() error {
	s.cancel()
	for range s.events {
	}
	return nil
}

// emit sends one event unless the stream context is done. Producers use it so
// a consumer that stopped receiving does not strand them on a full channel.
func emit(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
