package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestEventStream_DeliversInOrder(t *testing.T) {
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		for i := 0; i < 3; i++ {
			if err := emit(ctx, events, BlockDeltaEvent{Index: i}); err != nil {
				return err
			}
		}
		return nil
	})
	defer s.Close()

	for i := 0; i < 3; i++ {
		ev, err := s.Recv()
		if err != nil {
			t.Fatalf("Recv %d error = %v", i, err)
		}
		delta, ok := ev.(BlockDeltaEvent)
		if !ok || delta.Index != i {
			t.Errorf("event %d = %+v", i, ev)
		}
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("Recv after drain = %v, want io.EOF", err)
	}
	// EOF is sticky.
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("second Recv after drain = %v, want io.EOF", err)
	}
}

// Events buffered before a producer failure are still delivered; the error
// arrives only after the buffer drains, and then sticks.
func TestEventStream_ErrorAfterBufferedEvents(t *testing.T) {
	wantErr := errors.New("connection reset")
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		if err := emit(ctx, events, PingEvent{}); err != nil {
			return err
		}
		return wantErr
	})
	defer s.Close()

	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv event error = %v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, wantErr) {
		t.Fatalf("Recv = %v, want %v", err, wantErr)
	}
	if _, err := s.Recv(); !errors.Is(err, wantErr) {
		t.Errorf("error not sticky: %v", err)
	}
}

func TestEventStream_CloseUnblocksProducer(t *testing.T) {
	producerDone := make(chan struct{})
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		defer close(producerDone)
		for i := 0; ; i++ {
			if err := emit(ctx, events, BlockDeltaEvent{Index: i}); err != nil {
				return err
			}
		}
	})

	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	select {
	case <-producerDone:
	case <-time.After(time.Second):
		t.Fatal("producer still running after Close")
	}
}

func TestEventStream_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	defer s.Close()

	cancel()
	if _, err := s.Recv(); !errors.Is(err, context.Canceled) {
		t.Errorf("Recv = %v, want context.Canceled", err)
	}
}
