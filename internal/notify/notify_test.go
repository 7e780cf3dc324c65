package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// recordingNotifier captures every notification and optionally fails.
type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestMultiSendsToAllChannels(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	m := Multi{a, b}

	n := Notification{Title: "done", Message: "run finished", Style: StyleBanner}
	if err := m.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected each channel to receive once, got %d and %d", len(a.got), len(b.got))
	}
	if a.got[0] != n {
		t.Errorf("channel a got %+v, want %+v", a.got[0], n)
	}
}

func TestMultiAttemptsAllDespiteErrors(t *testing.T) {
	a := &recordingNotifier{err: errors.New("channel a down")}
	b := &recordingNotifier{}
	m := Multi{a, b}

	err := m.Send(context.Background(), Notification{Title: "x"})
	if err == nil {
		t.Fatal("expected error from failing channel")
	}
	if !strings.Contains(err.Error(), "channel a down") {
		t.Errorf("error %q does not mention the failing channel", err)
	}
	if len(b.got) != 1 {
		t.Errorf("healthy channel should still be attempted, got %d sends", len(b.got))
	}
}

func TestMultiJoinsAllErrors(t *testing.T) {
	a := &recordingNotifier{err: errors.New("channel a down")}
	b := &recordingNotifier{err: errors.New("channel b down")}

	err := Multi{a, b}.Send(context.Background(), Notification{Title: "x"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	for _, want := range []string{"channel a down", "channel b down"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestNopDropsNotifications(t *testing.T) {
	if err := (Nop{}).Send(context.Background(), Notification{Title: "x"}); err != nil {
		t.Fatalf("Nop.Send: %v", err)
	}
}

func TestForEngineMapsToAlert(t *testing.T) {
	rec := &recordingNotifier{}
	eng := ForEngine(rec)

	if err := eng.Notify(context.Background(), "agentloop run stopped", "round limit exceeded"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(rec.got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(rec.got))
	}
	want := Notification{Title: "agentloop run stopped", Message: "round limit exceeded", Style: StyleAlert}
	if rec.got[0] != want {
		t.Errorf("got %+v, want %+v", rec.got[0], want)
	}
}

func TestForEnginePropagatesErrors(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("delivery failed")}
	if err := ForEngine(rec).Notify(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error from underlying notifier")
	}
}
