package notify

import (
	"context"
	"errors"

	"github.com/agentloop/agentloop/internal/llm"
)

// Style selects how intrusive a notification should be.
type Style string

const (
	StyleBanner Style = "banner"
	StyleAlert  Style = "alert"
)

// Notification is one message for a human.
type Notification struct {
	Title    string
	Subtitle string
	Message  string
	Style    Style
}

// Notifier delivers notifications over one channel.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every channel. All channels are attempted;
// the errors come back joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops notifications.
type Nop struct{}

func (Nop) Send(context.Context, Notification) error { return nil }

// ForEngine adapts a Notifier to the engine's contract. Engine
// notifications always use the alert style.
func ForEngine(n Notifier) llm.Notifier {
	return engineNotifier{n: n}
}

type engineNotifier struct {
	n Notifier
}

func (e engineNotifier) Notify(ctx context.Context, title, message string) error {
	return e.n.Send(ctx, Notification{Title: title, Message: message, Style: StyleAlert})
}
