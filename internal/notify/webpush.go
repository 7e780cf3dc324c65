package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// webPushTTL bounds how long push services hold an undelivered message, in seconds.
const webPushTTL = 3600

// WebPush delivers notifications to browser push subscriptions using VAPID.
// The payload is JSON; the receiving service worker decides how to render it.
type WebPush struct {
	subs []webpush.Subscription
	opts webpush.Options
}

// NewWebPush builds a notifier for the given subscriptions. Each subscription
// is the JSON blob handed out by PushManager.subscribe in the browser.
func NewWebPush(subscriber, vapidPublicKey, vapidPrivateKey string, subscriptions []string) (*WebPush, error) {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil, errors.New("webpush VAPID keys are required")
	}
	if len(subscriptions) == 0 {
		return nil, errors.New("webpush needs at least one subscription")
	}
	subs := make([]webpush.Subscription, 0, len(subscriptions))
	for i, raw := range subscriptions {
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return nil, fmt.Errorf("parse webpush subscription %d: %w", i, err)
		}
		if sub.Endpoint == "" {
			return nil, fmt.Errorf("webpush subscription %d has no endpoint", i)
		}
		subs = append(subs, sub)
	}
	return &WebPush{
		subs: subs,
		opts: webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  vapidPublicKey,
			VAPIDPrivateKey: vapidPrivateKey,
			TTL:             webPushTTL,
		},
	}, nil
}

type webPushPayload struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Body     string `json:"body"`
	Style    string `json:"style"`
}

// Send pushes the notification to every subscription. Dead subscriptions
// (HTTP 404 or 410) surface as errors like any other failure; pruning them
// is up to the operator.
func (w *WebPush) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(webPushPayload{
		Title:    n.Title,
		Subtitle: n.Subtitle,
		Body:     n.Message,
		Style:    string(n.Style),
	})
	if err != nil {
		return fmt.Errorf("encode webpush payload: %w", err)
	}
	opts := w.opts
	opts.Urgency = urgencyFor(n.Style)
	var errs []error
	for i := range w.subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &w.subs[i], &opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("webpush to subscription %d: %w", i, err))
			continue
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			errs = append(errs, fmt.Errorf("webpush to subscription %d: HTTP %d", i, resp.StatusCode))
		}
		resp.Body.Close()
	}
	return errors.Join(errs...)
}

func urgencyFor(s Style) webpush.Urgency {
	if s == StyleAlert {
		return webpush.UrgencyHigh
	}
	return webpush.UrgencyNormal
}
