// Package notify delivers trigger events to users over one or more channels:
// email, Telegram and Discord. Delivery is at-most-once per channel; the
// monotonic alert state transition upstream already guarantees an event is
// dispatched only once, so a delivery failure here is logged and dropped
// rather than re-queued.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pricewatch/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs, e.g. "email".
	Name() string
}

// Dispatcher fans a trigger event out to every configured sender, retrying
// each transient failure a bounded number of times.
type Dispatcher struct {
	senders  []Sender
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given senders. Each sender
// gets up to three attempts with exponential backoff starting at one second.
func NewDispatcher(senders []Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		senders:  senders,
		attempts: 3,
		backoff:  time.Second,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch formats ev and delivers it to every sender. A failing sender does
// not block the others; the combined error reports which channels failed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.TriggerEvent) error {
	if len(d.senders) == 0 {
		return nil
	}

	title, message := FormatAlert(ev)

	var failed []string
	for _, s := range d.senders {
		if err := d.sendWithRetry(ctx, s, title, message); err != nil {
			d.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("entity_id", ev.EntityID),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		d.logger.InfoContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("entity_id", ev.EntityID),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, s Sender, title, message string) error {
	var lastErr error
	delay := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		lastErr = s.Send(ctx, title, message)
		if lastErr == nil {
			return nil
		}
		if attempt == d.attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}

// FormatAlert renders a trigger event as a notification title and body.
func FormatAlert(ev domain.TriggerEvent) (title, message string) {
	name := ev.Title
	if name == "" {
		name = ev.Locator
	}
	title = fmt.Sprintf("Price alert: %s", name)

	var b strings.Builder
	fmt.Fprintf(&b, "Condition met: %s\n", ev.Condition)
	if ev.OldPrice != nil {
		fmt.Fprintf(&b, "Price: %s (was %s)\n", ev.NewPrice, *ev.OldPrice)
	} else {
		fmt.Fprintf(&b, "Price: %s\n", ev.NewPrice)
	}
	fmt.Fprintf(&b, "Checked at: %s\n", ev.At.Format(time.RFC1123))
	fmt.Fprintf(&b, "%s", ev.Locator)
	return title, b.String()
}
