package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ship-commander/autoaccept/internal/events"
)

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func TestPublisherLogsAndPublishes(t *testing.T) {
	bus := events.New(events.WithLogger(nopLogger{}))
	received := make(chan events.Event, 1)
	bus.Subscribe(events.EventTypeNotification, func(event events.Event) {
		received <- event
	})

	var buf bytes.Buffer
	logger := log.New(&buf)
	publisher := NewPublisher(bus, logger)
	publisher.Notify(context.Background(), Notification{
		Kind:    KindSetupRequired,
		Level:   LevelWarning,
		Message: "Auto Accept cannot reach the editor.",
	})

	select {
	case event := <-received:
		n, ok := event.Payload.(Notification)
		if !ok {
			t.Fatalf("payload type = %T, want Notification", event.Payload)
		}
		if n.Kind != KindSetupRequired || event.Severity != events.SeverityWarn {
			t.Fatalf("event = %#v, want setup_required warning", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification event")
	}

	if !strings.Contains(buf.String(), "cannot reach the editor") {
		t.Fatalf("log output missing message: %q", buf.String())
	}
}

func TestPublisherIgnoresEmptyMessages(t *testing.T) {
	var buf bytes.Buffer
	NewPublisher(nil, log.New(&buf)).Notify(context.Background(), Notification{Kind: KindAwayActions})
	if buf.Len() != 0 {
		t.Fatalf("empty notification was logged: %q", buf.String())
	}
}

func TestFuncAdapter(t *testing.T) {
	var got Notification
	var notifier Notifier = Func(func(_ context.Context, n Notification) { got = n })
	notifier.Notify(context.Background(), Notification{Message: "hi"})
	if got.Message != "hi" {
		t.Fatalf("message = %q, want hi", got.Message)
	}
}
