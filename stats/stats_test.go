package stats

import (
	"context"
	"errors"
	"testing"
)

// captureStream records subscriptions so a test can drive the consumer with
// its own channel.
type captureStream struct {
	names []string
	subs  []func(context.Context, <-chan Event) error
}

func (c *captureStream) SubscribeStats(name string, fn func(context.Context, <-chan Event) error) {
	c.names = append(c.names, name)
	c.subs = append(c.subs, fn)
}

func TestReporter_SingleConsumerSeesEveryEvent(t *testing.T) {
	stream := &captureStream{}
	observed := 0
	reporter := NewReporter(stream, nil, func(Event) { observed++ })

	// Events travel over a plain channel, not a broadcast bus. With two
	// subscribers each would only receive part of the stream, so the
	// reporter must register exactly one consumer.
	if len(stream.subs) != 1 {
		t.Fatalf("subscriptions = %d, want exactly 1", len(stream.subs))
	}

	events := make(chan Event)
	done := make(chan error, 1)
	go func() { done <- stream.subs[0](context.Background(), events) }()

	const emitted = 200
	for i := 0; i < emitted; i++ {
		events <- Event{Stage: StageConvert, Type: EventTypeConverted}
	}
	close(events)
	if err := <-done; err != nil {
		t.Fatalf("consume returned error: %v", err)
	}

	if got := reporter.Summary().Converted; got != emitted {
		t.Errorf("Summary().Converted = %d, want %d", got, emitted)
	}
	if observed != emitted {
		t.Errorf("observer saw %d events, want %d", observed, emitted)
	}
}

func TestReporter_CountsByType(t *testing.T) {
	stream := &captureStream{}
	reporter := NewReporter(stream, nil)

	events := make(chan Event, 8)
	events <- Event{Stage: StageScan, Type: EventTypeScanned}
	events <- Event{Stage: StageConvert, Type: EventTypeConverted}
	events <- Event{Stage: StageConvert, Type: EventTypeCopied}
	events <- Event{Stage: StageConvert, Type: EventTypeFailed}
	events <- Event{Stage: StageConvert, Type: EventTypeError, Err: errors.New("boom")}
	close(events)

	if err := stream.subs[0](context.Background(), events); err != nil {
		t.Fatalf("consume returned error: %v", err)
	}

	s := reporter.Summary()
	if s.Scanned != 1 || s.Converted != 1 || s.Copied != 1 || s.Failed != 1 || s.Errors != 1 {
		t.Errorf("summary = %+v, want one of each", s)
	}
	if s.LastError == nil {
		t.Error("expected the last error to be recorded")
	}
}
