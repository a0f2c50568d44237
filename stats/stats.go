package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageScan    Stage = "scan"
	StageConvert Stage = "convert"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeConverted EventType = "converted"
	EventTypeCopied    EventType = "copied_unknown"
	EventTypeFailed    EventType = "failed"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage  Stage
	Type   EventType
	Source string
	Err    error
	Detail string
}

type Summary struct {
	Scanned   int
	Converted int
	Copied    int
	Failed    int
	Errors    int
	LastError error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"converted", s.Converted,
		"copiedAsUnknown", s.Copied,
		"failed", s.Failed,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeConverted:
		c.summary.Converted++
	case EventTypeCopied:
		c.summary.Copied++
	case EventTypeFailed:
		c.summary.Failed++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter is the single consumer of the event stream. The stream is a
// plain channel, so a second subscriber would steal events rather than see
// copies; observers therefore hook into the one consumer and are invoked
// for every event, after the counters.
type Reporter struct {
	collector *Collector
	observers []func(Event)
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger, observers ...func(Event)) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		observers: observers,
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			r.finish(ctx.Err())
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				r.finish(nil)
				return nil
			}
			r.collector.apply(evt)
			for _, observe := range r.observers {
				observe(evt)
			}
		}
	}
}

func (r *Reporter) finish(cause error) {
	if r.logger == nil {
		return
	}
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if cause != nil {
		r.logger.Debug("stats collection stopped", append(attrs, "err", cause)...)
		return
	}
	r.logger.Info("stats summary", attrs...)
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
