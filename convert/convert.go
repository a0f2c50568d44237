// Package convert is the conversion orchestrator: it classifies each
// discovered entry, dispatches the matching decoder, writes exactly one
// destination artifact, and records exactly one outcome per entry.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dhcgn/pmmail-to-eml/classify"
	"github.com/dhcgn/pmmail-to-eml/eml"
	"github.com/dhcgn/pmmail-to-eml/model"
	"github.com/dhcgn/pmmail-to-eml/msgfile"
	"github.com/dhcgn/pmmail-to-eml/names"
	"github.com/dhcgn/pmmail-to-eml/runlog"
	"github.com/dhcgn/pmmail-to-eml/runner"
	"github.com/dhcgn/pmmail-to-eml/stats"
	"github.com/dhcgn/pmmail-to-eml/textmail"
)

type Options struct {
	Target  string
	DryRun  bool
	Workers int
}

// Converter processes entries one at a time. Decode problems fall back to a
// verbatim copy of the source; only an unwritable destination aborts the
// run, since continuing would silently produce an incomplete archive.
type Converter struct {
	opts   Options
	sink   runlog.Sink
	logger *slog.Logger
	runner *runner.Runner

	destMu   sync.Mutex
	destSeen map[string]int
}

// New creates a Converter without pipeline wiring, mainly for tests.
func New(opts Options, sink runlog.Sink, logger *slog.Logger) (*Converter, error) {
	if strings.TrimSpace(opts.Target) == "" {
		return nil, fmt.Errorf("target directory is empty")
	}
	if sink == nil {
		return nil, fmt.Errorf("run log sink must not be nil")
	}
	return &Converter{opts: opts, sink: sink, logger: logger, destSeen: map[string]int{}}, nil
}

// NewStage creates a Converter and registers its worker stages on the
// runner. Each worker owns one message at a time; no message is split
// across workers.
func NewStage(opts Options, r *runner.Runner, sink runlog.Sink, logger *slog.Logger) (*Converter, error) {
	converter, err := New(opts, sink, logger)
	if err != nil {
		return nil, err
	}
	converter.runner = r

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		r.AddStage(fmt.Sprintf("convert-%d", i), converter.run)
	}
	return converter, nil
}

func (c *Converter) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-c.runner.Entries():
			if !ok {
				return nil
			}

			outcome, err := c.Process(entry)
			c.record(outcome)
			if err != nil {
				return fmt.Errorf("write %s: %w", entry.SourcePath, err)
			}
		}
	}
}

// Process converts a single entry: read, classify, decode, write. The
// returned error is non-nil only for destination write failures, which
// abort the whole run. Every call yields exactly one outcome.
func (c *Converter) Process(entry model.Entry) (model.Outcome, error) {
	raw, err := os.ReadFile(entry.SourcePath)
	if err != nil {
		return model.Outcome{
			Tag:    model.OutcomeFailed,
			Entry:  entry,
			Reason: fmt.Sprintf("read source: %v", err),
		}, nil
	}

	prefix := raw
	if len(prefix) > classify.SniffLimit {
		prefix = prefix[:classify.SniffLimit]
	}

	switch classify.Detect(prefix) {
	case model.StructuredContainer:
		msg, decErr := msgfile.Decode(raw, c.logger)
		if decErr != nil {
			return c.copyRaw(entry, raw, decErr.Error())
		}
		return c.writeMessage(entry, msg, raw)

	case model.PlainText:
		return c.writeMessage(entry, textmail.Decode(raw), raw)

	default:
		return c.copyRaw(entry, raw, "")
	}
}

func (c *Converter) writeMessage(entry model.Entry, msg *model.Message, raw []byte) (model.Outcome, error) {
	out, err := eml.Serialize(msg)
	if err != nil {
		// Serialization trouble is recovered like a decode failure: the
		// original bytes still reach the destination.
		return c.copyRaw(entry, raw, fmt.Sprintf("serialize: %v", err))
	}

	dest := c.uniqueDest(entry.DestDir, convertedName(entry.SourcePath))
	if err := c.write(dest, out); err != nil {
		return model.Outcome{
			Tag:    model.OutcomeFailed,
			Entry:  entry,
			Reason: err.Error(),
		}, err
	}

	return model.Outcome{Tag: model.OutcomeConverted, Entry: entry, DestPath: dest}, nil
}

func (c *Converter) copyRaw(entry model.Entry, raw []byte, reason string) (model.Outcome, error) {
	dest := c.uniqueDest(entry.DestDir, names.Sanitize(filepath.Base(entry.SourcePath)))
	if err := c.write(dest, raw); err != nil {
		return model.Outcome{
			Tag:    model.OutcomeFailed,
			Entry:  entry,
			Reason: err.Error(),
		}, err
	}

	return model.Outcome{
		Tag:      model.OutcomeCopied,
		Entry:    entry,
		DestPath: dest,
		Reason:   reason,
	}, nil
}

func (c *Converter) write(dest string, data []byte) error {
	if c.opts.DryRun {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write destination file: %w", err)
	}
	return nil
}

func (c *Converter) record(o model.Outcome) {
	if err := c.sink.Append(runlog.Line(o)); err != nil && c.logger != nil {
		c.logger.Warn("run log append failed", "source", o.Entry.SourcePath, "err", err)
	}

	if c.runner == nil {
		return
	}
	evt := stats.Event{Stage: stats.StageConvert, Source: o.Entry.SourcePath}
	switch o.Tag {
	case model.OutcomeConverted:
		evt.Type = stats.EventTypeConverted
	case model.OutcomeCopied:
		evt.Type = stats.EventTypeCopied
		evt.Detail = o.Reason
	case model.OutcomeFailed:
		evt.Type = stats.EventTypeFailed
		evt.Err = fmt.Errorf("%s: %s", o.Entry.SourcePath, o.Reason)
	}
	c.runner.EmitEvent(evt)
}

// convertedName swaps the source extension for .eml, sanitized for the
// destination filesystem.
func convertedName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return names.Sanitize(base) + eml.Extension
}

// uniqueDest disambiguates destination paths whose sanitized names collide,
// the same way attachment names are handled: a.eml, a-1.eml, ... Keys are
// case-insensitive so two sources differing only in case never share an
// artifact, even on case-preserving filesystems.
func (c *Converter) uniqueDest(dir, name string) string {
	c.destMu.Lock()
	defer c.destMu.Unlock()

	key := strings.ToLower(filepath.Join(dir, name))
	n, taken := c.destSeen[key]
	if !taken {
		c.destSeen[key] = 0
		return filepath.Join(dir, name)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := n + 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		candKey := strings.ToLower(filepath.Join(dir, candidate))
		if _, exists := c.destSeen[candKey]; !exists {
			c.destSeen[key] = i
			c.destSeen[candKey] = 0
			return filepath.Join(dir, candidate)
		}
	}
}
