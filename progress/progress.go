package progress

import (
	"path/filepath"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/pmmail-to-eml/stats"
)

// Bar manages a progress bar for tracking message conversion.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a new progress bar if logLevel is "info".
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info" && total > 0

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Converting messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages found in archive: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Update advances the progress bar based on the event type. It is meant to
// run as an observer on the stats reporter, which owns the event stream.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeConverted, stats.EventTypeCopied:
		b.pb.Increment()
		if evt.Source != "" {
			b.pb.UpdateTitle("Converting: " + truncate(filepath.Base(evt.Source), 40))
		}
	case stats.EventTypeFailed, stats.EventTypeError:
		b.pb.Increment()
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	b.pb.Stop()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
