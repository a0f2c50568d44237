package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/pmmail-to-eml/config"
	"github.com/dhcgn/pmmail-to-eml/model"
	"github.com/dhcgn/pmmail-to-eml/stats"
)

type StageFunc func(context.Context) error

// Runner wires the scanner and converter stages together through channels
// and fans events out to the stats subscribers. A stage error cancels the
// whole pipeline; per-message problems never reach here.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	entries chan model.Entry
	events  chan stats.Event

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEntriesOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(chan model.Entry, 32),
		events:  make(chan stats.Event, 128),
	}
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) EntriesWriter() chan<- model.Entry {
	return r.entries
}

func (r *Runner) Entries() <-chan model.Entry {
	return r.entries
}

func (r *Runner) CloseEntries() {
	r.closeEntriesOnce.Do(func() {
		close(r.entries)
	})
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
