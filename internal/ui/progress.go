package ui

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/gw31415/rsplug.nvim/internal/progressbus"
)

// ProgressConfig controls how the console progress subscriber renders.
// Mirrors cmd/cie's globals-driven bar suppression: JSON or quiet mode
// disables bars entirely.
type ProgressConfig struct {
	Quiet bool
	JSON  bool
}

// NewProgressConfig derives a ProgressConfig from CLI globals; --json
// output always implies quiet, since interleaved bar redraws would
// corrupt machine-readable output.
func NewProgressConfig(quiet, json bool) ProgressConfig {
	return ProgressConfig{Quiet: quiet || json, JSON: json}
}

// NewProgressBar creates a progressbar.ProgressBar for one pipeline stage,
// or a no-op bar when cfg suppresses rendering.
func NewProgressBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if cfg.Quiet {
		return progressbar.DefaultSilent(total)
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(65),
	)
}

// ConsoleSubscriber drains a progressbus.Bus subscription and renders a
// progress bar per task id, printing a failure line when a task reaches
// StageFailed. Run blocks until the subscription channel is closed
// (Bus.Unsubscribe/Close), so callers should run it in its own goroutine.
type ConsoleSubscriber struct {
	cfg  ProgressConfig
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

// NewConsoleSubscriber creates a subscriber rendering under cfg.
func NewConsoleSubscriber(cfg ProgressConfig) *ConsoleSubscriber {
	return &ConsoleSubscriber{cfg: cfg, bars: map[string]*progressbar.ProgressBar{}}
}

// Run consumes events from ch until it is closed.
func (c *ConsoleSubscriber) Run(ch <-chan progressbus.Event) {
	for ev := range ch {
		c.handle(ev)
	}
}

func (c *ConsoleSubscriber) handle(ev progressbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Stage {
	case progressbus.StageDone, progressbus.StageSkipped:
		if bar, ok := c.bars[ev.ID]; ok {
			_ = bar.Finish()
			delete(c.bars, ev.ID)
		}
		return
	case progressbus.StageFailed:
		if bar, ok := c.bars[ev.ID]; ok {
			_ = bar.Clear()
			delete(c.bars, ev.ID)
		}
		if !c.cfg.Quiet {
			Failuref(ev.ID, string(ev.Stage), "%s", ev.Message)
		}
		return
	}

	bar, ok := c.bars[ev.ID]
	if !ok {
		total := ev.Total
		if total <= 0 {
			total = -1
		}
		bar = NewProgressBar(c.cfg, total, fmt.Sprintf("%s: %s", ev.ID, ev.Stage))
		c.bars[ev.ID] = bar
	}
	if ev.Total > 0 {
		_ = bar.Set64(ev.Current)
	} else {
		_ = bar.Add(1)
	}
}
