package cli

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

var barTheme = progressbar.Theme{
	Saucer:        "=",
	SaucerHead:    ">",
	SaucerPadding: " ",
	BarStart:      "[",
	BarEnd:        "]",
}

// Progress is a counted progress bar. A nil *Progress does nothing.
type Progress struct {
	w    io.Writer
	desc string
	bar  *progressbar.ProgressBar
}

// NewProgress returns a bar writing to w, or nil when disabled.
func NewProgress(w io.Writer, enabled bool, desc string) *Progress {
	if !enabled {
		return nil
	}
	return &Progress{w: w, desc: desc}
}

// Start shows the bar for total units.
func (p *Progress) Start(total int) {
	if p == nil || total <= 0 {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(p.desc),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(barTheme),
	)
}

// Increment advances the bar by one unit.
func (p *Progress) Increment() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Add(1)
}

// Finish completes and clears the bar.
func (p *Progress) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

// DefaultProgressEnabled reports whether f is a terminal.
func DefaultProgressEnabled(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Spinner is an indeterminate indicator for stages without a known total.
type Spinner struct {
	bar  *progressbar.ProgressBar
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// StartSpinner starts a spinner on w. When disabled the returned spinner does nothing.
func StartSpinner(w io.Writer, enabled bool, desc string) *Spinner {
	s := &Spinner{done: make(chan struct{})}
	if !enabled {
		return s
	}
	s.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(9),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(10),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(barTheme),
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.bar.Add(1)
			case <-s.done:
				_ = s.bar.Finish()
				return
			}
		}
	}()
	return s
}

// Describe changes the spinner's label.
func (s *Spinner) Describe(desc string) {
	if s.bar != nil {
		s.bar.Describe(desc)
	}
}

// Stop clears the spinner and waits for it to finish drawing. Safe to call twice.
func (s *Spinner) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}
