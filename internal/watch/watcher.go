// Package watch records how a window's opacity changes over a short
// observation window.
//
// An OpacityWatcher samples _NET_WM_WINDOW_OPACITY in a tight loop on its own
// goroutine and keeps the ordered values it saw, collapsing immediate
// repeats. Report stops the loop and returns the trace; a watcher is
// single-use.
package watch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/logger"
	"github.com/bryanchriswhite/focusprobe/internal/xconn"
)

// DefaultGracePeriod gives the X server time to apply in-flight requests
// before the sampling loop is stopped
const DefaultGracePeriod = 10 * time.Millisecond

var (
	ErrAlreadyStarted = errors.New("watcher already started")
	ErrStopped        = errors.New("watcher already stopped")
)

// PropertySource reads a window's current opacity
type PropertySource interface {
	Opacity(win xconn.Window) (xconn.Opacity, error)
}

// Trace is the ordered record of observed opacities. Consecutive entries
// are never equal.
type Trace []xconn.Opacity

// Last returns the most recent value
func (t Trace) Last() xconn.Opacity {
	return t[len(t)-1]
}

// Fractions converts the trace to 0..1 values
func (t Trace) Fractions() []float64 {
	out := make([]float64, len(t))
	for i, o := range t {
		out[i] = o.Fraction()
	}
	return out
}

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Option configures an OpacityWatcher
type Option func(*OpacityWatcher)

// WithGracePeriod overrides DefaultGracePeriod
func WithGracePeriod(d time.Duration) Option {
	return func(w *OpacityWatcher) {
		w.grace = d
	}
}

// WithObserver registers fn to receive every trace entry, seed included, in
// order. fn runs on the sampling goroutine and must not block for long.
func WithObserver(fn func(xconn.Opacity)) Option {
	return func(w *OpacityWatcher) {
		w.observer = fn
	}
}

// OpacityWatcher observes a single window
type OpacityWatcher struct {
	src      PropertySource
	window   xconn.Window
	grace    time.Duration
	observer func(xconn.Opacity)

	state atomic.Int32
	stop  atomic.Bool
	done  chan struct{}

	// owned by the sampling goroutine until done is closed
	trace Trace
	err   error

	reportOnce sync.Once
	result     Trace
	resultErr  error
}

// New seeds a watcher with one synchronous sample of win. The window is
// borrowed; the caller keeps it alive until Report returns.
func New(src PropertySource, win xconn.Window, opts ...Option) (*OpacityWatcher, error) {
	w := &OpacityWatcher{
		src:    src,
		window: win,
		grace:  DefaultGracePeriod,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	seed, err := src.Opacity(win)
	if err != nil {
		return nil, fmt.Errorf("failed to sample opacity of window %s: %w", win, err)
	}
	w.trace = Trace{seed}

	logger.WithWindow("watch", uint32(win)).Debug().
		Uint32("seed", uint32(seed)).
		Msg("Watcher seeded")

	return w, nil
}

// Watch is New followed by Start
func Watch(src PropertySource, win xconn.Window, opts ...Option) (*OpacityWatcher, error) {
	w, err := New(src, win, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

// Window returns the observed window
func (w *OpacityWatcher) Window() xconn.Window {
	return w.window
}

// Start launches the sampling goroutine
func (w *OpacityWatcher) Start() error {
	if !w.state.CompareAndSwap(stateIdle, stateRunning) {
		if w.state.Load() == stateStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	go w.run()
	return nil
}

func (w *OpacityWatcher) run() {
	defer close(w.done)
	defer w.state.Store(stateStopped)

	if w.observer != nil {
		w.observer(w.trace[0])
	}

	for !w.stop.Load() {
		o, err := w.src.Opacity(w.window)
		if err != nil {
			w.err = fmt.Errorf("failed to sample opacity of window %s: %w", w.window, err)
			logger.WithWindow("watch", uint32(w.window)).Warn().Err(err).Msg("Sampling stopped")
			return
		}
		if o != w.trace.Last() {
			w.trace = append(w.trace, o)
			if w.observer != nil {
				w.observer(o)
			}
		}
	}
}

// Report waits out the grace period, stops the sampling loop, waits for it
// to exit and returns the trace. A sampling error is returned alongside the
// values recorded before it. Later calls return the same result.
func (w *OpacityWatcher) Report() (Trace, error) {
	w.reportOnce.Do(func() {
		time.Sleep(w.grace)
		w.stop.Store(true)

		// never started: nothing will close done for us
		if w.state.CompareAndSwap(stateIdle, stateStopped) {
			close(w.done)
		}
		<-w.done

		w.result = append(Trace(nil), w.trace...)
		w.resultErr = w.err

		logger.WithWindow("watch", uint32(w.window)).Debug().
			Int("changes", len(w.result)-1).
			Msg("Watcher reported")
	})
	return append(Trace(nil), w.result...), w.resultErr
}
