// Package focuswait provides a drop-in replacement for a daemon's
// "wait until the active window changes" primitive that ends the run after a
// fixed number of calls, turning an endless event loop into a bounded one.
package focuswait

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/logger"
	"github.com/bryanchriswhite/focusprobe/internal/xconn"
)

var (
	// ErrBudgetExhausted is returned by the call that reaches limit-1
	ErrBudgetExhausted = errors.New("focus wait budget exhausted")
	ErrInvalidLimit    = errors.New("focus wait limit must be positive")
)

// EventSource yields protocol notifications and knows the active-window atom
type EventSource interface {
	NextEvent(ctx context.Context) (xconn.Event, error)
	ActiveWindowAtom() xconn.Atom
}

// Func is the shape of a wait-for-focus-shift primitive
type Func func(ctx context.Context) error

// Option configures a Waiter
type Option func(*Waiter)

// WithExit makes the terminating call end the process with code instead of
// returning ErrBudgetExhausted. Use it for end-to-end runs that assert on the
// exit status.
func WithExit(code int) Option {
	return func(w *Waiter) {
		w.exit = func() { os.Exit(code) }
	}
}

// WithExitFunc is WithExit with a custom terminator
func WithExitFunc(fn func()) Option {
	return func(w *Waiter) {
		w.exit = fn
	}
}

// WithTimeout bounds each wait for a matching event. Zero blocks until one
// arrives or the context passed to Wait is done.
func WithTimeout(d time.Duration) Option {
	return func(w *Waiter) {
		w.timeout = d
	}
}

// Waiter counts its invocations and, on the (limit-1)th, ends the run
// instead of waiting. Every other call blocks until a PropertyNotify for the
// active-window atom arrives, so limit-2 focus cycles complete in total.
// A limit of 1 never terminates.
//
// A Waiter is meant to be called from a single goroutine.
type Waiter struct {
	limit   int
	calls   atomic.Int64
	src     EventSource
	owned   *xconn.Conn
	exit    func()
	timeout time.Duration
}

// New builds a waiter over an existing event source, which the caller keeps
// ownership of
func New(limit int, src EventSource, opts ...Option) (*Waiter, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	w := &Waiter{
		limit: limit,
		src:   src,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dial opens a dedicated X connection on display, subscribes to property
// changes on its root window and builds a waiter over it. Close releases the
// connection.
func Dial(display string, limit int, opts ...Option) (*Waiter, error) {
	conn, err := xconn.Dial(display)
	if err != nil {
		return nil, err
	}
	if err := conn.WatchProperties(conn.Root()); err != nil {
		conn.Close()
		return nil, err
	}

	w, err := New(limit, conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	w.owned = conn
	return w, nil
}

// Close releases the connection opened by Dial
func (w *Waiter) Close() error {
	if w.owned == nil {
		return nil
	}
	err := w.owned.Close()
	w.owned = nil
	return err
}

// Limit returns the configured invocation budget
func (w *Waiter) Limit() int {
	return w.limit
}

// Calls returns how many times Wait has been invoked
func (w *Waiter) Calls() int {
	return int(w.calls.Load())
}

// Wait is one invocation of the focus-shift primitive
func (w *Waiter) Wait(ctx context.Context) error {
	n := int(w.calls.Add(1))
	log := logger.WithComponent("focuswait")

	if n == w.limit-1 {
		log.Info().
			Int("call", n).
			Int("limit", w.limit).
			Msg("Focus wait budget exhausted")
		if w.exit != nil {
			w.exit()
		}
		return ErrBudgetExhausted
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	active := w.src.ActiveWindowAtom()
	for {
		ev, err := w.src.NextEvent(ctx)
		if err != nil {
			return fmt.Errorf("waiting for focus shift (call %d): %w", n, err)
		}
		if ev.Kind == xconn.EventPropertyNotify && ev.Atom == active {
			log.Debug().Int("call", n).Msg("Focus shifted")
			return nil
		}
	}
}

// Func adapts the waiter to the Func signature
func (w *Waiter) Func() Func {
	return w.Wait
}

// Run drives a daemon-style loop: wait for a focus shift, then handle it. It
// returns nil once wait reports ErrBudgetExhausted and any other error from
// wait or onFocus as is.
func Run(ctx context.Context, wait Func, onFocus func(ctx context.Context) error) error {
	for {
		if err := wait(ctx); err != nil {
			if errors.Is(err, ErrBudgetExhausted) {
				return nil
			}
			return err
		}
		if err := onFocus(ctx); err != nil {
			return err
		}
	}
}
