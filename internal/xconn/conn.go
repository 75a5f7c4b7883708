package xconn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/focusprobe/internal/logger"
)

const (
	AtomWindowOpacity = "_NET_WM_WINDOW_OPACITY"
	AtomActiveWindow  = "_NET_ACTIVE_WINDOW"
)

// ErrClosed is returned by NextEvent once the X connection has gone away
var ErrClosed = errors.New("x connection closed")

// Conn is a connection to the X server with the atoms the harness needs
// already interned. It is safe for concurrent use.
type Conn struct {
	x      *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo

	opacityAtom xproto.Atom
	activeAtom  xproto.Atom

	atomMu sync.Mutex
	atoms  map[string]xproto.Atom

	waitEvent func() (xgb.Event, xgb.Error)
	pumpOnce  sync.Once
	events    chan eventResult

	closeOnce sync.Once
	closing   chan struct{}
}

type eventResult struct {
	ev  Event
	err error
}

// Dial connects to the given display ("" uses $DISPLAY)
func Dial(display string) (*Conn, error) {
	var (
		x   *xgb.Conn
		err error
	)
	if display == "" {
		x, err = xgb.NewConn()
	} else {
		x, err = xgb.NewConnDisplay(display)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(x)
	screen := setup.DefaultScreen(x)

	c := &Conn{
		x:      x,
		root:   screen.Root,
		screen: screen,
		atoms:  make(map[string]xproto.Atom),
		events:    make(chan eventResult, 64),
		closing:   make(chan struct{}),
		waitEvent: x.WaitForEvent,
	}

	if c.opacityAtom, err = c.intern(AtomWindowOpacity); err != nil {
		x.Close()
		return nil, err
	}
	if c.activeAtom, err = c.intern(AtomActiveWindow); err != nil {
		x.Close()
		return nil, err
	}

	logger.WithComponent("xconn").Debug().
		Str("display", display).
		Uint32("root", uint32(c.root)).
		Uint32("opacity_atom", uint32(c.opacityAtom)).
		Uint32("active_atom", uint32(c.activeAtom)).
		Msg("Connected to X server")

	return c, nil
}

// Close closes the X connection and stops the event pump. It is safe to call
// more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		if c.x != nil {
			closeX(c.x)
		}
	})
	return nil
}

// closeX closes an xgb connection that xgb may already have closed itself
// after a read error; xgb.Conn.Close panics on a second call.
func closeX(x *xgb.Conn) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("xconn").Debug().
				Interface("panic", r).
				Msg("X connection was already closed")
		}
	}()
	x.Close()
}

// X returns the underlying xgb connection
func (c *Conn) X() *xgb.Conn {
	return c.x
}

// Root returns the root window of the default screen
func (c *Conn) Root() Window {
	return Window(c.root)
}

// Screen returns the default screen
func (c *Conn) Screen() *xproto.ScreenInfo {
	return c.screen
}

// ActiveWindowAtom returns the atom for _NET_ACTIVE_WINDOW
func (c *Conn) ActiveWindowAtom() Atom {
	return Atom(c.activeAtom)
}

// OpacityAtom returns the atom for _NET_WM_WINDOW_OPACITY
func (c *Conn) OpacityAtom() Atom {
	return Atom(c.opacityAtom)
}

// Atom interns an atom by name, caching the result
func (c *Conn) Atom(name string) (Atom, error) {
	a, err := c.intern(name)
	return Atom(a), err
}

func (c *Conn) intern(name string) (xproto.Atom, error) {
	c.atomMu.Lock()
	defer c.atomMu.Unlock()

	if a, ok := c.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(c.x, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern atom %s: %w", name, err)
	}
	c.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// Property fetches up to 63 32-bit units of a property, as xcb clients do
// for small CARDINAL/WINDOW values
func (c *Conn) Property(win Window, atom Atom) (*xproto.GetPropertyReply, error) {
	reply, err := xproto.GetProperty(
		c.x,
		false,
		xproto.Window(win),
		xproto.Atom(atom),
		xproto.GetPropertyTypeAny,
		0,
		63,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get property %d of window 0x%x: %w", atom, uint32(win), err)
	}
	return reply, nil
}

// Opacity returns the _NET_WM_WINDOW_OPACITY of a window, or OpacityUnset
// when the window has no such property
func (c *Conn) Opacity(win Window) (Opacity, error) {
	reply, err := c.Property(win, Atom(c.opacityAtom))
	if err != nil {
		return 0, err
	}
	v, ok := DecodeCardinal(reply.Value)
	if !ok {
		return OpacityUnset, nil
	}
	return Opacity(v), nil
}

// SetOpacity replaces the _NET_WM_WINDOW_OPACITY property, blocking until the
// server has processed the request. OpacityUnset deletes the property.
func (c *Conn) SetOpacity(win Window, o Opacity) error {
	if !o.IsSet() {
		return c.DeleteOpacity(win)
	}
	err := xproto.ChangePropertyChecked(
		c.x,
		xproto.PropModeReplace,
		xproto.Window(win),
		c.opacityAtom,
		xproto.AtomCardinal,
		32,
		1,
		EncodeCardinal(uint32(o)),
	).Check()
	if err != nil {
		return fmt.Errorf("failed to set opacity on window 0x%x: %w", uint32(win), err)
	}
	return nil
}

// DeleteOpacity removes the _NET_WM_WINDOW_OPACITY property
func (c *Conn) DeleteOpacity(win Window) error {
	if err := xproto.DeletePropertyChecked(c.x, xproto.Window(win), c.opacityAtom).Check(); err != nil {
		return fmt.Errorf("failed to delete opacity on window 0x%x: %w", uint32(win), err)
	}
	return nil
}

// ActiveWindow reads _NET_ACTIVE_WINDOW from the root window
func (c *Conn) ActiveWindow() (Window, error) {
	reply, err := c.Property(Window(c.root), Atom(c.activeAtom))
	if err != nil {
		return 0, err
	}
	v, ok := DecodeCardinal(reply.Value)
	if !ok {
		return 0, nil
	}
	return Window(v), nil
}

// WatchProperties subscribes this connection to PropertyNotify events on a
// window. KeyPress is included so an interactive run can be interrupted.
func (c *Conn) WatchProperties(win Window) error {
	const eventMask = xproto.EventMaskPropertyChange | xproto.EventMaskKeyPress
	if err := xproto.ChangeWindowAttributesChecked(
		c.x,
		xproto.Window(win),
		xproto.CwEventMask,
		[]uint32{eventMask},
	).Check(); err != nil {
		return fmt.Errorf("failed to set event mask: %w", err)
	}
	return nil
}

// NextEvent blocks until the next event arrives or ctx is done. After Close
// it returns ErrClosed, dropping any events still buffered.
func (c *Conn) NextEvent(ctx context.Context) (Event, error) {
	select {
	case <-c.closing:
		return Event{}, ErrClosed
	default:
	}
	c.pumpOnce.Do(func() { go c.pump() })

	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-c.closing:
		return Event{}, ErrClosed
	case r, ok := <-c.events:
		if !ok {
			return Event{}, ErrClosed
		}
		return r.ev, r.err
	}
}

// pump moves events off the xgb queue so NextEvent can honour cancellation
func (c *Conn) pump() {
	log := logger.WithComponent("xconn")
	defer close(c.events)

	for {
		ev, xerr := c.waitEvent()
		if ev == nil && xerr == nil {
			log.Debug().Msg("X event queue closed")
			return
		}

		var r eventResult
		if xerr != nil {
			r.err = fmt.Errorf("x protocol error: %v", xerr)
		} else {
			r.ev = translate(ev)
		}

		select {
		case <-c.closing:
			log.Debug().Msg("Event pump stopped")
			return
		case c.events <- r:
		}
	}
}

func translate(ev xgb.Event) Event {
	switch e := ev.(type) {
	case xproto.PropertyNotifyEvent:
		return Event{
			Kind:    EventPropertyNotify,
			Window:  Window(e.Window),
			Atom:    Atom(e.Atom),
			Deleted: e.State == xproto.PropertyDelete,
		}
	default:
		return Event{Kind: EventOther, Detail: ev.String()}
	}
}
