// Package session creates disposable X windows for tests and drives focus
// between them.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/focusprobe/internal/logger"
	"github.com/bryanchriswhite/focusprobe/internal/xconn"
)

// DefaultTitles are used when New is given no titles
var DefaultTitles = []string{"window1", "window2", "window3"}

const (
	windowWidth  = 300
	windowHeight = 200
)

// Session owns a set of blank, mapped windows
type Session struct {
	conn *xconn.Conn
	ids  []xconn.Window

	mu        sync.Mutex
	destroyed bool
}

// New creates and maps one window per title. On failure every window created
// so far is destroyed.
func New(conn *xconn.Conn, titles ...string) (*Session, error) {
	if len(titles) == 0 {
		titles = DefaultTitles
	}

	s := &Session{conn: conn}
	for _, title := range titles {
		win, err := CreateWindow(conn, title)
		if err != nil {
			return nil, errors.Join(err, s.Destroy())
		}
		s.ids = append(s.ids, win)
	}

	logger.WithComponent("session").Debug().
		Int("windows", len(s.ids)).
		Msg("Window session created")
	return s, nil
}

// IDs returns the window ids in creation order
func (s *Session) IDs() []xconn.Window {
	return append([]xconn.Window(nil), s.ids...)
}

// Destroy tears down every window. It is safe to call more than once.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil
	}
	s.destroyed = true

	var errs []error
	for _, win := range s.ids {
		if err := DestroyWindow(s.conn, win); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateWindow creates and maps a titled top-level window
func CreateWindow(conn *xconn.Conn, title string) (xconn.Window, error) {
	x := conn.X()
	screen := conn.Screen()

	wid, err := xproto.NewWindowId(x)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate window id: %w", err)
	}

	if err := xproto.CreateWindowChecked(
		x,
		screen.RootDepth,
		wid,
		screen.Root,
		0, 0,
		windowWidth, windowHeight,
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		// no event mask: nobody reads this connection's event queue
		xproto.CwBackPixel,
		[]uint32{screen.WhitePixel},
	).Check(); err != nil {
		return 0, fmt.Errorf("failed to create window %q: %w", title, err)
	}

	win := xconn.Window(wid)
	if err := setTitle(conn, win, title); err != nil {
		xproto.DestroyWindow(x, wid)
		return 0, err
	}

	if err := xproto.MapWindowChecked(x, wid).Check(); err != nil {
		xproto.DestroyWindow(x, wid)
		return 0, fmt.Errorf("failed to map window %q: %w", title, err)
	}

	logger.WithWindow("session", uint32(win)).Debug().
		Str("title", title).
		Msg("Window created")
	return win, nil
}

// setTitle writes WM_NAME, _NET_WM_NAME and WM_CLASS the way GTK does for a
// window named after its program
func setTitle(conn *xconn.Conn, win xconn.Window, title string) error {
	utf8, err := conn.Atom("UTF8_STRING")
	if err != nil {
		return err
	}
	netName, err := conn.Atom("_NET_WM_NAME")
	if err != nil {
		return err
	}

	props := []struct {
		atom  xproto.Atom
		typ   xproto.Atom
		value string
	}{
		{xproto.AtomWmName, xproto.AtomString, title},
		{xproto.Atom(netName), xproto.Atom(utf8), title},
		{xproto.AtomWmClass, xproto.AtomString, WMClass(title)},
	}
	for _, p := range props {
		if err := xproto.ChangePropertyChecked(
			conn.X(),
			xproto.PropModeReplace,
			xproto.Window(win),
			p.atom,
			p.typ,
			8,
			uint32(len(p.value)),
			[]byte(p.value),
		).Check(); err != nil {
			return fmt.Errorf("failed to set title of window %s: %w", win, err)
		}
	}
	return nil
}

// WMClass builds the WM_CLASS value "instance\0Class\0" for a title
func WMClass(title string) string {
	class := title
	if title != "" {
		r := []rune(title)
		r[0] = unicode.ToUpper(r[0])
		class = string(r)
	}
	return title + "\x00" + class + "\x00"
}

// ParseWMClass splits a WM_CLASS value into instance and class
func ParseWMClass(raw string) (instance, class string) {
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 1 {
		instance = parts[0]
	}
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}

// DestroyWindow destroys a window created by CreateWindow
func DestroyWindow(conn *xconn.Conn, win xconn.Window) error {
	if err := xproto.DestroyWindowChecked(conn.X(), xproto.Window(win)).Check(); err != nil {
		return fmt.Errorf("failed to destroy window %s: %w", win, err)
	}
	return nil
}

// ChangeFocus asks the window manager to activate win via a
// _NET_ACTIVE_WINDOW client message, as a pager would
func ChangeFocus(conn *xconn.Conn, win xconn.Window) error {
	const sourcePager = 2

	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: xproto.Window(win),
		Type:   xproto.Atom(conn.ActiveWindowAtom()),
		Data: xproto.ClientMessageDataUnionData32New([]uint32{
			sourcePager,
			xproto.TimeCurrentTime,
			0, 0, 0,
		}),
	}

	if err := xproto.SendEventChecked(
		conn.X(),
		false,
		xproto.Window(conn.Root()),
		xproto.EventMaskSubstructureRedirect|xproto.EventMaskSubstructureNotify,
		string(ev.Bytes()),
	).Check(); err != nil {
		return fmt.Errorf("failed to activate window %s: %w", win, err)
	}

	logger.WithWindow("session", uint32(win)).Debug().Msg("Focus change requested")
	return nil
}

// CloseWindow kills the X client that owns win
func CloseWindow(conn *xconn.Conn, win xconn.Window) error {
	if err := xproto.KillClientChecked(conn.X(), uint32(win)).Check(); err != nil {
		return fmt.Errorf("failed to kill client of window %s: %w", win, err)
	}
	return nil
}
