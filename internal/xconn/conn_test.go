package xconn_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/focusprobe/internal/xconn"
	"github.com/bryanchriswhite/focusprobe/internal/xconn/xtest"
)

func TestMain(m *testing.M) {
	os.Exit(xtest.Main(m))
}

func createWindow(t *testing.T, conn *xconn.Conn) xconn.Window {
	t.Helper()
	x := conn.X()
	wid, err := xproto.NewWindowId(x)
	require.NoError(t, err)

	screen := conn.Screen()
	require.NoError(t, xproto.CreateWindowChecked(
		x, screen.RootDepth, wid, screen.Root,
		0, 0, 50, 50, 0,
		xproto.WindowClassInputOutput, screen.RootVisual,
		0, nil,
	).Check())
	t.Cleanup(func() { xproto.DestroyWindow(x, wid) })
	return xconn.Window(wid)
}

func TestOpacityRoundTrip(t *testing.T) {
	conn := xtest.Dial(t)
	win := createWindow(t, conn)

	got, err := conn.Opacity(win)
	require.NoError(t, err)
	assert.Equal(t, xconn.OpacityUnset, got)

	want := xconn.OpacityFromFraction(0.5)
	require.NoError(t, conn.SetOpacity(win, want))
	got, err = conn.Opacity(win)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, conn.DeleteOpacity(win))
	got, err = conn.Opacity(win)
	require.NoError(t, err)
	assert.Equal(t, xconn.OpacityUnset, got)
}

func TestNextEventSeesPropertyChange(t *testing.T) {
	conn := xtest.Dial(t)
	win := createWindow(t, conn)
	require.NoError(t, conn.WatchProperties(win))

	require.NoError(t, conn.SetOpacity(win, xconn.OpacityFromFraction(0.3)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		ev, err := conn.NextEvent(ctx)
		require.NoError(t, err)
		if ev.Kind == xconn.EventPropertyNotify && ev.Atom == conn.OpacityAtom() {
			assert.Equal(t, win, ev.Window)
			return
		}
	}
}

func TestNextEventHonoursContext(t *testing.T) {
	conn := xtest.Dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := conn.NextEvent(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
