// Package xtest opens X connections for tests that need a live display.
//
// Packages with X11 tests run them against a private Xvfb server when
// $DISPLAY is unset:
//
//	func TestMain(m *testing.M) { os.Exit(xtest.Main(m)) }
//
// Without Xvfb on PATH those tests skip.
package xtest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/focusprobe/internal/logger"
	"github.com/bryanchriswhite/focusprobe/internal/xconn"
)

// xvfbStartTimeout bounds how long Main waits for Xvfb to report its display
const xvfbStartTimeout = 10 * time.Second

// Main runs the tests of a package, starting Xvfb first when no display is
// configured. It returns the exit code for os.Exit.
func Main(m *testing.M) int {
	if os.Getenv("DISPLAY") != "" {
		return m.Run()
	}

	stop, err := startXvfb()
	if err != nil {
		logger.WithComponent("xtest").Warn().Err(err).Msg("No X server; X11 tests will skip")
		return m.Run()
	}
	defer stop()
	return m.Run()
}

// startXvfb launches Xvfb on a free display number and points $DISPLAY at it
func startXvfb() (func(), error) {
	path, err := exec.LookPath("Xvfb")
	if err != nil {
		return nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// -displayfd makes Xvfb pick an unused display and write its number to fd 3
	cmd := exec.Command(path, "-displayfd", "3", "-screen", "0", "1024x768x24", "-nolisten", "tcp")
	cmd.ExtraFiles = []*os.File{w}
	if err := cmd.Start(); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to start Xvfb: %w", err)
	}
	w.Close()

	stop := func() {
		cmd.Process.Kill()
		cmd.Wait()
	}

	display := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(r).ReadString('\n')
		display <- strings.TrimSpace(line)
	}()

	select {
	case n := <-display:
		if n == "" {
			stop()
			return nil, errors.New("Xvfb exited without reporting a display")
		}
		os.Setenv("DISPLAY", ":"+n)
		logger.WithComponent("xtest").Debug().Str("display", ":"+n).Msg("Xvfb started")
	case <-time.After(xvfbStartTimeout):
		stop()
		return nil, errors.New("timed out waiting for Xvfb")
	}

	return func() {
		stop()
		os.Unsetenv("DISPLAY")
	}, nil
}

// Dial connects to $DISPLAY, skipping the test when no display is available
func Dial(t testing.TB) *xconn.Conn {
	t.Helper()
	if os.Getenv("DISPLAY") == "" {
		t.Skip("DISPLAY not set; skipping X11 test")
	}
	conn, err := xconn.Dial("")
	if err != nil {
		t.Skipf("X server unavailable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
